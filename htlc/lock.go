// Package htlc implements the hash-time-locked-contract module (C3): the
// pure rules for admitting, resolving-by-secret, and expiring an in-flight
// lock inside one account, plus the entity-level route index that lets a
// revealed secret propagate across accounts without any signature from the
// revealer. Grounded on lnwallet/channel.go's PaymentDescriptor handling
// of in-flight HTLCs and contractcourt/htlc_timeout_resolver.go's
// secret/expiry resolution split, generalized off of Bitcoin script.
package htlc

import (
	"crypto/sha256"
	"errors"

	"github.com/xlnfinance/xln/xlnwire"
)

var (
	// ErrInsufficientCapacity is returned when the sender's available
	// outCapacity is below the amount an htlc_add would lock.
	ErrInsufficientCapacity = errors.New("htlc: insufficient sender capacity")

	// ErrLockNotFound is returned when a resolve references an unknown
	// lock ID.
	ErrLockNotFound = errors.New("htlc: lock not found")

	// ErrSecretMismatch is returned when a presented secret's hash does
	// not match the lock's hashlock.
	ErrSecretMismatch = errors.New("htlc: secret does not match hashlock")

	// ErrNotExpired is returned when an expiry resolve is attempted
	// before the entity's logical timestamp has reached the lock's
	// expiry.
	ErrNotExpired = errors.New("htlc: lock has not expired")
)

// Lock is an HTLC lock freezing Amount of TokenID on one side of an
// account until a matching pre-image unlocks it or Expiry elapses (§3,
// §4.3).
type Lock struct {
	LockID       xlnwire.LockID
	Hashlock     xlnwire.Hash256
	Amount       xlnwire.Amount
	TokenID      xlnwire.TokenID
	Expiry       uint64
	SenderIsLeft bool
}

// HashSecret returns H(secret), the system's canonical hash of a
// pre-image, per §4.3 ("hashlock = H(secret) where H is the system's
// canonical hash").
func HashSecret(secret [32]byte) xlnwire.Hash256 {
	return sha256.Sum256(secret[:])
}

// ValidateAdd checks that an htlc_add may be admitted: the sender's
// available capacity must be at least amount (§4.3a). This is called
// before the lock is recorded; it does not itself mutate anything.
func ValidateAdd(senderOutCapacity, amount xlnwire.Amount) error {
	if senderOutCapacity.Cmp(amount) < 0 {
		return ErrInsufficientCapacity
	}
	return nil
}

// ResolveBySecret verifies secret against lock.Hashlock and returns the
// signed offdelta shift to apply (§4.3b): positive when the sender is the
// left entity (payment flows left->right, increasing offdelta the way a
// direct_payment from left would), negative when the sender is the right
// entity.
func ResolveBySecret(lock Lock, secret [32]byte) (xlnwire.Amount, error) {
	if HashSecret(secret) != lock.Hashlock {
		log.Warnf("secret mismatch resolving lock %s", lock.LockID)
		return xlnwire.ZeroAmount(), ErrSecretMismatch
	}
	if lock.SenderIsLeft {
		return lock.Amount, nil
	}
	return lock.Amount.Neg(), nil
}

// ResolveByExpiry checks that now has reached lock.Expiry (§4.3c: "valid
// only if current entity timestamp ≥ expiry"). No delta change results;
// the locked amount simply returns to the sender by deleting the lock.
func ResolveByExpiry(lock Lock, now uint64) error {
	if now < lock.Expiry {
		return ErrNotExpired
	}
	return nil
}
