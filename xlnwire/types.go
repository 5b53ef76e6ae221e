// Package xlnwire defines the wire-level value types shared by every XLN
// core package: entity and token identifiers, signed amounts, hashes, and
// the tagged-variant AccountTx/JurisdictionEvent unions that flow between
// the account state machine, the j-block consensus layer, and the L1
// adapter.
package xlnwire

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
)

// EntityID uniquely addresses an entity (a single actor or multisig) on
// the jurisdiction this XLN instance is wired to.
type EntityID [20]byte

// String renders the entity ID as a hex string for logging.
func (e EntityID) String() string {
	return hex.EncodeToString(e[:])
}

// IsZero reports whether e is the zero entity ID.
func (e EntityID) IsZero() bool {
	return e == EntityID{}
}

// Less reports whether e sorts before o. Account canonicalization (§3:
// "canonically keyed by the lexicographically smaller entityId first")
// relies on this ordering.
func (e EntityID) Less(o EntityID) bool {
	for i := range e {
		if e[i] != o[i] {
			return e[i] < o[i]
		}
	}
	return false
}

// ParseEntityID decodes a hex-encoded entity ID.
func ParseEntityID(s string) (EntityID, error) {
	var id EntityID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("xlnwire: entity id must be %d bytes, got %d",
			len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// TokenID identifies a fungible token on the jurisdiction.
type TokenID uint32

// LockID identifies an HTLC lock within an account. Lock IDs are unique
// only within the (leftEntity, rightEntity) account that owns them; cross
// account routing keys on (counterparty, LockID) instead.
type LockID uint64

// Hash256 is the output of the system's canonical collision-resistant hash
// function (fixed as sha256 throughout the core, per §4.2).
type Hash256 [32]byte

// String renders the hash as hex.
func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash256) IsZero() bool {
	return h == Hash256{}
}

// Amount is a signed 256-bit integer in a token's smallest unit. All
// collateral, delta, credit-limit, allowance, and HTLC amounts in the core
// are Amounts; the underlying representation is math/big so the same type
// covers both token balances (which are conventionally non-negative) and
// deltas (which are signed).
type Amount struct {
	v *big.Int
}

// NewAmount wraps an int64 as an Amount.
func NewAmount(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// NewAmountFromBig wraps a *big.Int as an Amount, copying it so callers
// may continue to mutate their own reference safely.
func NewAmountFromBig(v *big.Int) Amount {
	if v == nil {
		return Amount{v: big.NewInt(0)}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// ZeroAmount is the additive identity.
func ZeroAmount() Amount { return NewAmount(0) }

// Big returns the underlying big.Int, copied so callers cannot mutate the
// Amount's internal state.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

// Int64 truncates the amount to an int64. Used only for small, bounded
// quantities (HTLC counts, nonces); never for balances that may legally
// exceed int64 range.
func (a Amount) Int64() int64 {
	if a.v == nil {
		return 0
	}
	return a.v.Int64()
}

// Sign returns -1, 0, or 1 per the sign of a.
func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return NewAmountFromBig(new(big.Int).Add(a.Big(), b.Big()))
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return NewAmountFromBig(new(big.Int).Sub(a.Big(), b.Big()))
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return NewAmountFromBig(new(big.Int).Neg(a.Big()))
}

// Cmp compares a to b as big.Int.Cmp does.
func (a Amount) Cmp(b Amount) int {
	return a.Big().Cmp(b.Big())
}

// Min returns the lesser of a and b.
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the greater of a and b.
func Max(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MaxZero returns a if a > 0, else zero. This is the `max(0, x)` clamp
// used throughout §4.1.
func MaxZero(a Amount) Amount {
	return Max(a, ZeroAmount())
}

// Clamp restricts a to the closed interval [lo, hi].
func Clamp(a, lo, hi Amount) Amount {
	if a.Cmp(lo) < 0 {
		return lo
	}
	if a.Cmp(hi) > 0 {
		return hi
	}
	return a
}

// String renders the amount in base 10.
func (a Amount) String() string {
	return a.Big().String()
}

// GobEncode/GobDecode delegate to big.Int's own gob support so Amount
// round-trips through encoding/gob exactly like any other field, despite
// wrapping its value in an unexported pointer (persistence snapshots
// gob-encode Account/Accumulator/Tracker wholesale and would otherwise
// silently drop every balance).
func (a Amount) GobEncode() ([]byte, error) {
	return a.Big().GobEncode()
}

func (a *Amount) GobDecode(data []byte) error {
	v := new(big.Int)
	if err := v.GobDecode(data); err != nil {
		return err
	}
	a.v = v
	return nil
}

// SortTokenIDs returns a new, ascending-sorted copy of ids. Used by the
// proof builder (§4.2: "tokenIds sorted ascending").
func SortTokenIDs(ids []TokenID) []TokenID {
	out := make([]TokenID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortLockIDs returns a new, ascending-sorted copy of ids. Used by the
// proof builder (§4.2: "lockIds sorted ascending").
func SortLockIDs(ids []LockID) []LockID {
	out := make([]LockID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
