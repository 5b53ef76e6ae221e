// Package signing provides the Hanko signature primitive used throughout
// the core to authorize committed frames, j-batches, and dispute proofs.
// Grounded on lnd's keychain/signer split (an injected capability, not a
// concrete key held by business logic) and btcec/v2 for the actual ECDSA
// math, matching the rest of the corpus's choice of btcsuite's secp256k1
// implementation over a bespoke one.
package signing

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/xlnfinance/xln/xlnwire"
)

// ErrInvalidHanko is returned when a Hanko fails to verify against the
// claimed signer.
var ErrInvalidHanko = errors.New("signing: hanko does not verify against signer")

// Signer is the capability an entity injects into its accounts, j-batch
// accumulator, and dispute handler to produce and check Hankos. It is
// deliberately narrow: core business logic never touches a private key
// directly (Design Note: "confine non-determinism and secrets to the
// operator layer").
type Signer interface {
	Sign(hash xlnwire.Hash256) (xlnwire.Hanko, error)
	Verify(hash xlnwire.Hash256, hanko xlnwire.Hanko, signer xlnwire.EntityID) error
}

// KeySigner is a Signer backed by a single secp256k1 keypair, suitable for
// single-signer entities and for tests. Multi-signer (threshold) entities
// wrap N KeySigners behind the jbatch/jblock quorum logic instead of
// implementing Signer directly.
type KeySigner struct {
	priv *btcec.PrivateKey
}

// NewKeySigner wraps an existing private key.
func NewKeySigner(priv *btcec.PrivateKey) *KeySigner {
	return &KeySigner{priv: priv}
}

// Sign produces a Hanko (a DER-encoded ECDSA signature) over hash.
func (k *KeySigner) Sign(hash xlnwire.Hash256) (xlnwire.Hanko, error) {
	sig := ecdsa.Sign(k.priv, hash[:])
	return xlnwire.Hanko(sig.Serialize()), nil
}

// Verify checks that hanko is a valid signature over hash by signer's
// known public key. signerKey must be supplied by the caller out of band
// (the entity registry, not this package, maps EntityID -> pubkey); Verify
// takes the resolved key directly to keep this package free of entity
// registry concerns.
func Verify(hash xlnwire.Hash256, hanko xlnwire.Hanko, pubKey *btcec.PublicKey) error {
	sig, err := ecdsa.ParseDERSignature(hanko)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHanko, err)
	}
	if !sig.Verify(hash[:], pubKey) {
		return ErrInvalidHanko
	}
	return nil
}

// HashProofBody is the canonical hash a Hanko signs over a proof body: the
// proof package's own sha256 output, re-hashed with a domain-separation
// prefix so a Hanko over a proof body can never be replayed as a Hanko
// over a j-batch or dispute artifact that happens to collide in bytes.
func HashProofBody(domain string, bodyHash xlnwire.Hash256) xlnwire.Hash256 {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(bodyHash[:])
	var out xlnwire.Hash256
	copy(out[:], h.Sum(nil))
	return out
}
