// Package proof implements the deterministic proof builder (C2): a pure
// canonicalization of an account's committed snapshot into the exact byte
// sequence that both sides sign and that a dispute contract re-derives.
// The encoding style — a bytes.Buffer filled via binary.Write against a
// package-level endian, mirroring contractcourt's Encode/Decode idiom and
// channeldb/graph.go's putLightningNode — is the teacher's own approach to
// canonical on-disk/on-wire serialization, generalized here to double as
// the signature pre-image.
package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/xlnfinance/xln/xlnwire"
)

var endian = binary.BigEndian

// TokenState is one token's canonicalized Delta fields, as included in a
// Snapshot.
type TokenState struct {
	TokenID          xlnwire.TokenID
	Collateral       xlnwire.Amount
	Ondelta          xlnwire.Amount
	Offdelta         xlnwire.Amount
	LeftCreditLimit  xlnwire.Amount
	RightCreditLimit xlnwire.Amount
	LeftAllowance    xlnwire.Amount
	RightAllowance   xlnwire.Amount
}

// LockState is one active HTLC lock's canonicalized fields, as included in
// a Snapshot.
type LockState struct {
	LockID       xlnwire.LockID
	Hashlock     xlnwire.Hash256
	Amount       xlnwire.Amount
	TokenID      xlnwire.TokenID
	Expiry       uint64
	SenderIsLeft bool
}

// Snapshot is the canonical account snapshot that gets hashed and signed
// (§4.2). Tokens and Locks need not be pre-sorted by the caller: Build
// sorts them.
type Snapshot struct {
	LeftEntity  xlnwire.EntityID
	RightEntity xlnwire.EntityID
	Nonce       uint64
	Tokens      []TokenState
	Locks       []LockState
}

// Built is the output of Build: the canonical bytes and their hash.
type Built struct {
	ProofBody     []byte
	ProofBodyHash xlnwire.Hash256
}

// writeAmount writes a signed amount as a length-prefixed big-endian two's
// complement-free byte string: a sign byte followed by a varint-free
// fixed-width-length magnitude. This keeps the encoding injective and
// portable across implementations without committing to a fixed integer
// width narrower than 256 bits.
func writeAmount(buf *bytes.Buffer, a xlnwire.Amount) {
	b := a.Big()
	sign := int8(b.Sign())
	_ = binary.Write(buf, endian, sign)

	raw := b.Bytes() // magnitude, big-endian, no sign
	_ = binary.Write(buf, endian, uint32(len(raw)))
	buf.Write(raw)
}

// Build canonicalizes s into its deterministic proof body and hash.
// Determinism contract (§4.2): any two honest implementations on the same
// inputs produce identical bytes — tokens and locks are sorted ascending
// by ID, all integers are big-endian, and the field order never varies.
func Build(s Snapshot) Built {
	tokens := append([]TokenState(nil), s.Tokens...)
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].TokenID < tokens[j].TokenID })

	locks := append([]LockState(nil), s.Locks...)
	sort.Slice(locks, func(i, j int) bool { return locks[i].LockID < locks[j].LockID })

	var buf bytes.Buffer
	buf.Write(s.LeftEntity[:])
	buf.Write(s.RightEntity[:])
	_ = binary.Write(&buf, endian, s.Nonce)

	_ = binary.Write(&buf, endian, uint32(len(tokens)))
	for _, tok := range tokens {
		_ = binary.Write(&buf, endian, tok.TokenID)
		writeAmount(&buf, tok.Collateral)
		writeAmount(&buf, tok.Ondelta)
		writeAmount(&buf, tok.Offdelta)
		writeAmount(&buf, tok.LeftCreditLimit)
		writeAmount(&buf, tok.RightCreditLimit)
		writeAmount(&buf, tok.LeftAllowance)
		writeAmount(&buf, tok.RightAllowance)
	}

	_ = binary.Write(&buf, endian, uint32(len(locks)))
	for _, lk := range locks {
		_ = binary.Write(&buf, endian, lk.LockID)
		buf.Write(lk.Hashlock[:])
		writeAmount(&buf, lk.Amount)
		_ = binary.Write(&buf, endian, lk.TokenID)
		_ = binary.Write(&buf, endian, lk.Expiry)
		_ = binary.Write(&buf, endian, lk.SenderIsLeft)
	}

	body := buf.Bytes()
	return Built{
		ProofBody:     body,
		ProofBodyHash: sha256.Sum256(body),
	}
}
