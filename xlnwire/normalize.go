package xlnwire

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// endian is the fixed byte order for every canonical encoding in the core,
// matching the contractcourt Encode/Decode idiom of a single package-level
// endian variable instead of re-specifying it at each call site.
var endian = binary.BigEndian

// Normalize returns e with its fields arranged in canonical form: no
// implementation-specific ordering leaks into comparisons or hashing.
// Design Note "Normalization is the universal equalizer": any comparison
// between two parties' views of the same L1 fact goes through this
// function first, never through the adapter's "natural" encoding.
func (e JurisdictionEvent) Normalize() JurisdictionEvent {
	out := e
	if e.DisputeStarted != nil {
		args := make([][]byte, len(e.DisputeStarted.InitialArguments))
		for i, a := range e.DisputeStarted.InitialArguments {
			cp := make([]byte, len(a))
			copy(cp, a)
			args[i] = cp
		}
		ds := *e.DisputeStarted
		ds.InitialArguments = args
		out.DisputeStarted = &ds
	}
	return out
}

// Key returns a canonical, comparable byte key for e, suitable for
// deduplication (C7 step 4a: "merge each signer's events by canonical
// key, deduping") and for use as a map key.
func (e JurisdictionEvent) Key() string {
	n := e.Normalize()
	var buf bytes.Buffer
	_ = binary.Write(&buf, endian, n.Type)

	switch n.Type {
	case JEventReserveUpdated:
		r := n.ReserveUpdated
		buf.Write(r.Entity[:])
		_ = binary.Write(&buf, endian, r.TokenID)
		buf.Write(r.NewBalance.Big().Bytes())
		writeChainRef(&buf, r.Chain)

	case JEventAccountSettled:
		a := n.AccountSettled
		buf.Write(a.LeftEntity[:])
		buf.Write(a.RightEntity[:])
		_ = binary.Write(&buf, endian, a.TokenID)
		buf.Write(a.LeftReserve.Big().Bytes())
		buf.Write(a.RightReserve.Big().Bytes())
		buf.Write(a.Collateral.Big().Bytes())
		buf.Write(a.Ondelta.Big().Bytes())
		_ = binary.Write(&buf, endian, a.Nonce)
		writeChainRef(&buf, a.Chain)

	case JEventSecretRevealed:
		s := n.SecretRevealed
		buf.Write(s.Hashlock[:])
		buf.Write(s.Secret[:])

	case JEventDisputeStarted:
		d := n.DisputeStarted
		buf.Write(d.Sender[:])
		buf.Write(d.Counterentity[:])
		_ = binary.Write(&buf, endian, d.Nonce)
		buf.Write(d.ProofbodyHash[:])
		args := append([][]byte(nil), d.InitialArguments...)
		sort.Slice(args, func(i, j int) bool {
			return bytes.Compare(args[i], args[j]) < 0
		})
		for _, a := range args {
			_ = binary.Write(&buf, endian, uint32(len(a)))
			buf.Write(a)
		}

	case JEventDisputeFinalized:
		d := n.DisputeFinalized
		buf.Write(d.Sender[:])
		buf.Write(d.Counterentity[:])
		_ = binary.Write(&buf, endian, d.InitialNonce)
		buf.Write(d.InitialProofbodyHash[:])
		buf.Write(d.FinalProofbodyHash[:])

	case JEventHankoBatchProcessed:
		h := n.HankoBatchProcessed
		buf.Write(h.EntityID[:])
		buf.Write(h.HankoHash[:])
		_ = binary.Write(&buf, endian, h.Nonce)
		_ = binary.Write(&buf, endian, h.Success)
	}

	return buf.String()
}

func writeChainRef(buf *bytes.Buffer, c ChainRef) {
	_ = binary.Write(buf, endian, c.BlockNumber)
	buf.Write(c.BlockHash[:])
	buf.Write(c.TransactionHash[:])
}

// DedupeEvents merges a list of events by canonical key, dropping later
// duplicates while preserving first-seen order (C7 step 4a).
func DedupeEvents(events []JurisdictionEvent) []JurisdictionEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]JurisdictionEvent, 0, len(events))
	for _, e := range events {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// EventMultisetsEqual reports whether a and b contain the same events with
// the same multiplicities, independent of order (C8 step 4: "verifies the
// normalized event multisets are equal").
func EventMultisetsEqual(a, b []JurisdictionEvent) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, e := range a {
		counts[e.Key()]++
	}
	for _, e := range b {
		k := e.Key()
		counts[k]--
		if counts[k] < 0 {
			return false
		}
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}
