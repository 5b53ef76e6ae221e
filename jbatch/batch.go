// Package jbatch implements the j-batch accumulator (C6): it merges an
// entity's queued on-chain operations — reserve-to-reserve transfers,
// reserve-to-collateral deposits, and settlement diffs — into one
// transaction, tracks the entity nonce across broadcast/finalize cycles,
// and handles the atomic all-or-nothing retry semantics a single on-chain
// transaction implies. Grounded on htlcswitch/switch_control.go's
// ControlTower (a small state machine guarding a single in-flight
// operation against duplicate submission) and breacharbiter.go's
// retributionStore (persist-then-retry over a batched on-chain action).
package jbatch

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/xlnfinance/xln/xlnwire"
)

var endian = binary.BigEndian

// ReserveToReserveOp moves reserve balance from this entity to another
// entity's reserve, with no account or collateral involvement.
type ReserveToReserveOp struct {
	ToEntity xlnwire.EntityID
	TokenID  xlnwire.TokenID
	Amount   xlnwire.Amount
}

// ReserveToCollateralOp moves reserve balance into the collateral of an
// account with CounterpartyID, optionally fulfilling a pending rebalance
// quote.
type ReserveToCollateralOp struct {
	CounterpartyID   xlnwire.EntityID
	TokenID          xlnwire.TokenID
	Amount           xlnwire.Amount
	RebalanceQuoteID uint64 // 0 when not tied to a quote
}

// SettleOp carries one account's settle_execute diffs into the batch.
type SettleOp struct {
	CounterpartyID xlnwire.EntityID
	Diffs          []xlnwire.SettleDiff
}

// Batch is the set of on-chain operations an entity has queued but not yet
// broadcast (§4.6).
type Batch struct {
	ReserveToReserve    []ReserveToReserveOp
	ReserveToCollateral []ReserveToCollateralOp
	Settle              []SettleOp
}

// OpCount returns the total number of queued operations across all three
// kinds.
func (b Batch) OpCount() int {
	return len(b.ReserveToReserve) + len(b.ReserveToCollateral) + len(b.Settle)
}

// IsEmpty reports whether b has no queued operations.
func (b Batch) IsEmpty() bool { return b.OpCount() == 0 }

func (b Batch) clone() Batch {
	return Batch{
		ReserveToReserve:    append([]ReserveToReserveOp(nil), b.ReserveToReserve...),
		ReserveToCollateral: append([]ReserveToCollateralOp(nil), b.ReserveToCollateral...),
		Settle:              append([]SettleOp(nil), b.Settle...),
	}
}

// merge returns a new batch with other's ops appended after b's. Used to
// re-merge a failed sentBatch back onto whatever has accumulated on the
// live batch since broadcast.
func (b Batch) merge(other Batch) Batch {
	out := b.clone()
	out.ReserveToReserve = append(out.ReserveToReserve, other.ReserveToReserve...)
	out.ReserveToCollateral = append(out.ReserveToCollateral, other.ReserveToCollateral...)
	out.Settle = append(out.Settle, other.Settle...)
	return out
}

func writeAmount(buf *bytes.Buffer, a xlnwire.Amount) {
	b := a.Big()
	_ = binary.Write(buf, endian, int8(b.Sign()))
	raw := b.Bytes()
	_ = binary.Write(buf, endian, uint32(len(raw)))
	buf.Write(raw)
}

// Hash canonically encodes a batch keyed to the submitting entity and the
// nonce it claims, the same bytes.Buffer/binary.Write idiom proof.Build
// uses for account snapshots (§4.2), applied here to the other artifact
// the core signs deterministically: a j-batch submission.
func Hash(entity xlnwire.EntityID, nonce uint64, b Batch) xlnwire.Hash256 {
	rtr := append([]ReserveToReserveOp(nil), b.ReserveToReserve...)
	sort.Slice(rtr, func(i, j int) bool {
		if rtr[i].ToEntity != rtr[j].ToEntity {
			return rtr[i].ToEntity.Less(rtr[j].ToEntity)
		}
		return rtr[i].TokenID < rtr[j].TokenID
	})
	rtc := append([]ReserveToCollateralOp(nil), b.ReserveToCollateral...)
	sort.Slice(rtc, func(i, j int) bool {
		if rtc[i].CounterpartyID != rtc[j].CounterpartyID {
			return rtc[i].CounterpartyID.Less(rtc[j].CounterpartyID)
		}
		return rtc[i].TokenID < rtc[j].TokenID
	})
	settle := append([]SettleOp(nil), b.Settle...)
	sort.Slice(settle, func(i, j int) bool {
		return settle[i].CounterpartyID.Less(settle[j].CounterpartyID)
	})

	var buf bytes.Buffer
	buf.Write(entity[:])
	_ = binary.Write(&buf, endian, nonce)

	_ = binary.Write(&buf, endian, uint32(len(rtr)))
	for _, op := range rtr {
		buf.Write(op.ToEntity[:])
		_ = binary.Write(&buf, endian, op.TokenID)
		writeAmount(&buf, op.Amount)
	}

	_ = binary.Write(&buf, endian, uint32(len(rtc)))
	for _, op := range rtc {
		buf.Write(op.CounterpartyID[:])
		_ = binary.Write(&buf, endian, op.TokenID)
		writeAmount(&buf, op.Amount)
		_ = binary.Write(&buf, endian, op.RebalanceQuoteID)
	}

	_ = binary.Write(&buf, endian, uint32(len(settle)))
	for _, op := range settle {
		buf.Write(op.CounterpartyID[:])
		_ = binary.Write(&buf, endian, uint32(len(op.Diffs)))
		for _, d := range op.Diffs {
			_ = binary.Write(&buf, endian, d.TokenID)
			writeAmount(&buf, d.CollateralDelta)
			writeAmount(&buf, d.OndeltaDelta)
		}
	}

	return sha256.Sum256(buf.Bytes())
}
