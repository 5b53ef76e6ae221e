package jbatch

import (
	"errors"

	"github.com/xlnfinance/xln/xlnwire"
)

var (
	// ErrNothingToBroadcast is returned when Broadcast is called with an
	// empty live batch.
	ErrNothingToBroadcast = errors.New("jbatch: live batch is empty")

	// ErrBatchAlreadyPending is returned when Broadcast is called while a
	// prior batch awaits HankoBatchProcessed.
	ErrBatchAlreadyPending = errors.New("jbatch: a batch is already pending confirmation")
)

// State is the accumulator's coarse lifecycle (§4.6).
type State uint8

const (
	// StateEmpty: nothing queued, nothing in flight.
	StateEmpty State = iota
	// StateAccumulating: ops queued on the live batch, nothing in flight.
	StateAccumulating
	// StatePending: a batch has been broadcast and awaits HankoBatchProcessed.
	StatePending
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// HistoryEntry records one successfully confirmed batch (§3's batchHistory).
type HistoryEntry struct {
	Nonce uint64
	Hash  xlnwire.Hash256
	Batch Batch
}

// Accumulator is one entity's j-batch state (§4.6). It is pure
// orchestration: it never talks to the adapter itself (Broadcast returns
// the batch and nonce for the caller's operator layer to submit) and never
// decides retry timing (that is a ticker in cmd/xlnd, per §5's "none of
// these block the thread — they are state").
type Accumulator struct {
	EntityID xlnwire.EntityID

	Live Batch

	SentBatch     *Batch
	SentBatchHash xlnwire.Hash256
	SentNonce     uint64

	EntityNonce    uint64
	FailedAttempts uint64
	BatchHistory   []HistoryEntry

	State State
}

// New constructs an empty accumulator for entity, starting at entityNonce
// (the last nonce this entity has already confirmed on-chain, typically
// recovered from persistence or the adapter at startup).
func New(entity xlnwire.EntityID, entityNonce uint64) *Accumulator {
	return &Accumulator{EntityID: entity, EntityNonce: entityNonce, State: StateEmpty}
}

func (acc *Accumulator) markAccumulating() {
	if acc.State == StateEmpty {
		acc.State = StateAccumulating
	}
}

// QueueReserveToReserve appends a reserve-to-reserve transfer to the live
// batch.
func (acc *Accumulator) QueueReserveToReserve(op ReserveToReserveOp) {
	acc.Live.ReserveToReserve = append(acc.Live.ReserveToReserve, op)
	acc.markAccumulating()
}

// QueueReserveToCollateral appends a reserve-to-collateral deposit to the
// live batch.
func (acc *Accumulator) QueueReserveToCollateral(op ReserveToCollateralOp) {
	acc.Live.ReserveToCollateral = append(acc.Live.ReserveToCollateral, op)
	acc.markAccumulating()
}

// QueueSettle appends a settle_execute's diffs to the live batch.
func (acc *Accumulator) QueueSettle(op SettleOp) {
	acc.Live.Settle = append(acc.Live.Settle, op)
	acc.markAccumulating()
}

// Broadcast captures the live batch into sentBatch with the claimed nonce
// and batch hash, resets the live batch to empty, and returns the captured
// batch and nonce for submission to the J-adapter (§4.6 step (a)-(c)). The
// nonce is claimed optimistically — one past the last authoritative value
// — and corrected on finalization, never trusted on its own.
func (acc *Accumulator) Broadcast() (Batch, uint64, error) {
	if acc.State != StateAccumulating || acc.Live.IsEmpty() {
		return Batch{}, 0, ErrNothingToBroadcast
	}
	if acc.SentBatch != nil {
		return Batch{}, 0, ErrBatchAlreadyPending
	}

	captured := acc.Live.clone()
	acc.Live = Batch{}
	nonce := acc.EntityNonce + 1
	hash := Hash(acc.EntityID, nonce, captured)

	acc.SentBatch = &captured
	acc.SentBatchHash = hash
	acc.SentNonce = nonce
	acc.State = StatePending

	return captured, nonce, nil
}

// Result reports the outcome of HandleBatchProcessed.
type Result struct {
	// Duplicate is true when the event was ignored because no batch was
	// pending (§4.6: "opCount = 0 and no pending batch").
	Duplicate bool
	Success   bool
	Nonce     uint64
	// RequeuedOps is the batch merged back onto Live on failure, nil
	// otherwise.
	RequeuedOps *Batch
	FailedAttempts uint64
}

// HandleBatchProcessed applies a HankoBatchProcessed event matching this
// entity (§4.6). The caller is responsible for matching event.EntityID to
// acc.EntityID before calling this, and — on a failed result — for
// unfreezing any RequestedRebalanceFeeState entries tied to the requeued
// ReserveToCollateral ops' RebalanceQuoteID.
func (acc *Accumulator) HandleBatchProcessed(event *xlnwire.HankoBatchProcessed) Result {
	if event.Nonce > acc.EntityNonce {
		acc.EntityNonce = event.Nonce
	}

	if acc.SentBatch == nil {
		// Duplicate or replayed finalization: sync the nonce and ignore
		// otherwise — there is nothing in flight to confirm or fail.
		return Result{Duplicate: true, Nonce: acc.EntityNonce}
	}

	sent := *acc.SentBatch
	acc.SentBatch = nil

	if event.Success {
		acc.BatchHistory = append(acc.BatchHistory, HistoryEntry{
			Nonce: event.Nonce, Hash: acc.SentBatchHash, Batch: sent,
		})
		if acc.Live.IsEmpty() {
			acc.State = StateEmpty
		} else {
			acc.State = StateAccumulating
		}
		log.Debugf("batch %d confirmed for entity %s", event.Nonce, acc.EntityID)
		return Result{Success: true, Nonce: event.Nonce}
	}

	// Atomic on-chain failure: none of sent's ops applied. Merge them back
	// ahead of whatever has accumulated since broadcast so retry preserves
	// submission order.
	acc.Live = sent.merge(acc.Live)
	acc.FailedAttempts++
	acc.State = StateAccumulating
	log.Warnf("batch %d failed for entity %s, requeuing (attempt %d)", event.Nonce, acc.EntityID, acc.FailedAttempts)
	return Result{
		Success: false, Nonce: event.Nonce, RequeuedOps: &sent,
		FailedAttempts: acc.FailedAttempts,
	}
}
