package jadapter

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/xlnwire"
)

// ErrNoHanko is returned when SubmitBatch is called without a hanko
// authorizing the batch.
var ErrNoHanko = errors.New("jadapter: batch submitted without a hanko")

type reserveKey struct {
	Entity xlnwire.EntityID
	Token  xlnwire.TokenID
}

type pairKey struct {
	Left, Right xlnwire.EntityID
}

type pairTokenKey struct {
	Left, Right xlnwire.EntityID
	Token       xlnwire.TokenID
}

func orderPair(a, b xlnwire.EntityID) (xlnwire.EntityID, xlnwire.EntityID) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}

type pendingBatch struct {
	handle TxHandle
	entity xlnwire.EntityID
	nonce  uint64
	batch  jbatch.Batch
}

type pendingDisputeFinalize struct {
	sender               xlnwire.EntityID
	counterentity        xlnwire.EntityID
	initialNonce         uint64
	initialProofbodyHash xlnwire.Hash256
	finalNonce           uint64
	finalProofbodyHash   xlnwire.Hash256
	finalizeAt           uint64
}

// Simulator is an in-memory stand-in for the Depository contract and its
// watcher (§12 supplemented feature: "A simulated jadapter.Simulator L1
// (in-memory Depository + watcher) so the daemon and tests have a
// concrete, deterministic collaborator to run against", matching how the
// teacher ships roasbeef/btcd's rpctest-style harnesses for exercising
// lnwallet without a live chain). It implements both Reader and Writer;
// callers should depend on the Adapter interface, never this concrete
// type, so a real chain-backed implementation can swap in unchanged.
//
// Time in the simulator advances one block per call to Advance, which the
// operator layer drives (e.g. on a ticker.Ticker); nothing here runs its
// own goroutine, keeping it safe to drive deterministically from tests.
type Simulator struct {
	mu sync.Mutex

	height         uint64
	disputeTimeout uint32

	reserves   map[reserveKey]xlnwire.Amount
	collateral map[pairTokenKey]xlnwire.Amount
	ondelta    map[pairTokenKey]xlnwire.Amount
	pairNonce  map[pairKey]uint64

	pendingBatches  []pendingBatch
	pendingDisputes []pendingDisputeFinalize

	failNext map[xlnwire.EntityID]bool
}

// NewSimulator constructs an empty Simulator with disputeTimeout L1
// blocks as the window every StartDispute schedules a DisputeFinalized
// after, absent a superseding proof (SupersedeDispute).
func NewSimulator(disputeTimeout uint32) *Simulator {
	return &Simulator{
		disputeTimeout: disputeTimeout,
		reserves:       make(map[reserveKey]xlnwire.Amount),
		collateral:     make(map[pairTokenKey]xlnwire.Amount),
		ondelta:        make(map[pairTokenKey]xlnwire.Amount),
		pairNonce:      make(map[pairKey]uint64),
		failNext:       make(map[xlnwire.EntityID]bool),
	}
}

// Fund sets entity's reserve balance for token directly, replacing any
// earlier balance and bypassing any batch
// (a test/bootstrap action; real reserves only ever arrive via an
// external deposit the Depository contract itself observes, which is out
// of this core's scope per §1).
func (s *Simulator) Fund(entity xlnwire.EntityID, token xlnwire.TokenID, amount xlnwire.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves[reserveKey{entity, token}] = amount
}

// FailNext marks entity's next submitted batch to resolve with
// success = false on the following Advance, simulating an on-chain
// rejection (§8 S6).
func (s *Simulator) FailNext(entity xlnwire.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[entity] = true
}

// GetAccountInfo implements Reader.
func (s *Simulator) GetAccountInfo(selfEntity, counterparty xlnwire.EntityID) (AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	left, right := orderPair(selfEntity, counterparty)
	return AccountInfo{
		Nonce:          s.pairNonce[pairKey{left, right}],
		DisputeTimeout: s.disputeTimeout,
	}, nil
}

// GetCollateral implements Reader.
func (s *Simulator) GetCollateral(left, right xlnwire.EntityID, tokenID xlnwire.TokenID) (xlnwire.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, r := orderPair(left, right)
	return s.collateral[pairTokenKey{l, r, tokenID}], nil
}

// SubmitBatch implements Writer. The batch is not resolved until a
// subsequent Advance call processes the block it lands in.
func (s *Simulator) SubmitBatch(entity xlnwire.EntityID, nonce uint64, hanko xlnwire.Hanko, batch jbatch.Batch) (TxHandle, error) {
	if len(hanko) == 0 {
		return "", ErrNoHanko
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := TxHandle(uuid.NewString())
	s.pendingBatches = append(s.pendingBatches, pendingBatch{
		handle: handle, entity: entity, nonce: nonce, batch: batch,
	})
	return handle, nil
}

// StartDispute simulates an external actor's disputeStart call against
// the Depository contract (§1 treats the contract itself as an
// out-of-scope collaborator; this is the harness's stand-in for driving
// it). It schedules a DisputeFinalized disputeTimeout blocks out unless
// SupersedeDispute adopts a higher proof first, and returns the
// DisputeStarted event a caller should feed into dispute.HandleDisputeStarted.
func (s *Simulator) StartDispute(sender, counterentity xlnwire.EntityID, nonce uint64, proofBodyHash xlnwire.Hash256, initialArguments [][]byte) xlnwire.JurisdictionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDisputes = append(s.pendingDisputes, pendingDisputeFinalize{
		sender: sender, counterentity: counterentity,
		initialNonce: nonce, initialProofbodyHash: proofBodyHash,
		finalNonce: nonce, finalProofbodyHash: proofBodyHash,
		finalizeAt: s.height + uint64(s.disputeTimeout),
	})
	return xlnwire.JurisdictionEvent{
		Type: xlnwire.JEventDisputeStarted,
		DisputeStarted: &xlnwire.DisputeStarted{
			Sender: sender, Counterentity: counterentity, Nonce: nonce,
			ProofbodyHash: proofBodyHash, InitialArguments: initialArguments,
		},
	}
}

// SupersedeDispute simulates the wronged side posting its own
// higher-nonce proof before the dispute's timeout elapses (§8 S5: "A...
// posts its currentDisputeProofHanko... which the L1 adopts"), causing
// the eventual DisputeFinalized to carry finalNonce/finalProofbodyHash
// instead of the original disputing submission's. Reports false if no
// pending dispute matches the pair.
func (s *Simulator) SupersedeDispute(sender, counterentity xlnwire.EntityID, finalNonce uint64, finalProofbodyHash xlnwire.Hash256) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pendingDisputes {
		pd := &s.pendingDisputes[i]
		if samePair(pd.sender, pd.counterentity, sender, counterentity) && pd.finalNonce < finalNonce {
			pd.finalNonce = finalNonce
			pd.finalProofbodyHash = finalProofbodyHash
			return true
		}
	}
	return false
}

func samePair(a1, a2, b1, b2 xlnwire.EntityID) bool {
	return (a1 == b1 && a2 == b2) || (a1 == b2 && a2 == b1)
}

// Advance simulates the arrival of one new L1 block: every pending batch
// resolves (success or, if FailNext marked the submitter, failure) and
// every dispute-finalize whose window has elapsed fires, in that order.
// The caller threads the returned events through the same jblock/jevent
// path a real chain watcher would feed (one signer's observation of one
// block).
func (s *Simulator) Advance() (height uint64, hash xlnwire.Hash256, events []xlnwire.JurisdictionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.height++
	height = s.height
	hash = blockHash(height)

	batches := s.pendingBatches
	s.pendingBatches = nil
	for _, pb := range batches {
		events = append(events, s.resolveBatch(pb)...)
	}

	var remaining []pendingDisputeFinalize
	for _, pd := range s.pendingDisputes {
		if s.height >= pd.finalizeAt {
			events = append(events, s.resolveDisputeFinalize(pd))
		} else {
			remaining = append(remaining, pd)
		}
	}
	s.pendingDisputes = remaining

	return height, hash, events
}

func blockHash(height uint64) xlnwire.Hash256 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return sha256.Sum256(b[:])
}

func (s *Simulator) resolveBatch(pb pendingBatch) []xlnwire.JurisdictionEvent {
	if s.failNext[pb.entity] {
		delete(s.failNext, pb.entity)
		return []xlnwire.JurisdictionEvent{{
			Type: xlnwire.JEventHankoBatchProcessed,
			HankoBatchProcessed: &xlnwire.HankoBatchProcessed{
				EntityID: pb.entity, Nonce: pb.nonce, Success: false,
			},
		}}
	}

	var events []xlnwire.JurisdictionEvent
	for _, op := range pb.batch.ReserveToReserve {
		events = append(events, s.applyReserveToReserve(pb.entity, op)...)
	}
	for _, op := range pb.batch.ReserveToCollateral {
		events = append(events, s.applyReserveToCollateral(pb.entity, op)...)
	}
	for _, op := range pb.batch.Settle {
		events = append(events, s.applySettle(pb.entity, op)...)
	}
	events = append(events, xlnwire.JurisdictionEvent{
		Type: xlnwire.JEventHankoBatchProcessed,
		HankoBatchProcessed: &xlnwire.HankoBatchProcessed{
			EntityID: pb.entity, Nonce: pb.nonce, Success: true,
		},
	})
	return events
}

func (s *Simulator) applyReserveToReserve(entity xlnwire.EntityID, op jbatch.ReserveToReserveOp) []xlnwire.JurisdictionEvent {
	fromKey := reserveKey{entity, op.TokenID}
	toKey := reserveKey{op.ToEntity, op.TokenID}
	s.reserves[fromKey] = s.reserves[fromKey].Sub(op.Amount)
	s.reserves[toKey] = s.reserves[toKey].Add(op.Amount)
	return []xlnwire.JurisdictionEvent{
		reserveUpdatedEvent(entity, op.TokenID, s.reserves[fromKey]),
		reserveUpdatedEvent(op.ToEntity, op.TokenID, s.reserves[toKey]),
	}
}

func (s *Simulator) applyReserveToCollateral(entity xlnwire.EntityID, op jbatch.ReserveToCollateralOp) []xlnwire.JurisdictionEvent {
	rk := reserveKey{entity, op.TokenID}
	s.reserves[rk] = s.reserves[rk].Sub(op.Amount)

	left, right := orderPair(entity, op.CounterpartyID)
	ptk := pairTokenKey{left, right, op.TokenID}
	s.collateral[ptk] = s.collateral[ptk].Add(op.Amount)

	pk := pairKey{left, right}
	s.pairNonce[pk]++

	return []xlnwire.JurisdictionEvent{
		reserveUpdatedEvent(entity, op.TokenID, s.reserves[rk]),
		s.accountSettledEvent(left, right, op.TokenID, s.collateral[ptk], s.ondelta[ptk], s.pairNonce[pk]),
	}
}

func (s *Simulator) applySettle(entity xlnwire.EntityID, op jbatch.SettleOp) []xlnwire.JurisdictionEvent {
	left, right := orderPair(entity, op.CounterpartyID)
	pk := pairKey{left, right}
	s.pairNonce[pk]++

	var events []xlnwire.JurisdictionEvent
	for _, d := range op.Diffs {
		ptk := pairTokenKey{left, right, d.TokenID}
		s.collateral[ptk] = s.collateral[ptk].Add(d.CollateralDelta)
		s.ondelta[ptk] = s.ondelta[ptk].Add(d.OndeltaDelta)
		events = append(events, s.accountSettledEvent(left, right, d.TokenID, s.collateral[ptk], s.ondelta[ptk], s.pairNonce[pk]))
	}
	return events
}

func (s *Simulator) resolveDisputeFinalize(pd pendingDisputeFinalize) xlnwire.JurisdictionEvent {
	left, right := orderPair(pd.sender, pd.counterentity)
	pk := pairKey{left, right}
	if pd.finalNonce > s.pairNonce[pk] {
		s.pairNonce[pk] = pd.finalNonce
	}
	return xlnwire.JurisdictionEvent{
		Type: xlnwire.JEventDisputeFinalized,
		DisputeFinalized: &xlnwire.DisputeFinalized{
			Sender: pd.sender, Counterentity: pd.counterentity,
			InitialNonce: pd.initialNonce, InitialProofbodyHash: pd.initialProofbodyHash,
			FinalProofbodyHash: pd.finalProofbodyHash,
		},
	}
}

func reserveUpdatedEvent(entity xlnwire.EntityID, token xlnwire.TokenID, balance xlnwire.Amount) xlnwire.JurisdictionEvent {
	return xlnwire.JurisdictionEvent{
		Type:           xlnwire.JEventReserveUpdated,
		ReserveUpdated: &xlnwire.ReserveUpdated{Entity: entity, TokenID: token, NewBalance: balance},
	}
}

// accountSettledEvent reports the post-op reserve balances on both sides
// alongside the collateral/ondelta diff (§4.8 step 1 needs leftReserve/
// rightReserve to mutate only the entity's own side).
func (s *Simulator) accountSettledEvent(left, right xlnwire.EntityID, token xlnwire.TokenID, collateral, ondelta xlnwire.Amount, nonce uint64) xlnwire.JurisdictionEvent {
	return xlnwire.JurisdictionEvent{
		Type: xlnwire.JEventAccountSettled,
		AccountSettled: &xlnwire.AccountSettled{
			LeftEntity: left, RightEntity: right, TokenID: token,
			LeftReserve:  s.reserves[reserveKey{left, token}],
			RightReserve: s.reserves[reserveKey{right, token}],
			Collateral:   collateral, Ondelta: ondelta, Nonce: nonce,
			Chain: xlnwire.ChainRef{BlockNumber: s.height, BlockHash: blockHash(s.height)},
		},
	}
}

var _ Adapter = (*Simulator)(nil)
