// Package account implements the account state machine (C4): the
// bilateral off-chain ledger between two entities, its mempool admission,
// frame proposal/counter-signing/commit/rollback cycle, and the
// surrounding state (settlement workspace handle, j-event observation
// slots, dispute state) §3 and §4.4 describe. Grounded on
// lnwallet/channel.go's commitment-chain state machine: mempool admission
// generalizes HTLC/update-log admission, frame propose/counter-sign
// generalizes the commitment-transaction exchange, and rollback on
// concurrent proposal generalizes lnd's revocation-window bookkeeping.
package account

import (
	"errors"
	"fmt"

	"github.com/xlnfinance/xln/deltas"
	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/proof"
	"github.com/xlnfinance/xln/settlement"
	"github.com/xlnfinance/xln/xlnwire"
)

var (
	// ErrWrongCounterparty is returned when an AccountTx references an
	// entity that is neither side of this account.
	ErrWrongCounterparty = errors.New("account: entity is not a party to this account")

	// ErrAccountDisputed is returned when a frame-advancing operation is
	// attempted while the account is disputed (§4.4: "while status =
	// disputed, the ASM accepts only observability operations").
	ErrAccountDisputed = errors.New("account: account is disputed")

	// ErrNoMempool is returned when a frame proposal is attempted with
	// an empty mempool.
	ErrNoMempool = errors.New("account: mempool is empty")

	// ErrFramePending is returned when a new frame is proposed while our
	// previous one still awaits the counterparty's counter-signature, and
	// by ReceiveFrame on the left side when the peer's frame collides with
	// the left side's own pending frame (left wins the tie-break).
	ErrFramePending = errors.New("account: a frame is already pending")
)

// Status is the coarse ASM state (§4.4).
type Status uint8

const (
	// StatusActive is the normal operating state: frames may be
	// proposed and counter-signed.
	StatusActive Status = iota
	// StatusDisputed freezes frame advancement until DisputeFinalized.
	StatusDisputed
)

func (s Status) String() string {
	if s == StatusDisputed {
		return "disputed"
	}
	return "active"
}

// DisputeState is populated while Status == StatusDisputed (§3).
type DisputeState struct {
	StartedByLeft       bool
	InitialProofbodyHash xlnwire.Hash256
	InitialNonce        uint64
	DisputeTimeout      uint32
	OnChainNonce        uint64
	InitialArguments    [][]byte
}

// RebalanceQuoteState mirrors §3's activeRebalanceQuote. QuoteID doubles
// as the issuance timestamp it was fixed to at quote time, so expiry is
// checked directly against it rather than a separate IssuedAt field.
type RebalanceQuoteState struct {
	QuoteID         uint64
	FeeTokenID      xlnwire.TokenID
	FeeAmount       xlnwire.Amount
	RequesterIsLeft bool
	Accepted        bool
}

// TokenDefault is the injected, construction-time default credit
// configuration for a token newly used in an account (Design Note: "model
// as an injected configuration value, construction-time" rather than a
// module-level default map).
type TokenDefault struct {
	LeftCreditLimit  xlnwire.Amount
	RightCreditLimit xlnwire.Amount
}

// Config bundles an account's construction-time, non-state configuration.
type Config struct {
	TokenDefaults map[xlnwire.TokenID]TokenDefault
}

func (c Config) defaultFor(tok xlnwire.TokenID) TokenDefault {
	if d, ok := c.TokenDefaults[tok]; ok {
		return d
	}
	return TokenDefault{LeftCreditLimit: xlnwire.ZeroAmount(), RightCreditLimit: xlnwire.ZeroAmount()}
}

// Account is the bilateral off-chain ledger between LeftEntity and
// RightEntity (§3). Each entity holds its own in-memory Account instance
// for the pair; Self identifies which side this particular instance
// belongs to.
type Account struct {
	LeftEntity  xlnwire.EntityID
	RightEntity xlnwire.EntityID
	Self        xlnwire.EntityID

	cfg Config

	Deltas map[xlnwire.TokenID]*deltas.Delta
	Locks  map[xlnwire.LockID]htlc.Lock

	Mempool []xlnwire.AccountTx

	NextNonce uint64

	PendingFrame         *xlnwire.Frame
	PendingAccountInput  *xlnwire.AccountInput
	pendingWorkingState  *Account

	Status Status

	OnChainSettlementNonce uint64

	CurrentDisputeProofHanko     xlnwire.Hanko
	CurrentDisputeProofNonce     uint64
	CurrentDisputeProofBodyHash  xlnwire.Hash256
	CounterpartyDisputeProofHanko    xlnwire.Hanko
	CounterpartyDisputeProofNonce    uint64
	CounterpartyDisputeProofBodyHash xlnwire.Hash256

	ActiveDispute *DisputeState

	Workspace *settlement.Workspace // nil if no settlement is staged (§4.5, C5)

	RequestedRebalance       map[xlnwire.TokenID]xlnwire.Amount
	RequestedRebalanceFeeState map[xlnwire.TokenID]bool // true => fee charge frozen pending batch outcome

	LeftJObservations  []xlnwire.JEventClaim
	RightJObservations []xlnwire.JEventClaim

	JEventChain          []xlnwire.JEventClaim
	LastFinalizedJHeight uint64

	RollbackCount         uint64
	LastRollbackFrameHash xlnwire.Hash256

	ActiveRebalanceQuote *RebalanceQuoteState

	Messages []Message
}

// Message is one entry in an account's append-only user-visible log (§7).
type Message struct {
	Category string // payment, settlement, dispute, rebalance, j-event, system
	Text     string
}

func (a *Account) log(category, format string, args ...interface{}) {
	a.Messages = append(a.Messages, Message{Category: category, Text: fmt.Sprintf(format, args...)})
}

// New constructs an Account for the pair (left, right) from self's point
// of view. The smaller entity ID is always canonicalized as left (§3).
func New(left, right, self xlnwire.EntityID, cfg Config) *Account {
	if right.Less(left) {
		left, right = right, left
	}
	return &Account{
		LeftEntity:                 left,
		RightEntity:                right,
		Self:                       self,
		cfg:                        cfg,
		Deltas:                     make(map[xlnwire.TokenID]*deltas.Delta),
		Locks:                      make(map[xlnwire.LockID]htlc.Lock),
		NextNonce:                  1,
		RequestedRebalance:         make(map[xlnwire.TokenID]xlnwire.Amount),
		RequestedRebalanceFeeState: make(map[xlnwire.TokenID]bool),
	}
}

// SetConfig rebinds an account's construction-time configuration. cfg is
// unexported because it is never meant to mutate across an account's
// normal lifetime; this setter exists solely for the persistence layer,
// which recovers an Account by decoding its exported fields and can
// otherwise never rewire cfg (§6: recovering an entity re-supplies its
// injected, non-persisted collaborators — signer, adapter, and, for every
// account it holds, this same per-token credit configuration).
func (a *Account) SetConfig(cfg Config) {
	a.cfg = cfg
}

// IsLeft reports whether Self is the left entity of this account.
func (a *Account) IsLeft() bool {
	return a.Self == a.LeftEntity
}

// Counterparty returns the other entity of this account.
func (a *Account) Counterparty() xlnwire.EntityID {
	if a.IsLeft() {
		return a.RightEntity
	}
	return a.LeftEntity
}

// delta returns the Delta for tok, creating it with the configured
// defaults on first use (§3: "created on first token use in an account").
func (a *Account) delta(tok xlnwire.TokenID) *deltas.Delta {
	if d, ok := a.Deltas[tok]; ok {
		return d
	}
	def := a.cfg.defaultFor(tok)
	d := deltas.NewDelta(def.LeftCreditLimit, def.RightCreditLimit)
	a.Deltas[tok] = &d
	return a.Deltas[tok]
}

// Delta returns the Delta for tok, creating it with the configured
// defaults on first use. Exported for packages layered above the ASM
// (C8's bilateral j-event finalization, the entity layer) that must
// mutate collateral/ondelta directly rather than through a mempool tx —
// both are only ever set by a bilaterally-finalized AccountSettled, never
// by a counter-signed frame (§3's Delta lifecycle note).
func (a *Account) Delta(tok xlnwire.TokenID) *deltas.Delta {
	return a.delta(tok)
}

// ClearPendingFrameState discards any in-flight frame-proposal bookkeeping
// (§4.9: a DisputeFinalized clears pendingFrame/pendingAccountInput/
// pendingWorkingState since they belong to the pre-finalization epoch and
// could otherwise replay against a nonce the L1 has already moved past).
// Exported for the dispute package, which cannot reach the unexported
// validation-state field directly.
func (a *Account) ClearPendingFrameState() {
	a.PendingFrame = nil
	a.PendingAccountInput = nil
	a.pendingWorkingState = nil
}

// Derived returns the derived balances for tok from Self's perspective.
func (a *Account) Derived(tok xlnwire.TokenID) deltas.Derived {
	d, ok := a.Deltas[tok]
	if !ok {
		def := a.cfg.defaultFor(tok)
		zero := deltas.NewDelta(def.LeftCreditLimit, def.RightCreditLimit)
		d = &zero
	}
	return deltas.Derive(*d, a.IsLeft())
}

// Snapshot builds the canonical proof.Snapshot for the account's current
// committed state at nonce (§4.2).
func (a *Account) Snapshot(nonce uint64) proof.Snapshot {
	tokens := make([]proof.TokenState, 0, len(a.Deltas))
	for tok, d := range a.Deltas {
		tokens = append(tokens, proof.TokenState{
			TokenID: tok, Collateral: d.Collateral, Ondelta: d.Ondelta,
			Offdelta: d.Offdelta, LeftCreditLimit: d.LeftCreditLimit,
			RightCreditLimit: d.RightCreditLimit, LeftAllowance: d.LeftAllowance,
			RightAllowance: d.RightAllowance,
		})
	}
	locks := make([]proof.LockState, 0, len(a.Locks))
	for id, lk := range a.Locks {
		locks = append(locks, proof.LockState{
			LockID: id, Hashlock: lk.Hashlock, Amount: lk.Amount,
			TokenID: lk.TokenID, Expiry: lk.Expiry, SenderIsLeft: lk.SenderIsLeft,
		})
	}
	return proof.Snapshot{
		LeftEntity: a.LeftEntity, RightEntity: a.RightEntity, Nonce: nonce,
		Tokens: tokens, Locks: locks,
	}
}

// clone deep-copies the account state needed to roll back a failed frame
// or a lost tie-break (§4.4).
func (a *Account) clone() *Account {
	cp := *a
	cp.Deltas = make(map[xlnwire.TokenID]*deltas.Delta, len(a.Deltas))
	for k, v := range a.Deltas {
		d := *v
		cp.Deltas[k] = &d
	}
	cp.Locks = make(map[xlnwire.LockID]htlc.Lock, len(a.Locks))
	for k, v := range a.Locks {
		cp.Locks[k] = v
	}
	cp.Mempool = append([]xlnwire.AccountTx(nil), a.Mempool...)
	cp.RequestedRebalance = make(map[xlnwire.TokenID]xlnwire.Amount, len(a.RequestedRebalance))
	for k, v := range a.RequestedRebalance {
		cp.RequestedRebalance[k] = v
	}
	cp.RequestedRebalanceFeeState = make(map[xlnwire.TokenID]bool, len(a.RequestedRebalanceFeeState))
	for k, v := range a.RequestedRebalanceFeeState {
		cp.RequestedRebalanceFeeState[k] = v
	}
	cp.LeftJObservations = append([]xlnwire.JEventClaim(nil), a.LeftJObservations...)
	cp.RightJObservations = append([]xlnwire.JEventClaim(nil), a.RightJObservations...)
	if a.Workspace != nil {
		wsCopy := *a.Workspace
		wsCopy.Diffs = append([]xlnwire.SettleDiff(nil), a.Workspace.Diffs...)
		if a.Workspace.PostSettlementDisputeProof != nil {
			proofCopy := *a.Workspace.PostSettlementDisputeProof
			wsCopy.PostSettlementDisputeProof = &proofCopy
		}
		cp.Workspace = &wsCopy
	}
	if a.ActiveRebalanceQuote != nil {
		quoteCopy := *a.ActiveRebalanceQuote
		cp.ActiveRebalanceQuote = &quoteCopy
	}
	return &cp
}

// restore replaces a's mutable state with snap's (used on rollback).
func (a *Account) restore(snap *Account) {
	a.Deltas = snap.Deltas
	a.Locks = snap.Locks
	a.RequestedRebalance = snap.RequestedRebalance
	a.RequestedRebalanceFeeState = snap.RequestedRebalanceFeeState
	a.LeftJObservations = snap.LeftJObservations
	a.RightJObservations = snap.RightJObservations
	a.Workspace = snap.Workspace
	a.ActiveRebalanceQuote = snap.ActiveRebalanceQuote
}
