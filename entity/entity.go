// Package entity implements the entity state machine (ESM) and its
// single-threaded cooperative inbox (§2, §5): the orchestration layer
// that owns every account an entity trades through, the per-entity
// j-block tracker (C7) and j-batch accumulator (C6), the cross-account
// HTLC route table (C3), and the dispatch that wires a finalized j-event
// into C8's bilateral settlement path or C9's dispute handler. Grounded
// on server.go's subsystem-ownership shape (one long-lived struct holding
// every per-peer/per-channel collaborator plus the capabilities injected
// into them) and peer.go's channelManager/handleUpstreamMsg split: a
// single dispatch loop draining one input source, switching on message
// type to the narrow handler that owns that piece of state.
package entity

import (
	"errors"
	"fmt"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/dispute"
	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/jblock"
	"github.com/xlnfinance/xln/jevent"
	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

// ErrUnknownAccount is returned when an operation names a counterparty
// this entity has no account open for.
var ErrUnknownAccount = errors.New("entity: no account open for counterparty")

// ErrInsufficientReserve is returned by DepositCollateral when the
// entity's recorded reserve for the token is below the requested amount.
var ErrInsufficientReserve = errors.New("entity: insufficient reserve balance")

// ErrNoRebalanceRequest is returned when QuoteRebalance is called for a
// token the counterparty has no outstanding rebalance_request for.
var ErrNoRebalanceRequest = errors.New("entity: no outstanding rebalance request for token")

// Config is an entity's construction-time, non-state configuration (§3's
// config.threshold/signers plus the per-token credit defaults every new
// account is opened with).
type Config struct {
	Threshold     int
	Signers       []xlnwire.EntityID
	AccountConfig account.Config
}

// Message is one entry in the entity's own append-only log (§7), distinct
// from each account's own Messages.
type Message struct {
	Category string
	Text     string
}

// Entity is one participant's full in-process state: its reserves, every
// bilateral Account it holds open, and the three consensus layers that
// feed account mempools (§2's "control flow" paragraph). Entity is not
// safe for concurrent use from multiple goroutines — §5's single-threaded
// cooperative model means all mutation flows through the Inbox's
// dispatch loop.
type Entity struct {
	ID  xlnwire.EntityID
	Cfg Config

	Reserves map[xlnwire.TokenID]xlnwire.Amount
	Accounts map[xlnwire.EntityID]*account.Account

	Tracker *jblock.Tracker
	Batch   *jbatch.Accumulator
	Routes  *htlc.RouteTable

	Signer  signing.Signer
	Adapter jadapter.Adapter

	// Timestamp is the entity-logical clock (§3, §5): advanced by Tick
	// (a TimerTick input), which never moves it backwards, and also set
	// by cmd/xlnd from its clock at startup and before each Tick; read by every
	// deterministic operation that needs "now" (HTLC expiry, dispute
	// consensus-divergence bookkeeping).
	Timestamp uint64

	// queuedWorkspace tracks, per counterparty, the NonceAtSign of the
	// last settlement workspace this entity has already pushed into
	// Batch, so a just-committed frame whose workspace was already
	// queued on a prior commit is not queued twice (settle_execute
	// itself is idempotent at the account layer, but jbatch.QueueSettle
	// is not). Keyed on NonceAtSign rather than the workspace pointer:
	// account.clone()/restore() reallocate *settlement.Workspace on
	// every frame commit, so pointer identity breaks across the commit
	// that lands between settle_execute and the bilateral j-event that
	// eventually clears the workspace. NonceAtSign is stable across
	// that reallocation and only changes when a new settlement is
	// proposed.
	queuedWorkspace map[xlnwire.EntityID]uint64

	Messages []Message
}

func (e *Entity) log(category, format string, args ...interface{}) {
	e.Messages = append(e.Messages, Message{Category: category, Text: fmt.Sprintf(format, args...)})
}

// New constructs an Entity. entityNonce and lastFinalizedJHeight are
// typically recovered from persistence (or the adapter) at startup;
// jblock.Config.Threshold is taken from cfg.
func New(id xlnwire.EntityID, cfg Config, signer signing.Signer, adapter jadapter.Adapter, entityNonce, lastFinalizedJHeight uint64) *Entity {
	return &Entity{
		ID:              id,
		Cfg:             cfg,
		Reserves:        make(map[xlnwire.TokenID]xlnwire.Amount),
		Accounts:        make(map[xlnwire.EntityID]*account.Account),
		Tracker:         jblock.New(jblock.Config{Threshold: cfg.Threshold}, lastFinalizedJHeight),
		Batch:           jbatch.New(id, entityNonce),
		Routes:          htlc.NewRouteTable(),
		Signer:          signer,
		Adapter:         adapter,
		queuedWorkspace: make(map[xlnwire.EntityID]uint64),
	}
}

// Account returns the open account with counterparty, if any.
func (e *Entity) Account(counterparty xlnwire.EntityID) (*account.Account, bool) {
	a, ok := e.Accounts[counterparty]
	return a, ok
}

// EnsureAccount returns the account with counterparty, opening a fresh one
// under this entity's configured token defaults if none exists yet.
func (e *Entity) EnsureAccount(counterparty xlnwire.EntityID) *account.Account {
	if a, ok := e.Accounts[counterparty]; ok {
		return a
	}
	a := account.New(e.ID, counterparty, e.ID, e.Cfg.AccountConfig)
	e.Accounts[counterparty] = a
	return a
}

func (e *Entity) reserve(tok xlnwire.TokenID) xlnwire.Amount {
	if a, ok := e.Reserves[tok]; ok {
		return a
	}
	return xlnwire.ZeroAmount()
}

// MintReserves is the admin entity-level tx (§6): it credits tok directly
// to this entity's reserve balance with no on-chain round-trip. Reserved
// for bootstrap/test funding, not a production deposit path (a real
// deposit is observed as a ReserveUpdated j-event, handled in
// applyFinalizedEvent below).
func (e *Entity) MintReserves(tok xlnwire.TokenID, amount xlnwire.Amount) {
	e.Reserves[tok] = e.reserve(tok).Add(amount)
	e.log("system", "mint_reserves token=%d amount=%s", tok, amount)
}

// DepositCollateral is the deposit_collateral entity-level tx (§6): it
// queues a reserveToCollateral op onto the j-batch accumulator, moving
// reserve into a named counterparty account's on-chain collateral once
// the batch is broadcast and confirmed. It does not itself touch
// Reserves or the account's Delta — those only ever move on a
// bilaterally-finalized AccountSettled (§3's Delta lifecycle,
// §4.8 step 1), which is the sole authoritative mutation path.
func (e *Entity) DepositCollateral(counterparty xlnwire.EntityID, tok xlnwire.TokenID, amount xlnwire.Amount, rebalanceQuoteID uint64) error {
	if e.reserve(tok).Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientReserve, e.reserve(tok), amount)
	}
	e.Batch.QueueReserveToCollateral(jbatch.ReserveToCollateralOp{
		CounterpartyID: counterparty, TokenID: tok, Amount: amount, RebalanceQuoteID: rebalanceQuoteID,
	})
	e.log("rebalance", "deposit_collateral counterparty=%s token=%d amount=%s", counterparty, tok, amount)
	return nil
}

// QuoteRebalance issues a rebalance_quote in answer to counterparty's
// outstanding rebalance_request for tok (§3, §6): the entity-level
// issuance path a rebalance_quote can only be constructed through,
// since QuoteID is fixed to this entity's own logical timestamp at
// issuance — never recomputed on replay, the same reason SettlePropose's
// ProposerIsLeft is fixed at admission rather than inferred later.
func (e *Entity) QuoteRebalance(counterparty xlnwire.EntityID, tok xlnwire.TokenID, feeTokenID xlnwire.TokenID, feeAmount xlnwire.Amount) error {
	a, ok := e.Account(counterparty)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, counterparty)
	}
	if _, ok := a.RequestedRebalance[tok]; !ok {
		return fmt.Errorf("%w: token %d", ErrNoRebalanceRequest, tok)
	}
	return e.SubmitAccountTx(counterparty, xlnwire.AccountTx{
		Type: xlnwire.TxRebalanceQuote,
		RebalanceQuote: &xlnwire.RebalanceQuote{
			QuoteID: e.Timestamp, FeeTokenID: feeTokenID, FeeAmount: feeAmount,
			RequesterIsLeft: !a.IsLeft(),
		},
	})
}

// JBroadcast is the j_broadcast entity-level tx (§6, §4.6 step (a)-(c)):
// it captures the live batch, signs its hash, and submits it to the
// adapter. The returned handle is purely informational (§9: core never
// interprets it); confirmation arrives later as a HankoBatchProcessed
// j-event through ObserveJBlock.
func (e *Entity) JBroadcast() (jadapter.TxHandle, error) {
	batch, nonce, err := e.Batch.Broadcast()
	if err != nil {
		return "", err
	}
	hash := jbatch.Hash(e.ID, nonce, batch)
	hanko, err := e.Signer.Sign(hash)
	if err != nil {
		return "", fmt.Errorf("entity: signing j-batch: %w", err)
	}
	handle, err := e.Adapter.SubmitBatch(e.ID, nonce, hanko, batch)
	if err != nil {
		return "", fmt.Errorf("entity: submitting j-batch: %w", err)
	}
	e.log("system", "j_broadcast nonce=%d ops=%d handle=%s", nonce, batch.OpCount(), handle)
	return handle, nil
}

// SubmitAccountTx is the entity-level wrapper packaging an AccountTx into
// a named account's mempool (§6's "wrappers that package account
// transactions into a named account's mempool"). It opens the account if
// this is the first transaction exchanged with counterparty.
func (e *Entity) SubmitAccountTx(counterparty xlnwire.EntityID, tx xlnwire.AccountTx) error {
	return e.EnsureAccount(counterparty).AdmitTx(tx, e.Timestamp)
}

// ObserveJBlock is the j_event entity-level tx (§6, §4.7): one signer's
// observation of an L1 block. If this observation tips its (height,
// hash) group over threshold, every event in the finalized block is
// applied in order (§4.7 step c) and the result returned for the caller's
// visibility; nil otherwise.
func (e *Entity) ObserveJBlock(obs xlnwire.JBlockObservation) (*xlnwire.JBlockFinalized, error) {
	finalized, err := e.Tracker.Observe(obs)
	if err != nil {
		return nil, err
	}
	if finalized == nil {
		return nil, nil
	}
	for i := range finalized.Events {
		e.applyFinalizedEvent(&finalized.Events[i])
	}
	e.log("j-event", "finalized jblock height=%d events=%d", finalized.JHeight, len(finalized.Events))
	return finalized, nil
}

// applyFinalizedEvent routes one event of a just-finalized j-block to its
// handler (§4.7 step c): bilateral routing for AccountSettled (C8),
// C9 for disputes, C6 for batch finalization, and direct mutation for
// ReserveUpdated. Events with no payload or naming another entity are
// dropped without a log entry; an unhandled event type is recorded in
// Messages. No event is fatal (§7).
func (e *Entity) applyFinalizedEvent(ev *xlnwire.JurisdictionEvent) {
	switch ev.Type {
	case xlnwire.JEventReserveUpdated:
		e.applyReserveUpdated(ev.ReserveUpdated)
	case xlnwire.JEventAccountSettled:
		e.applyAccountSettled(ev.AccountSettled)
	case xlnwire.JEventHankoBatchProcessed:
		e.applyBatchProcessed(ev.HankoBatchProcessed)
	case xlnwire.JEventDisputeStarted:
		e.applyDisputeStarted(ev.DisputeStarted)
	case xlnwire.JEventDisputeFinalized:
		e.applyDisputeFinalized(ev.DisputeFinalized)
	case xlnwire.JEventSecretRevealed:
		if ev.SecretRevealed != nil {
			e.routeSecret(xlnwire.SecretRevealed{Hashlock: ev.SecretRevealed.Hashlock, Secret: ev.SecretRevealed.Secret})
		}
	default:
		e.log("j-event", "unhandled j-event type %s", ev.Type)
	}
}

// applyReserveUpdated directly mutates this entity's own reserve balance
// (§4.7: "direct mutation for ReserveUpdated"). Events naming a different
// entity are not ours to apply (every signer observes the same block, but
// only the named entity's own view mutates).
func (e *Entity) applyReserveUpdated(ru *xlnwire.ReserveUpdated) {
	if ru == nil || ru.Entity != e.ID {
		return
	}
	e.Reserves[ru.TokenID] = ru.NewBalance
	e.log("system", "reserve_updated token=%d balance=%s", ru.TokenID, ru.NewBalance)
}

// applyAccountSettled implements §4.8 steps 1-2 for the account this
// entity holds with the event's other party: mutate only this entity's
// own reserve side, then enqueue a j_event_claim into that account's own
// mempool so the next proposed frame carries our claim to the
// counterparty (who independently does the same on their own finalized
// copy of the same event; §4.8 steps 3-4 complete once both claims have
// been exchanged and committed, handled in jevent.TryFinalize via
// afterCommit below).
func (e *Entity) applyAccountSettled(s *xlnwire.AccountSettled) {
	if s == nil {
		return
	}
	var counterparty xlnwire.EntityID
	var ownReserve xlnwire.Amount
	switch e.ID {
	case s.LeftEntity:
		counterparty, ownReserve = s.RightEntity, s.LeftReserve
	case s.RightEntity:
		counterparty, ownReserve = s.LeftEntity, s.RightReserve
	default:
		return
	}

	e.Reserves[s.TokenID] = ownReserve

	a := e.EnsureAccount(counterparty)
	claim := xlnwire.JEventClaim{
		JHeight: s.Chain.BlockNumber, JBlockHash: s.Chain.BlockHash,
		Events:         []xlnwire.JurisdictionEvent{{Type: xlnwire.JEventAccountSettled, AccountSettled: s}},
		ClaimantIsLeft: a.IsLeft(),
	}
	if err := a.AdmitTx(xlnwire.AccountTx{Type: xlnwire.TxJEventClaim, JEventClaim: &claim}, e.Timestamp); err != nil {
		e.log("j-event", "account_settled claim rejected for %s: %v", counterparty, err)
	}
}

// applyBatchProcessed implements §4.6's finalization step: delegate to
// the accumulator and, on failure, unfreeze any rebalance fee states the
// requeued ops had frozen so a retry can be quoted again.
func (e *Entity) applyBatchProcessed(hbp *xlnwire.HankoBatchProcessed) {
	if hbp == nil || hbp.EntityID != e.ID {
		return
	}
	result := e.Batch.HandleBatchProcessed(hbp)
	if result.Duplicate {
		return
	}
	if result.Success {
		e.log("system", "hanko_batch_processed nonce=%d success", result.Nonce)
		return
	}
	e.log("system", "hanko_batch_processed nonce=%d failed (attempt %d)", result.Nonce, result.FailedAttempts)
	for _, op := range result.RequeuedOps.ReserveToCollateral {
		if a, ok := e.Accounts[op.CounterpartyID]; ok {
			delete(a.RequestedRebalanceFeeState, op.TokenID)
		}
	}
}

// applyDisputeStarted/applyDisputeFinalized delegate to dispute (C9) for
// whichever account the event names, then route any HTLC secrets C9
// recovered from the dispute's initialArguments exactly as a standalone
// SecretRevealed event would be (§4.9: "treat as an implicit
// SecretRevealed").
func (e *Entity) applyDisputeStarted(ev *xlnwire.DisputeStarted) {
	if ev == nil {
		return
	}
	a, ok := e.accountForParties(ev.Sender, ev.Counterentity)
	if !ok {
		return
	}
	res, err := dispute.HandleDisputeStarted(a, ev, e.Adapter)
	if err != nil {
		e.log("dispute", "dispute_started handling failed: %v", err)
		return
	}
	for _, secret := range res.RevealedSecrets {
		e.routeSecret(secret)
	}
}

func (e *Entity) applyDisputeFinalized(ev *xlnwire.DisputeFinalized) {
	if ev == nil {
		return
	}
	a, ok := e.accountForParties(ev.Sender, ev.Counterentity)
	if !ok {
		return
	}
	if err := dispute.HandleDisputeFinalized(a, ev, e.Adapter); err != nil {
		e.log("dispute", "dispute_finalized handling failed: %v", err)
	}
}

func (e *Entity) accountForParties(sender, counterentity xlnwire.EntityID) (*account.Account, bool) {
	switch e.ID {
	case sender:
		return e.Account(counterentity)
	case counterentity:
		return e.Account(sender)
	default:
		return nil, false
	}
}

// routeSecret propagates a revealed HTLC pre-image across every account
// that holds a lock under its hashlock where this entity is the
// receiver, i.e. the counterparty is the sender (§4.3's cross-hop
// routing, §4.9's dispute-revealed secrets). Accounts where we are the
// sender are left untouched: a sender already knows its own secret.
func (e *Entity) routeSecret(secret xlnwire.SecretRevealed) {
	for _, ref := range e.Routes.Lookup(secret.Hashlock) {
		a, ok := e.Account(ref.Counterparty)
		if !ok {
			continue
		}
		lock, ok := a.Locks[ref.LockID]
		if !ok {
			continue
		}
		if a.IsLeft() == lock.SenderIsLeft {
			continue // we are the sender on this account; nothing to propagate
		}
		tx := xlnwire.AccountTx{Type: xlnwire.TxHTLCResolve, HTLCResolve: &xlnwire.HTLCResolve{
			LockID: ref.LockID, Outcome: xlnwire.HTLCOutcomeSecret, Secret: secret.Secret,
		}}
		if err := a.AdmitTx(tx, e.Timestamp); err != nil {
			e.log("payment", "secret propagation to %s lock=%d failed: %v", ref.Counterparty, ref.LockID, err)
			continue
		}
		e.Routes.Unregister(secret.Hashlock, ref)
	}
}
