package entity

import (
	"fmt"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/jevent"
	"github.com/xlnfinance/xln/settlement"
	"github.com/xlnfinance/xln/xlnwire"
)

// Outbound is one AccountInput this entity needs to hand to the transport
// layer for delivery to counterparty (§6's account-transport interface).
type Outbound struct {
	Counterparty xlnwire.EntityID
	Input        *xlnwire.AccountInput
}

// Tick drains every account whose mempool is non-empty and idle into a
// freshly proposed frame (§4.4's "frame proposal (when idle and mempool
// non-empty)"), advancing the entity-logical clock to now first (§5: "the
// core reads the entity's logical timestamp... explicit event data
// only"). It is the entity-level analogue of peer.go's channelManager
// loop reacting to a timer tick. Accounts with nothing queued, or already
// awaiting a counter-signature, are left untouched.
func (e *Entity) Tick(now uint64) []Outbound {
	if now > e.Timestamp {
		e.Timestamp = now
	}
	var out []Outbound
	for counterparty, a := range e.Accounts {
		if len(a.Mempool) == 0 || a.PendingFrame != nil {
			continue
		}
		input, err := a.ProposeFrame(e.Timestamp, e.Signer)
		if err != nil {
			e.log("system", "propose_frame %s failed: %v", counterparty, err)
			continue
		}
		e.afterCommit(counterparty, a)
		out = append(out, Outbound{Counterparty: counterparty, Input: input})
	}
	return out
}

// HandleCounterpartyFrame processes a peer's proposed frame for the named
// counterparty's account (§4.4's counter-signing step), returning the
// counter-signature AccountInput to send back.
func (e *Entity) HandleCounterpartyFrame(counterparty xlnwire.EntityID, peerFrame *xlnwire.Frame, peerInput *xlnwire.AccountInput) (*xlnwire.AccountInput, error) {
	a, ok := e.Account(counterparty)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, counterparty)
	}
	reply, err := a.ReceiveFrame(peerFrame, peerInput, e.Timestamp, e.Signer)
	if err != nil {
		return nil, err
	}
	e.afterCommit(counterparty, a)
	return reply, nil
}

// HandleCounterSignature finalizes this entity's own pending frame once
// the counterparty's counter-Hanko arrives (§4.4's "committing" step).
func (e *Entity) HandleCounterSignature(counterparty xlnwire.EntityID, reply *xlnwire.AccountInput) error {
	a, ok := e.Account(counterparty)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, counterparty)
	}
	if err := a.ReceiveCounterSignature(reply); err != nil {
		return err
	}
	e.afterCommit(counterparty, a)
	return nil
}

// afterCommit runs the two pieces of bookkeeping every successful frame
// commit must check regardless of which path committed it (our own
// proposal, a peer's proposal, or our peer's counter-signature of our
// own): §4.8's bilateral j-event match, and §4.5's settle_execute ->
// j-batch handoff.
func (e *Entity) afterCommit(counterparty xlnwire.EntityID, a *account.Account) {
	if res := jevent.TryFinalize(a); res.Matched {
		log.Debugf("entity %s: bilateral j-event finalized with %s at height %d", e.ID, counterparty, res.JHeight)
		e.log("j-event", "bilateral j-event finalized with %s at height %d", counterparty, res.JHeight)
	}
	e.queueSettlementIfReady(counterparty, a)
}

// queueSettlementIfReady pushes a just-settle_executed workspace's diffs
// onto the j-batch accumulator (§4.5 -> §4.6 handoff: settlement.Execute
// only marks the workspace Submitted, since the settlement package has no
// visibility into the entity's j-batch). Idempotent across repeated
// commits of the same account by tracking the NonceAtSign of the last
// workspace already queued, not the workspace pointer: account.clone()/
// restore() reallocate a fresh *settlement.Workspace on every commit, so
// a frame commit unrelated to settlement that lands between
// settle_execute and the bilateral j-event that clears the workspace
// would otherwise look like a brand-new, never-queued workspace and get
// re-queued, double-submitting the settlement on-chain.
func (e *Entity) queueSettlementIfReady(counterparty xlnwire.EntityID, a *account.Account) {
	ws := a.Workspace
	if ws == nil || ws.Status != settlement.StatusSubmitted {
		return
	}
	if already, ok := e.queuedWorkspace[counterparty]; ok && already == ws.NonceAtSign {
		return
	}
	e.Batch.QueueSettle(jbatch.SettleOp{CounterpartyID: counterparty, Diffs: ws.Diffs})
	e.queuedWorkspace[counterparty] = ws.NonceAtSign
	e.log("settlement", "settle_execute queued to j-batch for %s, %d diffs", counterparty, len(ws.Diffs))
}
