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
	// ErrLockExists is returned when an htlc_add reuses a LockID already
	// in use on this account.
	ErrLockExists = errors.New("account: lock id already in use")

	// ErrUnknownParty is returned when a direct_payment or htlc_add names
	// neither side of the account as sender/recipient.
	ErrUnknownParty = errors.New("account: unrecognized sender or recipient")

	// ErrNoSettlementWorkspace is returned when a settle_approve or
	// settle_execute arrives with no staged settlement proposal.
	ErrNoSettlementWorkspace = errors.New("account: no settlement workspace staged")

	// ErrQuoteExpired is returned when a rebalance_accept arrives after
	// its quote's QuoteExpiryMS window against the entity-logical clock
	// (§5: "Quote expiry uses QUOTE_EXPIRY_MS against the entity-logical
	// clock").
	ErrQuoteExpired = errors.New("account: rebalance quote expired")
)

// QuoteExpiryMS bounds how long a rebalance_quote remains acceptable,
// measured against the entity-logical clock from QuoteID (the quote's
// issuance timestamp, §3/§5).
const QuoteExpiryMS = 30_000

// applyTx mutates a (validating as it goes) to reflect tx, at entity
// logical timestamp now. It is the single implementation both mempool
// admission (applied to a throwaway clone) and frame building (applied to
// the real working copy) share, so "validate" and "apply" can never drift
// apart (§8's round-trip law: apply(tx, s) == validate_and_apply(tx, s)).
func (a *Account) applyTx(tx xlnwire.AccountTx, now uint64) error {
	switch tx.Type {
	case xlnwire.TxDirectPayment:
		return a.applyDirectPayment(tx.DirectPayment)
	case xlnwire.TxHTLCAdd:
		return a.applyHTLCAdd(tx.HTLCAdd)
	case xlnwire.TxHTLCResolve:
		return a.applyHTLCResolve(tx.HTLCResolve, now)
	case xlnwire.TxSetCreditLimit:
		return a.applySetCreditLimit(tx.SetCreditLimit)
	case xlnwire.TxSetAllowance:
		return a.applySetAllowance(tx.SetAllowance)
	case xlnwire.TxSettlePropose:
		return a.applySettlePropose(tx.SettlePropose)
	case xlnwire.TxSettleApprove:
		return a.applySettleApprove(tx.SettleApprove)
	case xlnwire.TxSettleExecute:
		return a.applySettleExecute()
	case xlnwire.TxJEventClaim:
		return a.applyJEventClaim(tx.JEventClaim, now)
	case xlnwire.TxRebalanceRequest:
		return a.applyRebalanceRequest(tx.RebalanceRequest)
	case xlnwire.TxRebalanceQuote:
		return a.applyRebalanceQuote(tx.RebalanceQuote)
	case xlnwire.TxRebalanceAccept:
		return a.applyRebalanceAccept(tx.RebalanceAccept, now)
	case xlnwire.TxSetRebalancePolicy:
		return nil // policy bits live at the entity layer; no delta mutation here
	default:
		return fmt.Errorf("account: unknown tx type %d", tx.Type)
	}
}

// shiftFor returns the signed offdelta shift a payment of amount from
// `from` produces: positive when from is the left entity (§8 S1: "A
// (left) sends direct_payment{30} to B" commits with offdelta = +30),
// negative when from is the right entity.
func (a *Account) shiftFor(from xlnwire.EntityID, amount xlnwire.Amount) (xlnwire.Amount, error) {
	switch from {
	case a.LeftEntity:
		return amount, nil
	case a.RightEntity:
		return amount.Neg(), nil
	default:
		return xlnwire.Amount{}, ErrUnknownParty
	}
}

func (a *Account) applyDirectPayment(p *xlnwire.DirectPayment) error {
	if p.To != a.LeftEntity && p.To != a.RightEntity {
		return ErrUnknownParty
	}
	shift, err := a.shiftFor(p.From, p.Amount)
	if err != nil {
		return err
	}
	senderIsLeft := p.From == a.LeftEntity
	d := a.delta(p.TokenID)
	der := deltas.Derive(*d, senderIsLeft)
	if der.OutCapacity.Cmp(p.Amount) < 0 {
		return fmt.Errorf("account: %w: sender outCapacity %s < amount %s",
			htlc.ErrInsufficientCapacity, der.OutCapacity, p.Amount)
	}
	d.Offdelta = d.Offdelta.Add(shift)
	a.log("payment", "direct_payment %s %s -> %s", p.Amount, p.From, p.To)
	return nil
}

func (a *Account) applyHTLCAdd(h *xlnwire.HTLCAdd) error {
	if _, exists := a.Locks[h.LockID]; exists {
		return ErrLockExists
	}
	d := a.delta(h.TokenID)
	der := deltas.Derive(*d, h.SenderIsLeft)
	if err := htlc.ValidateAdd(der.OutCapacity, h.Amount); err != nil {
		return err
	}
	a.Locks[h.LockID] = htlc.Lock{
		LockID: h.LockID, Hashlock: h.Hashlock, Amount: h.Amount,
		TokenID: h.TokenID, Expiry: h.Expiry, SenderIsLeft: h.SenderIsLeft,
	}
	a.log("payment", "htlc_add lock=%d amount=%s expiry=%d", h.LockID, h.Amount, h.Expiry)
	return nil
}

func (a *Account) applyHTLCResolve(r *xlnwire.HTLCResolve, now uint64) error {
	lock, ok := a.Locks[r.LockID]
	if !ok {
		return htlc.ErrLockNotFound
	}
	switch r.Outcome {
	case xlnwire.HTLCOutcomeSecret:
		shift, err := htlc.ResolveBySecret(lock, r.Secret)
		if err != nil {
			return err
		}
		d := a.delta(lock.TokenID)
		d.Offdelta = d.Offdelta.Add(shift)
		a.log("payment", "htlc_resolve lock=%d by secret", r.LockID)
	case xlnwire.HTLCOutcomeExpiry:
		if err := htlc.ResolveByExpiry(lock, now); err != nil {
			return err
		}
		a.log("payment", "htlc_resolve lock=%d by expiry", r.LockID)
	default:
		return fmt.Errorf("account: unknown htlc outcome %d", r.Outcome)
	}
	delete(a.Locks, r.LockID)
	return nil
}

func (a *Account) applySetCreditLimit(s *xlnwire.SetCreditLimit) error {
	d := a.delta(s.TokenID)
	if s.SetLeft {
		d.LeftCreditLimit = s.CreditLimit
	} else {
		d.RightCreditLimit = s.CreditLimit
	}
	a.log("system", "set_credit_limit token=%d left=%t limit=%s", s.TokenID, s.SetLeft, s.CreditLimit)
	return nil
}

func (a *Account) applySetAllowance(s *xlnwire.SetAllowance) error {
	d := a.delta(s.TokenID)
	if s.SetLeft {
		d.LeftAllowance = s.Allowance
	} else {
		d.RightAllowance = s.Allowance
	}
	a.log("system", "set_allowance token=%d left=%t allowance=%s", s.TokenID, s.SetLeft, s.Allowance)
	return nil
}

// applySettlePropose stages a new settlement workspace. ProposerIsLeft is
// carried on the tx itself (fixed at admission time by whichever side
// proposed it) rather than inferred from this working copy's own Self,
// since the same tx is later replayed on the counterparty's state, where
// IsLeft() would reflect the wrong side.
func (a *Account) applySettlePropose(p *xlnwire.SettlePropose) error {
	if a.Workspace != nil {
		return settlement.ErrAlreadyStaged
	}
	a.Workspace = settlement.Propose(p.Diffs, p.ProposerIsLeft, p.Hanko, a.NextNonce)
	a.log("settlement", "settle_propose staged, %d token diffs", len(p.Diffs))
	return nil
}

// applySettleApprove completes the 2-of-2 over the staged settlement tx
// and computes (unsigned) the post-settlement dispute proof by previewing
// the diffs applied against this working copy's current state.
func (a *Account) applySettleApprove(ap *xlnwire.SettleApprove) error {
	if a.Workspace == nil {
		return ErrNoSettlementWorkspace
	}
	snapshot := a.previewSettleSnapshot(a.Workspace.Diffs)
	if err := settlement.Approve(a.Workspace, ap.ApproverIsLeft, ap.Hanko, snapshot); err != nil {
		return err
	}
	a.log("settlement", "settle_approve, workspace ready_to_submit")
	return nil
}

func (a *Account) applySettleExecute() error {
	if a.Workspace == nil {
		return ErrNoSettlementWorkspace
	}
	if err := settlement.Execute(a.Workspace); err != nil {
		return err
	}
	a.log("settlement", "settle_execute queued to j-batch")
	return nil
}

// previewSettleSnapshot returns the proof.Snapshot this account would
// commit to at NextNonce if diffs were applied on top of the current
// state, without mutating the account (§4.5's pre-computed
// postSettlementDisputeProof).
func (a *Account) previewSettleSnapshot(diffs []xlnwire.SettleDiff) proof.Snapshot {
	working := a.clone()
	for _, d := range diffs {
		td := working.delta(d.TokenID)
		td.Collateral = td.Collateral.Add(d.CollateralDelta)
		td.Ondelta = td.Ondelta.Add(d.OndeltaDelta)
	}
	return working.Snapshot(a.NextNonce)
}

func (a *Account) applyJEventClaim(c *xlnwire.JEventClaim, now uint64) error {
	claim := *c
	claim.ObservedAt = now
	if c.ClaimantIsLeft {
		a.LeftJObservations = append(a.LeftJObservations, claim)
	} else {
		a.RightJObservations = append(a.RightJObservations, claim)
	}
	a.log("j-event", "j_event_claim height=%d events=%d", c.JHeight, len(c.Events))
	return nil
}

func (a *Account) applyRebalanceRequest(r *xlnwire.RebalanceRequest) error {
	a.RequestedRebalance[r.TokenID] = r.Amount
	a.log("rebalance", "rebalance_request token=%d amount=%s", r.TokenID, r.Amount)
	return nil
}

func (a *Account) applyRebalanceQuote(q *xlnwire.RebalanceQuote) error {
	a.ActiveRebalanceQuote = &RebalanceQuoteState{
		QuoteID: q.QuoteID, FeeTokenID: q.FeeTokenID, FeeAmount: q.FeeAmount,
		RequesterIsLeft: q.RequesterIsLeft,
	}
	a.log("rebalance", "rebalance_quote id=%d fee=%s", q.QuoteID, q.FeeAmount)
	return nil
}

// applyRebalanceAccept completes a quoted rebalance cycle: it rejects a
// quote that has aged past QuoteExpiryMS against now (§5, §7: expired
// quotes are a validation failure, so the tx fails and state is left
// untouched), then pays the quoted fee by shifting offdelta from the
// requester to the quoting side exactly as a direct_payment would (§9
// design note 4), since the requester's acceptance is itself the
// authorization for that bilateral debit.
func (a *Account) applyRebalanceAccept(acc *xlnwire.RebalanceAccept, now uint64) error {
	q := a.ActiveRebalanceQuote
	if q == nil || q.QuoteID != acc.QuoteID {
		return fmt.Errorf("account: no matching rebalance quote %d", acc.QuoteID)
	}
	if now > q.QuoteID+QuoteExpiryMS {
		return fmt.Errorf("%w: quote %d issued at %d, now %d", ErrQuoteExpired, q.QuoteID, q.QuoteID, now)
	}

	from, to := a.RightEntity, a.LeftEntity
	if q.RequesterIsLeft {
		from, to = a.LeftEntity, a.RightEntity
	}
	if err := a.applyDirectPayment(&xlnwire.DirectPayment{
		From: from, To: to, TokenID: q.FeeTokenID, Amount: q.FeeAmount,
		Description: "rebalance quote fee",
	}); err != nil {
		return fmt.Errorf("account: rebalance fee payment: %w", err)
	}

	q.Accepted = true
	a.RequestedRebalanceFeeState[q.FeeTokenID] = true
	a.log("rebalance", "rebalance_accept id=%d", acc.QuoteID)
	return nil
}
