// Package jevent implements bilateral j-event consensus for AccountSettled
// (C8): an on-chain settlement may never mutate shared account state
// unilaterally, so each side's claim of what it observed on L1 is staged
// on its own side of the account (§4.4's normal mempool/frame path) until
// the counterparty's matching claim arrives, at which point both sides'
// claims are cross-checked and, only on an exact match, applied together.
// Grounded on contractcourt/chain_watcher.go's cross-component
// coordination (a watcher's view is not acted on until corroborated) and
// channel.go's dual left/right bookkeeping (every account-level quantity
// this package touches already exists in two independently-held copies).
package jevent

import (
	"fmt"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/xlnwire"
)

// Result reports the outcome of TryFinalize.
type Result struct {
	Matched     bool
	Mismatched  bool
	JHeight     uint64
	JBlockHash  xlnwire.Hash256
	Settlements []xlnwire.AccountSettled
}

// TryFinalize looks for a (jHeight, jBlockHash) claim present on both of
// a's observation queues (§4.8 step 4). If found and their normalized
// event multisets agree, it applies every AccountSettled event in the
// batch that names this account and removes the consumed claims from
// both queues. If found but the multisets disagree, it is logged and
// left unapplied — divergent source data, not a rollback condition — and
// both claims remain queued in case a corrective claim arrives later.
func TryFinalize(a *account.Account) *Result {
	for li, left := range a.LeftJObservations {
		for ri, right := range a.RightJObservations {
			if left.JHeight != right.JHeight || left.JBlockHash != right.JBlockHash {
				continue
			}

			res := &Result{JHeight: left.JHeight, JBlockHash: left.JBlockHash}
			if !xlnwire.EventMultisetsEqual(left.Events, right.Events) {
				res.Mismatched = true
				log.Warnf("j-event divergence at height %d: left/right claims disagree", left.JHeight)
				a.Messages = append(a.Messages, account.Message{
					Category: "j-event",
					Text:     fmt.Sprintf("j-event divergence: left/right claims disagree at height %d", left.JHeight),
				})
				return res
			}

			settlements := apply(a, left.Events)
			res.Matched = true
			res.Settlements = settlements

			a.LeftJObservations = removeAt(a.LeftJObservations, li)
			a.RightJObservations = removeAt(a.RightJObservations, ri)
			log.Debugf("finalized j-event batch at height %d (%d settlements)", left.JHeight, len(settlements))
			a.Messages = append(a.Messages, account.Message{
				Category: "j-event",
				Text:     fmt.Sprintf("finalized j-event batch at height %d", left.JHeight),
			})
			return res
		}
	}
	return &Result{}
}

// apply mutates a per the matched batch's AccountSettled events that name
// this account (§4.8 step 5), returning the settlements actually applied.
func apply(a *account.Account, events []xlnwire.JurisdictionEvent) []xlnwire.AccountSettled {
	var applied []xlnwire.AccountSettled
	for _, e := range events {
		if e.Type != xlnwire.JEventAccountSettled {
			continue
		}
		s := e.AccountSettled
		if !namesAccount(a, s.LeftEntity, s.RightEntity) {
			continue
		}

		d := a.Delta(s.TokenID)
		d.Collateral = s.Collateral
		d.Ondelta = s.Ondelta
		settleRebalance(a, s.TokenID, s.Collateral)

		a.OnChainSettlementNonce = s.Nonce
		activateWorkspace(a)

		applied = append(applied, *s)
	}
	return applied
}

func namesAccount(a *account.Account, left, right xlnwire.EntityID) bool {
	return left == a.LeftEntity && right == a.RightEntity
}

// settleRebalance fulfils a pending requestedRebalance for tok (fully, or
// by decrementing for a partial fill), clearing its fee-frozen state so a
// later cycle can request again (§4.8 step 5).
func settleRebalance(a *account.Account, tok xlnwire.TokenID, collateralIncrease xlnwire.Amount) {
	requested, ok := a.RequestedRebalance[tok]
	if !ok {
		return
	}
	remaining := requested.Sub(collateralIncrease)
	if remaining.Sign() <= 0 {
		delete(a.RequestedRebalance, tok)
	} else {
		a.RequestedRebalance[tok] = remaining
	}
	delete(a.RequestedRebalanceFeeState, tok)
}

// activateWorkspace promotes the settlement workspace's pre-computed
// post-settlement dispute proof to the account's current dispute proof
// and clears the workspace (§4.5, §4.8 step 5). A no-op if no workspace
// was staged for this settlement (a direct collateral deposit with no
// prior settle_propose/approve cycle).
func activateWorkspace(a *account.Account) {
	if a.Workspace == nil || a.Workspace.PostSettlementDisputeProof == nil {
		return
	}
	pre := a.Workspace.PostSettlementDisputeProof
	if !pre.Ready() {
		return
	}
	a.CurrentDisputeProofHanko = pre.OwnHanko
	a.CurrentDisputeProofNonce = pre.Nonce
	a.CurrentDisputeProofBodyHash = pre.ProofBodyHash
	a.CounterpartyDisputeProofHanko = pre.CounterpartyHanko
	a.CounterpartyDisputeProofNonce = pre.Nonce
	a.CounterpartyDisputeProofBodyHash = pre.ProofBodyHash
	a.Workspace = nil
}

func removeAt(claims []xlnwire.JEventClaim, i int) []xlnwire.JEventClaim {
	out := append([]xlnwire.JEventClaim(nil), claims[:i]...)
	return append(out, claims[i+1:]...)
}
