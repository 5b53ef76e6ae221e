package account

import (
	"errors"
	"fmt"

	"github.com/xlnfinance/xln/proof"
	"github.com/xlnfinance/xln/settlement"
	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

// hankoDomain domain-separates frame Hankos from j-batch and dispute
// Hankos so a signature can never be replayed across artifact kinds.
const hankoDomain = "xln/account-frame"

// settlementHankoDomain separates a settlement workspace's pre-computed
// post-settlement dispute proof Hanko from every other Hanko kind (§4.5).
const settlementHankoDomain = "xln/settlement-dispute-proof"

// signWorkspaceProof signs working's settlement workspace's pre-computed
// post-settlement dispute proof if it just became ready_to_submit and
// isn't signed yet, returning the fresh Hanko to piggyback on the
// AccountInput in flight (nil if there is nothing new to sign).
func signWorkspaceProof(working *Account, signer signing.Signer) (xlnwire.Hanko, error) {
	ws := working.Workspace
	if ws == nil || ws.Status != settlement.StatusReadyToSubmit || ws.PostSettlementDisputeProof == nil {
		return nil, nil
	}
	if len(ws.PostSettlementDisputeProof.OwnHanko) > 0 {
		return nil, nil
	}
	hanko, err := signer.Sign(signing.HashProofBody(settlementHankoDomain, ws.PostSettlementDisputeProof.ProofBodyHash))
	if err != nil {
		return nil, err
	}
	ws.PostSettlementDisputeProof.OwnHanko = hanko
	return hanko, nil
}

// storeCounterpartyWorkspaceHanko records the peer's Hanko over our
// settlement workspace's pre-computed post-settlement dispute proof, if
// one arrived and a workspace exists to attach it to.
func storeCounterpartyWorkspaceHanko(working *Account, hanko xlnwire.Hanko) {
	if len(hanko) == 0 || working.Workspace == nil || working.Workspace.PostSettlementDisputeProof == nil {
		return
	}
	working.Workspace.PostSettlementDisputeProof.CounterpartyHanko = hanko
}

var (
	// ErrStaleFrame is returned when a peer's proposed frame does not
	// carry the expected next nonce.
	ErrStaleFrame = errors.New("account: frame nonce does not match expected next nonce")

	// ErrProofMismatch is returned when replaying a peer's frame on our
	// own state does not reproduce the proof body hash they claim.
	ErrProofMismatch = errors.New("account: replayed proof body hash does not match peer's claim")
)

// ProposeFrame drains the mempool into a new frame (§4.4): it replays
// every queued tx in order against a working copy, aborts and requeues on
// the first failure, and otherwise signs and stages the result as
// PendingFrame awaiting the counterparty's counter-signature.
func (a *Account) ProposeFrame(now uint64, signer signing.Signer) (*xlnwire.AccountInput, error) {
	if a.Status == StatusDisputed {
		return nil, ErrAccountDisputed
	}
	if a.PendingFrame != nil {
		return nil, ErrFramePending
	}
	if len(a.Mempool) == 0 {
		return nil, ErrNoMempool
	}

	txs := append([]xlnwire.AccountTx(nil), a.Mempool...)
	working := a.clone()
	for i, tx := range txs {
		if err := working.applyTx(tx, now); err != nil {
			a.requeueAfterFailure(txs, i)
			return nil, fmt.Errorf("account: frame aborted on tx %d (%s): %w", i, tx.Type, err)
		}
	}

	nonce := a.NextNonce
	built := proof.Build(working.Snapshot(nonce))
	hanko, err := signer.Sign(signing.HashProofBody(hankoDomain, built.ProofBodyHash))
	if err != nil {
		return nil, fmt.Errorf("account: signing proposed frame: %w", err)
	}
	workspaceHanko, err := signWorkspaceProof(working, signer)
	if err != nil {
		return nil, fmt.Errorf("account: signing settlement workspace proof: %w", err)
	}

	frame := &xlnwire.Frame{Nonce: nonce, Txs: txs, ProofBodyHash: built.ProofBodyHash}
	input := &xlnwire.AccountInput{
		AccountID: a.id(), Nonce: nonce, NewFrame: frame, OwnHanko: hanko,
		PostSettlementHanko: workspaceHanko,
	}

	a.pendingWorkingState = working
	a.PendingFrame = frame
	a.PendingAccountInput = input
	a.Mempool = nil

	return input, nil
}

// requeueAfterFailure restores the mempool to its pre-proposal contents
// with the failing tx moved behind every other queued tx (§4.4: "leave
// mempool intact, requeue failed tx behind").
func (a *Account) requeueAfterFailure(txs []xlnwire.AccountTx, failedIdx int) {
	reordered := make([]xlnwire.AccountTx, 0, len(txs))
	reordered = append(reordered, txs[:failedIdx]...)
	reordered = append(reordered, txs[failedIdx+1:]...)
	reordered = append(reordered, txs[failedIdx])
	a.Mempool = reordered
}

func (a *Account) id() string {
	return a.LeftEntity.String() + ":" + a.RightEntity.String()
}

// ReceiveFrame handles a peer's proposed frame (§4.4). If we have no
// pending frame of our own, we validate by replaying peerFrame on our
// current state and, on a match, counter-sign and commit. If we do have a
// pending frame (a concurrent proposal race), the tie-break applies: the
// left entity's proposal always wins, so the right side rolls back its
// own pending frame and then processes the peer's as in the no-conflict
// case.
func (a *Account) ReceiveFrame(peerFrame *xlnwire.Frame, peerInput *xlnwire.AccountInput, now uint64, signer signing.Signer) (*xlnwire.AccountInput, error) {
	if a.Status == StatusDisputed {
		return nil, ErrAccountDisputed
	}
	if peerFrame.Nonce != a.NextNonce {
		return nil, fmt.Errorf("%w: want %d got %d", ErrStaleFrame, a.NextNonce, peerFrame.Nonce)
	}

	if a.PendingFrame != nil {
		if a.IsLeft() {
			// We are left and hold a competing pending frame: we win the
			// tie-break unconditionally, so the peer's frame is rejected
			// and they are expected to roll back on their end.
			return nil, ErrFramePending
		}
		a.rollbackPendingFrame()
	}

	working := a.clone()
	for i, tx := range peerFrame.Txs {
		if err := working.applyTx(tx, now); err != nil {
			return nil, fmt.Errorf("account: peer frame tx %d (%s) rejected: %w", i, tx.Type, err)
		}
	}
	built := proof.Build(working.Snapshot(peerFrame.Nonce))
	if built.ProofBodyHash != peerFrame.ProofBodyHash {
		return nil, ErrProofMismatch
	}

	myHanko, err := signer.Sign(signing.HashProofBody(hankoDomain, built.ProofBodyHash))
	if err != nil {
		return nil, fmt.Errorf("account: signing counter-signature: %w", err)
	}
	storeCounterpartyWorkspaceHanko(working, peerInput.PostSettlementHanko)
	workspaceHanko, err := signWorkspaceProof(working, signer)
	if err != nil {
		return nil, fmt.Errorf("account: signing settlement workspace proof: %w", err)
	}

	a.restore(working)
	a.NextNonce = peerFrame.Nonce + 1
	a.CurrentDisputeProofHanko = myHanko
	a.CurrentDisputeProofNonce = peerFrame.Nonce
	a.CurrentDisputeProofBodyHash = built.ProofBodyHash
	a.CounterpartyDisputeProofHanko = peerInput.OwnHanko
	a.CounterpartyDisputeProofNonce = peerFrame.Nonce
	a.CounterpartyDisputeProofBodyHash = built.ProofBodyHash
	a.log("system", "committed frame nonce=%d (peer-proposed)", peerFrame.Nonce)

	return &xlnwire.AccountInput{
		AccountID: a.id(), Nonce: peerFrame.Nonce, CounterHanko: myHanko,
		PostSettlementHanko: workspaceHanko,
	}, nil
}

// rollbackPendingFrame discards our own in-flight proposal after losing a
// tie-break: its txs return to the front of the mempool, ahead of
// whatever was admitted since (§4.4, §8 S4).
func (a *Account) rollbackPendingFrame() {
	log.Debugf("rolling back pending frame %s on account %s/%s (rollback #%d)",
		a.PendingFrame.ProofBodyHash, a.LeftEntity, a.RightEntity, a.RollbackCount+1)
	a.Mempool = append(append([]xlnwire.AccountTx(nil), a.PendingFrame.Txs...), a.Mempool...)
	a.RollbackCount++
	a.LastRollbackFrameHash = a.PendingFrame.ProofBodyHash
	a.PendingFrame = nil
	a.PendingAccountInput = nil
	a.pendingWorkingState = nil
	a.log("system", "rolled back pending frame (lost tie-break)")
}

// ReceiveCounterSignature finalizes our own proposed frame once the
// counterparty's counter-Hanko arrives (§4.4's "committing" step). The
// caller is responsible for verifying counterHanko against the
// counterparty's known key before calling this.
func (a *Account) ReceiveCounterSignature(reply *xlnwire.AccountInput) error {
	if a.PendingFrame == nil {
		return errors.New("account: no pending frame to commit")
	}
	frame := a.PendingFrame
	input := a.PendingAccountInput

	storeCounterpartyWorkspaceHanko(a.pendingWorkingState, reply.PostSettlementHanko)

	a.restore(a.pendingWorkingState)
	a.NextNonce = frame.Nonce + 1
	a.CurrentDisputeProofHanko = input.OwnHanko
	a.CurrentDisputeProofNonce = frame.Nonce
	a.CurrentDisputeProofBodyHash = frame.ProofBodyHash
	a.CounterpartyDisputeProofHanko = reply.CounterHanko
	a.CounterpartyDisputeProofNonce = frame.Nonce
	a.CounterpartyDisputeProofBodyHash = frame.ProofBodyHash

	a.PendingFrame = nil
	a.PendingAccountInput = nil
	a.pendingWorkingState = nil
	a.log("system", "committed frame nonce=%d (self-proposed)", frame.Nonce)
	return nil
}
