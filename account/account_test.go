package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

// fakeSigner is a deterministic stand-in for a real Signer, sufficient to
// exercise the ASM's propose/counter-sign/commit cycle without pulling
// ECDSA key material into every test.
type fakeSigner struct {
	id byte
}

func (f fakeSigner) Sign(hash xlnwire.Hash256) (xlnwire.Hanko, error) {
	out := make(xlnwire.Hanko, 1+len(hash))
	out[0] = f.id
	copy(out[1:], hash[:])
	return out, nil
}

func (f fakeSigner) Verify(hash xlnwire.Hash256, hanko xlnwire.Hanko, signer xlnwire.EntityID) error {
	return nil
}

var _ signing.Signer = fakeSigner{}

func amt(v int64) xlnwire.Amount { return xlnwire.NewAmount(v) }

func entityID(b byte) xlnwire.EntityID {
	var id xlnwire.EntityID
	id[len(id)-1] = b
	return id
}

func newPair(tok xlnwire.TokenID, leftCredit, rightCredit xlnwire.Amount) (a, b *Account) {
	left, right := entityID(1), entityID(2)
	cfg := Config{TokenDefaults: map[xlnwire.TokenID]TokenDefault{
		tok: {LeftCreditLimit: leftCredit, RightCreditLimit: rightCredit},
	}}
	a = New(left, right, left, cfg)
	b = New(left, right, right, cfg)
	return a, b
}

const tok = xlnwire.TokenID(1)

func TestProposeCounterSignCommitConverges(t *testing.T) {
	a, b := newPair(tok, amt(50), amt(50))
	a.delta(tok).Collateral = amt(100)
	b.delta(tok).Collateral = amt(100)

	payment := xlnwire.AccountTx{Type: xlnwire.TxDirectPayment, DirectPayment: &xlnwire.DirectPayment{
		From: a.LeftEntity, To: a.RightEntity, TokenID: tok, Amount: amt(30),
	}}
	require.NoError(t, a.AdmitTx(payment, 1))

	input, err := a.ProposeFrame(1, fakeSigner{id: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), input.Nonce)

	counterReply, err := b.ReceiveFrame(input.NewFrame, input, 1, fakeSigner{id: 2})
	require.NoError(t, err)

	require.NoError(t, a.ReceiveCounterSignature(counterReply))

	require.Equal(t, int64(30), a.Deltas[tok].Offdelta.Int64())
	require.Equal(t, int64(30), b.Deltas[tok].Offdelta.Int64())
	require.Equal(t, uint64(2), a.NextNonce)
	require.Equal(t, uint64(2), b.NextNonce)
	require.Nil(t, a.PendingFrame)
	require.Equal(t, a.CurrentDisputeProofBodyHash, b.CounterpartyDisputeProofBodyHash)
	require.Equal(t, b.CurrentDisputeProofBodyHash, a.CounterpartyDisputeProofBodyHash)
}

func TestAdmitTxRejectsInsufficientCapacity(t *testing.T) {
	a, _ := newPair(tok, amt(0), amt(0))

	tooBig := xlnwire.AccountTx{Type: xlnwire.TxDirectPayment, DirectPayment: &xlnwire.DirectPayment{
		From: a.LeftEntity, To: a.RightEntity, TokenID: tok, Amount: amt(10),
	}}
	err := a.AdmitTx(tooBig, 1)
	require.Error(t, err)
	require.Empty(t, a.Mempool)
}

func TestConcurrentProposalLeftWinsRightRollsBack(t *testing.T) {
	a, b := newPair(tok, amt(100), amt(100))
	// Seed both sides with matching, already-converged state giving the
	// right entity some outbound capacity to spend in this test (at a
	// freshly opened, perfectly balanced account the right side's
	// collateral-backed send capacity is zero by construction, per
	// §4.1's collateral assignment).
	a.delta(tok).Collateral = amt(100)
	a.delta(tok).Offdelta = amt(-20)
	b.delta(tok).Collateral = amt(100)
	b.delta(tok).Offdelta = amt(-20)

	payA := xlnwire.AccountTx{Type: xlnwire.TxDirectPayment, DirectPayment: &xlnwire.DirectPayment{
		From: a.LeftEntity, To: a.RightEntity, TokenID: tok, Amount: amt(10),
	}}
	payB := xlnwire.AccountTx{Type: xlnwire.TxDirectPayment, DirectPayment: &xlnwire.DirectPayment{
		From: b.RightEntity, To: b.LeftEntity, TokenID: tok, Amount: amt(5),
	}}
	require.NoError(t, a.AdmitTx(payA, 1))
	require.NoError(t, b.AdmitTx(payB, 1))

	inputA, err := a.ProposeFrame(1, fakeSigner{id: 1})
	require.NoError(t, err)
	inputB, err := b.ProposeFrame(1, fakeSigner{id: 2})
	require.NoError(t, err)

	// B (right) receives A's (left) frame while holding its own pending
	// frame: B must roll back and accept A's.
	replyFromB, err := b.ReceiveFrame(inputA.NewFrame, inputA, 1, fakeSigner{id: 2})
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.RollbackCount)
	require.Contains(t, b.Mempool, payB)

	// A (left) receives B's frame while still holding its own pending
	// frame: A wins the tie-break and rejects it outright.
	_, err = a.ReceiveFrame(inputB.NewFrame, inputB, 1, fakeSigner{id: 1})
	require.ErrorIs(t, err, ErrFramePending)

	require.NoError(t, a.ReceiveCounterSignature(replyFromB))

	// Only A's frame (payA) ever committed; B's own proposal (payB) was
	// rolled back and never re-proposed in this test.
	require.Equal(t, int64(-10), a.Deltas[tok].Offdelta.Int64())
	require.Equal(t, int64(-10), b.Deltas[tok].Offdelta.Int64())
}

func TestDisputedAccountRejectsFrameAdvancement(t *testing.T) {
	a, _ := newPair(tok, amt(50), amt(50))
	a.Status = StatusDisputed

	tx := xlnwire.AccountTx{Type: xlnwire.TxDirectPayment, DirectPayment: &xlnwire.DirectPayment{
		From: a.LeftEntity, To: a.RightEntity, TokenID: tok, Amount: amt(1),
	}}
	require.ErrorIs(t, a.AdmitTx(tx, 1), ErrAccountDisputed)
}

func TestHTLCAddThenResolveBySecret(t *testing.T) {
	a, b := newPair(tok, amt(0), amt(0))
	a.delta(tok).Collateral = amt(100)
	b.delta(tok).Collateral = amt(100)

	var secret [32]byte
	secret[0] = 0x7
	hashlock := htlc.HashSecret(secret)

	add := xlnwire.AccountTx{Type: xlnwire.TxHTLCAdd, HTLCAdd: &xlnwire.HTLCAdd{
		LockID: 1, Hashlock: hashlock, Amount: amt(40), TokenID: tok, Expiry: 1000, SenderIsLeft: true,
	}}
	require.NoError(t, a.AdmitTx(add, 1))
	inputAdd, err := a.ProposeFrame(1, fakeSigner{id: 1})
	require.NoError(t, err)
	ch, err := b.ReceiveFrame(inputAdd.NewFrame, inputAdd, 1, fakeSigner{id: 2})
	require.NoError(t, err)
	require.NoError(t, a.ReceiveCounterSignature(ch))
	require.Contains(t, a.Locks, xlnwire.LockID(1))
	require.Contains(t, b.Locks, xlnwire.LockID(1))

	resolve := xlnwire.AccountTx{Type: xlnwire.TxHTLCResolve, HTLCResolve: &xlnwire.HTLCResolve{
		LockID: 1, Outcome: xlnwire.HTLCOutcomeSecret, Secret: secret,
	}}
	require.NoError(t, b.AdmitTx(resolve, 2))
	inputResolve, err := b.ProposeFrame(2, fakeSigner{id: 2})
	require.NoError(t, err)
	ch2, err := a.ReceiveFrame(inputResolve.NewFrame, inputResolve, 2, fakeSigner{id: 1})
	require.NoError(t, err)
	require.NoError(t, b.ReceiveCounterSignature(ch2))

	require.NotContains(t, a.Locks, xlnwire.LockID(1))
	require.NotContains(t, b.Locks, xlnwire.LockID(1))
	require.Equal(t, int64(40), a.Deltas[tok].Offdelta.Int64())
	require.Equal(t, int64(40), b.Deltas[tok].Offdelta.Int64())
}

func TestSettlementWorkspaceProposeApproveExecute(t *testing.T) {
	a, b := newPair(tok, amt(50), amt(50))
	a.delta(tok).Collateral = amt(100)
	b.delta(tok).Collateral = amt(100)

	propose := xlnwire.AccountTx{Type: xlnwire.TxSettlePropose, SettlePropose: &xlnwire.SettlePropose{
		Diffs:          []xlnwire.SettleDiff{{TokenID: tok, CollateralDelta: amt(20)}},
		Hanko:          xlnwire.Hanko("a-settle-sig"),
		ProposerIsLeft: true,
	}}
	require.NoError(t, a.AdmitTx(propose, 1))
	inputPropose, err := a.ProposeFrame(1, fakeSigner{id: 1})
	require.NoError(t, err)
	replyPropose, err := b.ReceiveFrame(inputPropose.NewFrame, inputPropose, 1, fakeSigner{id: 2})
	require.NoError(t, err)
	require.NoError(t, a.ReceiveCounterSignature(replyPropose))

	require.NotNil(t, a.Workspace)
	require.NotNil(t, b.Workspace)
	require.Equal(t, int64(20), b.Workspace.Diffs[0].CollateralDelta.Int64())

	approve := xlnwire.AccountTx{Type: xlnwire.TxSettleApprove, SettleApprove: &xlnwire.SettleApprove{
		Hanko:          xlnwire.Hanko("b-settle-sig"),
		ApproverIsLeft: false,
	}}
	require.NoError(t, b.AdmitTx(approve, 2))
	inputApprove, err := b.ProposeFrame(2, fakeSigner{id: 2})
	require.NoError(t, err)
	replyApprove, err := a.ReceiveFrame(inputApprove.NewFrame, inputApprove, 2, fakeSigner{id: 1})
	require.NoError(t, err)
	require.NoError(t, b.ReceiveCounterSignature(replyApprove))

	require.Equal(t, "ready_to_submit", a.Workspace.Status.String())
	require.Equal(t, "ready_to_submit", b.Workspace.Status.String())
	require.True(t, a.Workspace.PostSettlementDisputeProof.Ready())
	require.True(t, b.Workspace.PostSettlementDisputeProof.Ready())
	require.Equal(t,
		a.Workspace.PostSettlementDisputeProof.ProofBodyHash,
		b.Workspace.PostSettlementDisputeProof.ProofBodyHash,
	)

	execute := xlnwire.AccountTx{Type: xlnwire.TxSettleExecute, SettleExecute: &xlnwire.SettleExecute{}}
	require.NoError(t, a.AdmitTx(execute, 3))
	inputExecute, err := a.ProposeFrame(3, fakeSigner{id: 1})
	require.NoError(t, err)
	replyExecute, err := b.ReceiveFrame(inputExecute.NewFrame, inputExecute, 3, fakeSigner{id: 2})
	require.NoError(t, err)
	require.NoError(t, a.ReceiveCounterSignature(replyExecute))

	require.Equal(t, "submitted", a.Workspace.Status.String())
	require.Equal(t, "submitted", b.Workspace.Status.String())
}

// TestRebalanceQuoteAcceptPaysFeeAndExpires drives b's rebalance_request
// against a's rebalance_quote through to rebalance_accept, verifying the
// quoted fee shifts offdelta from the requester (b, right) to the
// quoting side (a, left) exactly as an injected direct_payment would,
// and separately that a quote accepted after QuoteExpiryMS is rejected
// with state left untouched.
func TestRebalanceQuoteAcceptPaysFeeAndExpires(t *testing.T) {
	a, b := newPair(tok, amt(50), amt(50))
	// Seed a small negative offdelta so the right side (b) has outbound
	// capacity to pay the fee from; at totalDelta 0 its outCapacity is zero.
	a.delta(tok).Collateral = amt(100)
	a.delta(tok).Offdelta = amt(-20)
	b.delta(tok).Collateral = amt(100)
	b.delta(tok).Offdelta = amt(-20)

	request := xlnwire.AccountTx{Type: xlnwire.TxRebalanceRequest, RebalanceRequest: &xlnwire.RebalanceRequest{
		TokenID: tok, Amount: amt(40),
	}}
	require.NoError(t, b.AdmitTx(request, 1))
	inputReq, err := b.ProposeFrame(1, fakeSigner{id: 2})
	require.NoError(t, err)
	replyReq, err := a.ReceiveFrame(inputReq.NewFrame, inputReq, 1, fakeSigner{id: 1})
	require.NoError(t, err)
	require.NoError(t, b.ReceiveCounterSignature(replyReq))
	require.Equal(t, int64(40), a.RequestedRebalance[tok].Int64())

	quote := xlnwire.AccountTx{Type: xlnwire.TxRebalanceQuote, RebalanceQuote: &xlnwire.RebalanceQuote{
		QuoteID: 1_000, FeeTokenID: tok, FeeAmount: amt(5), RequesterIsLeft: false,
	}}
	require.NoError(t, a.AdmitTx(quote, 2))
	inputQuote, err := a.ProposeFrame(2, fakeSigner{id: 1})
	require.NoError(t, err)
	replyQuote, err := b.ReceiveFrame(inputQuote.NewFrame, inputQuote, 2, fakeSigner{id: 2})
	require.NoError(t, err)
	require.NoError(t, a.ReceiveCounterSignature(replyQuote))
	require.Equal(t, uint64(1_000), b.ActiveRebalanceQuote.QuoteID)

	// Accepting after the expiry window leaves state untouched.
	lateAccept := xlnwire.AccountTx{Type: xlnwire.TxRebalanceAccept, RebalanceAccept: &xlnwire.RebalanceAccept{
		QuoteID: 1_000,
	}}
	require.ErrorIs(t, b.AdmitTx(lateAccept, 1_000+QuoteExpiryMS+1), ErrQuoteExpired)
	require.False(t, b.ActiveRebalanceQuote.Accepted)
	require.Equal(t, int64(-20), b.Deltas[tok].Offdelta.Int64())

	acceptNow := uint64(1_000 + QuoteExpiryMS)
	require.NoError(t, b.AdmitTx(lateAccept, acceptNow))
	inputAccept, err := b.ProposeFrame(acceptNow, fakeSigner{id: 2})
	require.NoError(t, err)
	replyAccept, err := a.ReceiveFrame(inputAccept.NewFrame, inputAccept, acceptNow, fakeSigner{id: 1})
	require.NoError(t, err)
	require.NoError(t, b.ReceiveCounterSignature(replyAccept))

	require.True(t, b.ActiveRebalanceQuote.Accepted)
	require.True(t, b.RequestedRebalanceFeeState[tok])
	require.Equal(t, int64(-25), b.Deltas[tok].Offdelta.Int64())
	require.Equal(t, int64(-25), a.Deltas[tok].Offdelta.Int64())
}
