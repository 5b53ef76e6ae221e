package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/proof"
	"github.com/xlnfinance/xln/xlnwire"
)

func amt(v int64) xlnwire.Amount { return xlnwire.NewAmount(v) }

func sampleSnapshot(nonce uint64) proof.Snapshot {
	return proof.Snapshot{
		LeftEntity: xlnwire.EntityID{1}, RightEntity: xlnwire.EntityID{2}, Nonce: nonce,
		Tokens: []proof.TokenState{{TokenID: 1, Collateral: amt(100)}},
	}
}

func TestProposeThenApproveReachesReadyToSubmit(t *testing.T) {
	diffs := []xlnwire.SettleDiff{{TokenID: 1, CollateralDelta: amt(20)}}
	ws := Propose(diffs, true, xlnwire.Hanko("left-sig"), 5)
	require.Equal(t, StatusProposed, ws.Status)
	require.Equal(t, xlnwire.Hanko("left-sig"), ws.LeftHanko)

	err := Approve(ws, false, xlnwire.Hanko("right-sig"), sampleSnapshot(6))
	require.NoError(t, err)
	require.Equal(t, StatusReadyToSubmit, ws.Status)
	require.Equal(t, xlnwire.Hanko("right-sig"), ws.RightHanko)
	require.NotNil(t, ws.PostSettlementDisputeProof)
	require.Equal(t, uint64(6), ws.PostSettlementDisputeProof.Nonce)
}

func TestApproveRejectsDoubleApproval(t *testing.T) {
	ws := Propose(nil, true, xlnwire.Hanko("left-sig"), 1)
	require.NoError(t, Approve(ws, false, xlnwire.Hanko("right-sig"), sampleSnapshot(2)))
	err := Approve(ws, false, xlnwire.Hanko("right-sig-2"), sampleSnapshot(2))
	require.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestApproveRejectsSameSideTwice(t *testing.T) {
	ws := Propose(nil, true, xlnwire.Hanko("left-sig"), 1)
	err := Approve(ws, true, xlnwire.Hanko("left-sig-again"), sampleSnapshot(2))
	require.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestExecuteRequiresReadyToSubmit(t *testing.T) {
	ws := Propose(nil, true, xlnwire.Hanko("left-sig"), 1)
	require.ErrorIs(t, Execute(ws), ErrNotReady)

	require.NoError(t, Approve(ws, false, xlnwire.Hanko("right-sig"), sampleSnapshot(2)))
	require.NoError(t, Execute(ws))
	require.Equal(t, StatusSubmitted, ws.Status)
}

func TestExecuteNilWorkspace(t *testing.T) {
	require.ErrorIs(t, Execute(nil), ErrNoWorkspace)
}

func TestPrecomputedProofReady(t *testing.T) {
	p := &PrecomputedProof{}
	require.False(t, p.Ready())
	p.OwnHanko = xlnwire.Hanko("a")
	require.False(t, p.Ready())
	p.CounterpartyHanko = xlnwire.Hanko("b")
	require.True(t, p.Ready())
}
