package dispute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/proof"
	"github.com/xlnfinance/xln/xlnwire"
)

func entity(b byte) xlnwire.EntityID {
	var id xlnwire.EntityID
	id[len(id)-1] = b
	return id
}

func amt(v int64) xlnwire.Amount { return xlnwire.NewAmount(v) }

const tok = xlnwire.TokenID(1)

func newAccountAtNonce(nonce uint64, collateral int64) *account.Account {
	left, right := entity(1), entity(2)
	a := account.New(left, right, left, account.Config{})
	a.Delta(tok).Collateral = amt(collateral)

	built := proof.Build(a.Snapshot(nonce))
	a.CurrentDisputeProofNonce = nonce
	a.CurrentDisputeProofBodyHash = built.ProofBodyHash
	return a
}

func TestHandleDisputeStartedRejectsWrongParty(t *testing.T) {
	a := newAccountAtNonce(10, 100)
	sim := jadapter.NewSimulator(50)
	_, err := HandleDisputeStarted(a, &xlnwire.DisputeStarted{
		Sender: entity(9), Counterentity: entity(8), Nonce: 10,
	}, sim)
	require.ErrorIs(t, err, ErrWrongParty)
}

func TestHandleDisputeStartedNoDivergenceOnMatchingProof(t *testing.T) {
	a := newAccountAtNonce(10, 100)
	matchingHash := a.CurrentDisputeProofBodyHash
	sim := jadapter.NewSimulator(50)

	res, err := HandleDisputeStarted(a, &xlnwire.DisputeStarted{
		Sender: a.LeftEntity, Counterentity: a.RightEntity,
		Nonce: 10, ProofbodyHash: matchingHash,
	}, sim)
	require.NoError(t, err)
	require.False(t, res.Diverged)
	require.Equal(t, account.StatusDisputed, a.Status)
	require.NotNil(t, a.ActiveDispute)
	require.Equal(t, uint32(50), a.ActiveDispute.DisputeTimeout)
}

func TestHandleDisputeStartedFlagsDivergence(t *testing.T) {
	a := newAccountAtNonce(10, 100)
	sim := jadapter.NewSimulator(50)

	res, err := HandleDisputeStarted(a, &xlnwire.DisputeStarted{
		Sender: a.LeftEntity, Counterentity: a.RightEntity,
		Nonce: 10, ProofbodyHash: xlnwire.Hash256{0xDE, 0xAD},
	}, sim)
	require.NoError(t, err)
	require.True(t, res.Diverged)
}

func TestHandleDisputeFinalizedResyncsAndUnfreezes(t *testing.T) {
	a := newAccountAtNonce(10, 100)
	sim := jadapter.NewSimulator(50)

	_, err := HandleDisputeStarted(a, &xlnwire.DisputeStarted{
		Sender: a.LeftEntity, Counterentity: a.RightEntity,
		Nonce: 10, ProofbodyHash: a.CurrentDisputeProofBodyHash,
	}, sim)
	require.NoError(t, err)

	a.PendingFrame = &xlnwire.Frame{Nonce: 11}
	a.PendingAccountInput = &xlnwire.AccountInput{Nonce: 11}
	a.RollbackCount = 3
	a.CounterpartyDisputeProofHanko = xlnwire.Hanko("stale")

	sim.StartDispute(a.RightEntity, a.LeftEntity, 7, xlnwire.Hash256{0x7}, nil)
	sim.SupersedeDispute(a.LeftEntity, a.RightEntity, 10, a.CurrentDisputeProofBodyHash)
	for i := 0; i < 60; i++ {
		sim.Advance()
	}

	info, err := sim.GetAccountInfo(a.Self, a.Counterparty())
	require.NoError(t, err)
	require.Equal(t, uint64(10), info.Nonce)

	err = HandleDisputeFinalized(a, &xlnwire.DisputeFinalized{
		Sender: a.LeftEntity, Counterentity: a.RightEntity,
		InitialNonce: 7, InitialProofbodyHash: xlnwire.Hash256{0x7},
		FinalProofbodyHash: a.CurrentDisputeProofBodyHash,
	}, sim)
	require.NoError(t, err)

	require.Equal(t, account.StatusActive, a.Status)
	require.Nil(t, a.ActiveDispute)
	require.Equal(t, uint64(10), a.OnChainSettlementNonce)
	require.Equal(t, uint64(11), a.NextNonce)
	require.Nil(t, a.PendingFrame)
	require.Nil(t, a.PendingAccountInput)
	require.Equal(t, uint64(0), a.RollbackCount)
	require.Empty(t, a.CounterpartyDisputeProofHanko)
	require.Equal(t, int64(100), a.Delta(tok).Collateral.Int64(), "deltas are never mutated by DisputeFinalized")
}

func encodeSecretArgs(secrets [][32]byte) [][]byte {
	indices := make([]byte, 4*len(secrets))
	body := make([]byte, 32*len(secrets))
	for i, s := range secrets {
		indices[i*4] = byte(i)
		copy(body[i*32:], s[:])
	}
	return [][]byte{indices, body}
}

func TestDecodeSecretsRoundTrip(t *testing.T) {
	var s1, s2 [32]byte
	s1[0] = 0xAA
	s2[0] = 0xBB

	args := encodeSecretArgs([][32]byte{s1, s2})
	out, err := DecodeSecrets(args)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, s1, out[0].Secret)
	require.Equal(t, htlc.HashSecret(s1), out[0].Hashlock)
	require.Equal(t, s2, out[1].Secret)
}

func TestDecodeSecretsEmptyArguments(t *testing.T) {
	out, err := DecodeSecrets(nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestDecodeSecretsRejectsMisalignedWidths(t *testing.T) {
	_, err := DecodeSecrets([][]byte{{1, 2, 3}, make([]byte, 32)})
	require.ErrorIs(t, err, ErrMalformedArguments)
}
