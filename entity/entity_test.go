package entity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

func entID(b byte) xlnwire.EntityID {
	var id xlnwire.EntityID
	id[len(id)-1] = b
	return id
}

func amt(v int64) xlnwire.Amount { return xlnwire.NewAmount(v) }

const tok = xlnwire.TokenID(1)

// stubSigner never verifies anything; it exists so frame proposal/
// counter-signing has something to call without touching real key
// material (entity-layer tests exercise orchestration, not signing).
type stubSigner struct{}

func (stubSigner) Sign(xlnwire.Hash256) (xlnwire.Hanko, error) { return xlnwire.Hanko("sig"), nil }
func (stubSigner) Verify(xlnwire.Hash256, xlnwire.Hanko, xlnwire.EntityID) error { return nil }

var _ signing.Signer = stubSigner{}

func newTestEntity(id xlnwire.EntityID, sim *jadapter.Simulator) *Entity {
	return New(id, Config{Threshold: 1, Signers: []xlnwire.EntityID{id}}, stubSigner{}, sim, 0, 0)
}

// observeSelf wraps sim.Advance's events as a single-signer observation
// for e, since a threshold-1 entity only needs its own report to finalize.
func observeSelf(t *testing.T, e *Entity, height uint64, hash xlnwire.Hash256, events []xlnwire.JurisdictionEvent) {
	t.Helper()
	_, err := e.ObserveJBlock(xlnwire.JBlockObservation{
		SignerID: e.ID, JHeight: height, JBlockHash: hash, Events: events,
	})
	require.NoError(t, err)
}

func TestTickProposesFrameForDirectPayment(t *testing.T) {
	sim := jadapter.NewSimulator(50)
	a, b := entID(1), entID(2)
	entA := newTestEntity(a, sim)
	entB := newTestEntity(b, sim)

	acctA := entA.EnsureAccount(b)
	acctA.Delta(tok).Collateral = amt(100)
	acctA.Deltas[tok].LeftCreditLimit = amt(50)
	acctA.Deltas[tok].RightCreditLimit = amt(50)

	acctB := entB.EnsureAccount(a)
	acctB.Delta(tok).Collateral = amt(100)
	acctB.Deltas[tok].LeftCreditLimit = amt(50)
	acctB.Deltas[tok].RightCreditLimit = amt(50)

	require.NoError(t, entA.SubmitAccountTx(b, xlnwire.AccountTx{
		Type: xlnwire.TxDirectPayment,
		DirectPayment: &xlnwire.DirectPayment{
			From: a, To: b, TokenID: tok, Amount: amt(30),
		},
	}))

	out := entA.Tick(1)
	require.Len(t, out, 1)
	require.Equal(t, b, out[0].Counterparty)
	require.NotNil(t, acctA.PendingFrame)

	reply, err := entB.HandleCounterpartyFrame(a, out[0].Input.NewFrame, out[0].Input)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, int64(30), acctB.Deltas[tok].Offdelta.Int64())

	require.NoError(t, entA.HandleCounterSignature(b, reply))
	require.Nil(t, acctA.PendingFrame)
	require.Equal(t, int64(30), acctA.Deltas[tok].Offdelta.Int64())
}

// TestSettlementQueuedOnceAcrossInterveningCommit guards against
// re-queuing a settlement onto the j-batch a second time when an
// unrelated frame commits in between settle_execute and the bilateral
// j-event claim that eventually clears the workspace (entity/frame.go's
// queueSettlementIfReady must survive account.clone()/restore()
// reallocating a.Workspace's pointer on every commit).
func TestSettlementQueuedOnceAcrossInterveningCommit(t *testing.T) {
	sim := jadapter.NewSimulator(50)
	a, b := entID(1), entID(2)
	entA := newTestEntity(a, sim)
	entB := newTestEntity(b, sim)

	acctA := entA.EnsureAccount(b)
	acctA.Delta(tok).Collateral = amt(100)
	acctB := entB.EnsureAccount(a)
	acctB.Delta(tok).Collateral = amt(100)

	driveFrame := func(now uint64, tx xlnwire.AccountTx) {
		require.NoError(t, entA.SubmitAccountTx(b, tx))
		out := entA.Tick(now)
		require.Len(t, out, 1)
		reply, err := entB.HandleCounterpartyFrame(a, out[0].Input.NewFrame, out[0].Input)
		require.NoError(t, err)
		require.NoError(t, entA.HandleCounterSignature(b, reply))
	}

	driveFrame(1, xlnwire.AccountTx{Type: xlnwire.TxSettlePropose, SettlePropose: &xlnwire.SettlePropose{
		Diffs:          []xlnwire.SettleDiff{{TokenID: tok, CollateralDelta: amt(20)}},
		Hanko:          xlnwire.Hanko("a-settle-sig"),
		ProposerIsLeft: true,
	}})
	driveFrame(2, xlnwire.AccountTx{Type: xlnwire.TxSettleApprove, SettleApprove: &xlnwire.SettleApprove{
		Hanko:          xlnwire.Hanko("b-settle-sig"),
		ApproverIsLeft: false,
	}})
	driveFrame(3, xlnwire.AccountTx{Type: xlnwire.TxSettleExecute, SettleExecute: &xlnwire.SettleExecute{}})

	require.Equal(t, "submitted", acctA.Workspace.Status.String())
	require.Len(t, entA.Batch.Live.Settle, 1)

	// An unrelated commit lands before the bilateral j-event claim that
	// would normally clear the workspace. Without a content-based dedup
	// key, account.clone()/restore() reallocating a.Workspace on this
	// commit would make queueSettlementIfReady think it's seeing a new,
	// never-queued workspace.
	driveFrame(4, xlnwire.AccountTx{Type: xlnwire.TxDirectPayment, DirectPayment: &xlnwire.DirectPayment{
		From: a, To: b, TokenID: tok, Amount: amt(5),
	}})

	require.Len(t, entA.Batch.Live.Settle, 1)
}

// TestQuoteRebalanceIssuesQuoteKeyedToEntityTimestamp checks that
// QuoteRebalance is the only path that can construct a rebalance_quote,
// that it refuses to do so without an outstanding request from the
// counterparty, and that the QuoteID it stamps on the tx is the quoting
// entity's own logical clock at issuance (§3, §6).
func TestQuoteRebalanceIssuesQuoteKeyedToEntityTimestamp(t *testing.T) {
	sim := jadapter.NewSimulator(50)
	a, b := entID(1), entID(2)
	entA := newTestEntity(a, sim)
	entB := newTestEntity(b, sim)

	acctA := entA.EnsureAccount(b)
	acctA.Delta(tok).Collateral = amt(100)
	acctB := entB.EnsureAccount(a)
	acctB.Delta(tok).Collateral = amt(100)

	require.ErrorIs(t, entA.QuoteRebalance(b, tok, tok, amt(5)), ErrNoRebalanceRequest)

	driveFrame := func(from *Entity, to *Entity, cp xlnwire.EntityID, now uint64, tx xlnwire.AccountTx) {
		require.NoError(t, from.SubmitAccountTx(cp, tx))
		out := from.Tick(now)
		require.Len(t, out, 1)
		reply, err := to.HandleCounterpartyFrame(from.ID, out[0].Input.NewFrame, out[0].Input)
		require.NoError(t, err)
		require.NoError(t, from.HandleCounterSignature(cp, reply))
	}

	driveFrame(entB, entA, a, 1, xlnwire.AccountTx{
		Type:             xlnwire.TxRebalanceRequest,
		RebalanceRequest: &xlnwire.RebalanceRequest{TokenID: tok, Amount: amt(40)},
	})
	require.Equal(t, int64(40), acctA.RequestedRebalance[tok].Int64())

	entA.Tick(77)
	require.NoError(t, entA.QuoteRebalance(b, tok, tok, amt(5)))
	require.Len(t, entA.Accounts[b].Mempool, 1)
	quote := entA.Accounts[b].Mempool[0].RebalanceQuote
	require.NotNil(t, quote)
	require.Equal(t, uint64(77), quote.QuoteID)
	require.False(t, quote.RequesterIsLeft, "b (right) requested, a (left) quotes")
}

func TestMintReservesAndDepositCollateralRoundTripThroughSimulator(t *testing.T) {
	sim := jadapter.NewSimulator(50)
	a, b := entID(1), entID(2)
	entA := newTestEntity(a, sim)
	entB := newTestEntity(b, sim)

	require.ErrorIs(t, entA.DepositCollateral(b, tok, amt(80), 0), ErrInsufficientReserve)

	// The simulated L1 holds the authoritative reserve that ReserveUpdated
	// reports back, so it is funded alongside the entity's local mint.
	sim.Fund(a, tok, amt(200))
	entA.MintReserves(tok, amt(200))
	require.Equal(t, int64(200), entA.reserve(tok).Int64())

	require.NoError(t, entA.DepositCollateral(b, tok, amt(80), 0))
	handle, err := entA.JBroadcast()
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	height, hash, events := sim.Advance()
	require.NotZero(t, height)

	observeSelf(t, entA, height, hash, events)
	require.Equal(t, int64(120), entA.reserve(tok).Int64(), "200 minted minus 80 moved into collateral")

	acctA, ok := entA.Account(b)
	require.True(t, ok)
	require.Len(t, acctA.Mempool, 1, "account_settled queued our own j_event_claim")

	outA := entA.Tick(1)
	require.Len(t, outA, 1)

	// B independently observes the very same on-chain event before it can
	// commit A's claim-bearing frame and match it bilaterally.
	observeSelf(t, entB, height, hash, events)
	acctB, ok := entB.Account(a)
	require.True(t, ok)

	replyToA, err := entB.HandleCounterpartyFrame(a, outA[0].Input.NewFrame, outA[0].Input)
	require.NoError(t, err)
	// B's own claim is still only locally queued; the bilateral match
	// requires B to also propose its own claim back to A, so no collateral
	// (not even a token entry) has been applied on B yet.
	require.Nil(t, acctB.Deltas[tok])
	require.NoError(t, entA.HandleCounterSignature(b, replyToA))

	outB := entB.Tick(1)
	require.Len(t, outB, 1)
	reply, err := entA.HandleCounterpartyFrame(b, outB[0].Input.NewFrame, outB[0].Input)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.NoError(t, entB.HandleCounterSignature(a, reply))

	require.Equal(t, int64(80), acctA.Deltas[tok].Collateral.Int64())
	require.Equal(t, int64(80), acctB.Deltas[tok].Collateral.Int64())
}

func TestRouteSecretPropagatesToReceivingAccountAndUnregisters(t *testing.T) {
	sim := jadapter.NewSimulator(50)
	a := entID(1)
	entA := newTestEntity(a, sim)

	hop := entID(9)
	acctHop := entA.EnsureAccount(hop)
	var secret [32]byte
	secret[0] = 0x42
	hashlock := htlc.HashSecret(secret)
	acctHop.Locks[7] = htlc.Lock{
		LockID: 7, Hashlock: hashlock, Amount: amt(10), TokenID: tok,
		Expiry: 100, SenderIsLeft: !acctHop.IsLeft(),
	}
	ref := htlc.Ref{Counterparty: hop, LockID: 7}
	entA.Routes.Register(hashlock, ref)

	entA.routeSecret(xlnwire.SecretRevealed{Hashlock: hashlock, Secret: secret})

	require.Len(t, acctHop.Mempool, 1)
	require.Equal(t, xlnwire.TxHTLCResolve, acctHop.Mempool[0].Type)
	require.Empty(t, entA.Routes.Lookup(hashlock), "route entry removed once propagated")
}

func TestRouteSecretSkipsAccountWhereWeAreSender(t *testing.T) {
	sim := jadapter.NewSimulator(50)
	a := entID(1)
	entA := newTestEntity(a, sim)

	hop := entID(9)
	acctHop := entA.EnsureAccount(hop)
	var secret [32]byte
	secret[0] = 0x43
	hashlock := htlc.HashSecret(secret)
	acctHop.Locks[3] = htlc.Lock{
		LockID: 3, Hashlock: hashlock, Amount: amt(5), TokenID: tok,
		Expiry: 100, SenderIsLeft: acctHop.IsLeft(),
	}
	ref := htlc.Ref{Counterparty: hop, LockID: 3}
	entA.Routes.Register(hashlock, ref)

	entA.routeSecret(xlnwire.SecretRevealed{Hashlock: hashlock, Secret: secret})

	require.Empty(t, acctHop.Mempool, "we are the sender on this account; nothing to propagate")
}

