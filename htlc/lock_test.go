package htlc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/xlnwire"
)

func amt(v int64) xlnwire.Amount { return xlnwire.NewAmount(v) }

func TestValidateAdd(t *testing.T) {
	require.NoError(t, ValidateAdd(amt(100), amt(40)))
	require.ErrorIs(t, ValidateAdd(amt(30), amt(40)), ErrInsufficientCapacity)
}

func TestResolveBySecret(t *testing.T) {
	var secret [32]byte
	secret[0] = 0x42
	hashlock := HashSecret(secret)

	lock := Lock{Amount: amt(40), Hashlock: hashlock, SenderIsLeft: true}
	shift, err := ResolveBySecret(lock, secret)
	require.NoError(t, err)
	require.Equal(t, int64(40), shift.Int64())

	lock.SenderIsLeft = false
	shift, err = ResolveBySecret(lock, secret)
	require.NoError(t, err)
	require.Equal(t, int64(-40), shift.Int64())
}

func TestResolveBySecretMismatch(t *testing.T) {
	var secret, wrong [32]byte
	secret[0] = 1
	wrong[0] = 2
	lock := Lock{Amount: amt(10), Hashlock: HashSecret(secret)}
	_, err := ResolveBySecret(lock, wrong)
	require.ErrorIs(t, err, ErrSecretMismatch)
}

func TestResolveByExpiry(t *testing.T) {
	lock := Lock{Expiry: 1000}
	require.ErrorIs(t, ResolveByExpiry(lock, 999), ErrNotExpired)
	// Boundary: expiry == current timestamp is resolvable (§8).
	require.NoError(t, ResolveByExpiry(lock, 1000))
	require.NoError(t, ResolveByExpiry(lock, 1001))
}

func TestRouteTableRegisterLookupUnregister(t *testing.T) {
	rt := NewRouteTable()
	var hashlock xlnwire.Hash256
	hashlock[0] = 9

	ref1 := Ref{Counterparty: xlnwire.EntityID{1}, LockID: 1}
	ref2 := Ref{Counterparty: xlnwire.EntityID{2}, LockID: 7}

	rt.Register(hashlock, ref1)
	rt.Register(hashlock, ref2)

	got := rt.Lookup(hashlock)
	require.ElementsMatch(t, []Ref{ref1, ref2}, got)

	rt.Unregister(hashlock, ref1)
	require.Equal(t, []Ref{ref2}, rt.Lookup(hashlock))

	rt.Unregister(hashlock, ref2)
	require.Empty(t, rt.Lookup(hashlock))
}
