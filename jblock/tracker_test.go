package jblock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln/xlnwire"
)

func signer(b byte) xlnwire.EntityID {
	var id xlnwire.EntityID
	id[len(id)-1] = b
	return id
}

func reserveEvent(tok xlnwire.TokenID, bal int64) xlnwire.JurisdictionEvent {
	return xlnwire.JurisdictionEvent{
		Type: xlnwire.JEventReserveUpdated,
		ReserveUpdated: &xlnwire.ReserveUpdated{
			Entity: signer(1), TokenID: tok, NewBalance: xlnwire.NewAmount(bal),
		},
	}
}

func TestObserveFinalizesAtThreshold(t *testing.T) {
	tr := New(Config{Threshold: 2}, 0)
	hash := xlnwire.Hash256{0xAA}

	fin, err := tr.Observe(xlnwire.JBlockObservation{
		SignerID: signer(1), JHeight: 10, JBlockHash: hash,
		Events: []xlnwire.JurisdictionEvent{reserveEvent(1, 100)}, ObservedAt: 5,
	})
	require.NoError(t, err)
	require.Nil(t, fin)
	require.Equal(t, uint64(0), tr.LastFinalizedJHeight)

	fin, err = tr.Observe(xlnwire.JBlockObservation{
		SignerID: signer(2), JHeight: 10, JBlockHash: hash,
		Events: []xlnwire.JurisdictionEvent{reserveEvent(1, 100)}, ObservedAt: 6,
	})
	require.NoError(t, err)
	require.NotNil(t, fin)
	require.Equal(t, uint64(10), fin.JHeight)
	require.Equal(t, 2, fin.SignerCount)
	require.Len(t, fin.Events, 1, "duplicate ReserveUpdated from both signers dedupes to one")
	require.Equal(t, uint64(10), tr.LastFinalizedJHeight)
	require.Empty(t, tr.Pending)
}

func TestObserveRejectsAlreadyFinalizedHeight(t *testing.T) {
	tr := New(Config{Threshold: 1}, 10)
	_, err := tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 10})
	require.ErrorIs(t, err, ErrHeightAlreadyFinalized)
	_, err = tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 5})
	require.ErrorIs(t, err, ErrHeightAlreadyFinalized)
}

func TestObserveDuplicateSignerDoesNotDoubleCount(t *testing.T) {
	tr := New(Config{Threshold: 2}, 0)
	hash := xlnwire.Hash256{0xBB}
	_, err := tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 3, JBlockHash: hash})
	require.NoError(t, err)
	fin, err := tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 3, JBlockHash: hash})
	require.NoError(t, err)
	require.Nil(t, fin, "same signer observing twice must not reach a 2-signer threshold")
}

func TestObservePrunesUnfinalizedConflictingHashAtSameHeight(t *testing.T) {
	tr := New(Config{Threshold: 2}, 0)
	hashA := xlnwire.Hash256{0xAA}
	hashB := xlnwire.Hash256{0xBB}

	_, err := tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 7, JBlockHash: hashA})
	require.NoError(t, err)
	_, err = tr.Observe(xlnwire.JBlockObservation{SignerID: signer(2), JHeight: 7, JBlockHash: hashB})
	require.NoError(t, err)
	require.Len(t, tr.Pending, 2)

	fin, err := tr.Observe(xlnwire.JBlockObservation{SignerID: signer(3), JHeight: 7, JBlockHash: hashA})
	require.NoError(t, err)
	require.NotNil(t, fin)
	require.Equal(t, hashA, fin.JBlockHash)
	require.Empty(t, tr.Pending, "the losing hashB observation is pruned once height 7 finalizes")
}

func TestObserveRetainsUnfinalizedHeights(t *testing.T) {
	tr := New(Config{Threshold: 2}, 0)
	_, err := tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 3, JBlockHash: xlnwire.Hash256{0x01}})
	require.NoError(t, err)
	_, err = tr.Observe(xlnwire.JBlockObservation{SignerID: signer(1), JHeight: 4, JBlockHash: xlnwire.Hash256{0x02}})
	require.NoError(t, err)
	require.Len(t, tr.Pending, 2)
	require.Equal(t, uint64(0), tr.LastFinalizedJHeight)
}
