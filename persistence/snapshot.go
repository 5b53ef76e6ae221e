package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/entity"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/jblock"
	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

// EntitySnapshot is the full recoverable state of one Entity (§6:
// "config, accounts, jBlockChain, and jBatchState"). It mirrors Entity's
// own exported fields exactly rather than introducing a parallel DTO
// shape, so Snapshot/Restore stay a direct, unsurprising field-for-field
// copy. Deliberately absent: Routes (derived from every account's Locks
// on Restore) and the entity-level Messages log (operator-visible
// history, not state a crash needs to recover).
type EntitySnapshot struct {
	ID        xlnwire.EntityID
	Cfg       entity.Config
	Reserves  map[xlnwire.TokenID]xlnwire.Amount
	Accounts  map[xlnwire.EntityID]*account.Account
	Tracker   *jblock.Tracker
	Batch     *jbatch.Accumulator
	Timestamp uint64
}

// Snapshot captures e's current recoverable state.
func Snapshot(e *entity.Entity) EntitySnapshot {
	return EntitySnapshot{
		ID:        e.ID,
		Cfg:       e.Cfg,
		Reserves:  e.Reserves,
		Accounts:  e.Accounts,
		Tracker:   e.Tracker,
		Batch:     e.Batch,
		Timestamp: e.Timestamp,
	}
}

// Restore turns a recovered snapshot back into a live Entity, wiring in
// the collaborators (signer, adapter) that are never persisted since they
// are process-local capabilities, not state (§6).
func (snap *EntitySnapshot) Restore(signer signing.Signer, adapter jadapter.Adapter) *entity.Entity {
	return entity.Restore(
		snap.ID, snap.Cfg, signer, adapter,
		snap.Reserves, snap.Accounts, snap.Tracker, snap.Batch, snap.Timestamp,
	)
}

// encode/decodeEntitySnapshot use encoding/gob rather than this repo's
// usual bytes.Buffer/binary.Write wire codec (jbatch.Hash, proof.Build):
// that codec is deliberately a fixed canonical hash-input layout, built
// for determinism under hashing, not for round-tripping every optional
// field of a large, evolving struct tree. None of the retrieved
// third-party serialization libraries (ugorji/go-codec, msgpack) appear
// anywhere in this corpus wired to a domain type — only as transitive
// dependencies of unrelated CLI tooling — so gob, the standard library's
// own purpose-built answer to exactly this problem, is used here instead.
// xlnwire.Amount implements GobEncode/GobDecode to keep its unexported
// *big.Int from vanishing silently under gob's exported-fields-only rule.
func (snap EntitySnapshot) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntitySnapshot(blob []byte) (*EntitySnapshot, error) {
	var snap EntitySnapshot
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
