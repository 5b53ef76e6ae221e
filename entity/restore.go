package entity

import (
	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/jblock"
	"github.com/xlnfinance/xln/settlement"
	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

// Restore reconstructs a live Entity from state recovered by the
// persistence package, the crash-recovery counterpart to New (§6's
// persistence interface: "recovering config, accounts, jBlockChain, and
// jBatchState"). Three pieces of state are rebuilt rather than trusted
// from the snapshot: each account's unexported cfg, which gob's
// exported-fields-only rule silently drops and so must be rebound from
// cfg.AccountConfig via account.SetConfig; Routes, since it is purely an
// index over every account's Locks and persistence never stores it
// directly; and queuedWorkspace, since any account whose Workspace was
// already StatusSubmitted before the crash must be treated as already
// queued — otherwise the first post-restart commit on that account would
// push its diffs onto the j-batch a second time.
func Restore(
	id xlnwire.EntityID,
	cfg Config,
	signer signing.Signer,
	adapter jadapter.Adapter,
	reserves map[xlnwire.TokenID]xlnwire.Amount,
	accounts map[xlnwire.EntityID]*account.Account,
	tracker *jblock.Tracker,
	batch *jbatch.Accumulator,
	timestamp uint64,
) *Entity {
	e := &Entity{
		ID:              id,
		Cfg:             cfg,
		Reserves:        reserves,
		Accounts:        accounts,
		Tracker:         tracker,
		Batch:           batch,
		Routes:          htlc.NewRouteTable(),
		Signer:          signer,
		Adapter:         adapter,
		Timestamp:       timestamp,
		queuedWorkspace: make(map[xlnwire.EntityID]uint64),
	}
	if e.Reserves == nil {
		e.Reserves = make(map[xlnwire.TokenID]xlnwire.Amount)
	}
	if e.Accounts == nil {
		e.Accounts = make(map[xlnwire.EntityID]*account.Account)
	}

	for counterparty, a := range e.Accounts {
		a.SetConfig(cfg.AccountConfig)
		for lockID, lock := range a.Locks {
			e.Routes.Register(lock.Hashlock, htlc.Ref{Counterparty: counterparty, LockID: lockID})
		}
		if a.Workspace != nil && a.Workspace.Status == settlement.StatusSubmitted {
			e.queuedWorkspace[counterparty] = a.Workspace.NonceAtSign
		}
	}
	return e
}
