// Package settlement implements the settlement workspace (C5): staging a
// bilaterally-signed on-chain settlement (settle_propose/settle_approve/
// settle_execute) and pre-computing the dispute proof that becomes active
// the instant the settlement finalizes on-chain, so the pair is never
// caught with a stale latest-signed proof (§4.5). Grounded on
// lnwallet/reservation.go's three-step reservation workflow
// (RegisterContribution -> ProcessContribution -> ProcessSingleContribution,
// each advancing a staged, partially-signed object through named states)
// generalized from channel-open funding to settlement diffs.
package settlement

import (
	"errors"

	"github.com/xlnfinance/xln/proof"
	"github.com/xlnfinance/xln/xlnwire"
)

var (
	// ErrAlreadyStaged is returned when settle_propose arrives while a
	// workspace is already open.
	ErrAlreadyStaged = errors.New("settlement: a workspace is already staged for this account")

	// ErrNoWorkspace is returned when settle_approve or settle_execute
	// arrives with nothing staged.
	ErrNoWorkspace = errors.New("settlement: no workspace staged")

	// ErrAlreadyApproved is returned when settle_approve arrives against a
	// workspace that already has both hankos.
	ErrAlreadyApproved = errors.New("settlement: workspace already approved")

	// ErrNotReady is returned when settle_execute is attempted before both
	// sides have signed.
	ErrNotReady = errors.New("settlement: workspace is not ready_to_submit")
)

// Status is the workspace's coarse lifecycle state (§4.5).
type Status uint8

const (
	// StatusProposed: one side has proposed diffs and supplied its hanko.
	StatusProposed Status = iota
	// StatusReadyToSubmit: both hankos are present; settle_execute may run.
	StatusReadyToSubmit
	// StatusSubmitted: settle_execute has pushed the settlement into the
	// j-batch accumulator; awaiting AccountSettled finalization.
	StatusSubmitted
)

func (s Status) String() string {
	switch s {
	case StatusProposed:
		return "proposed"
	case StatusReadyToSubmit:
		return "ready_to_submit"
	case StatusSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// PrecomputedProof is the dispute proof at NonceAtSign+1 that will become
// the account's active dispute proof the instant the staged settlement
// finalizes on-chain (§4.5).
type PrecomputedProof struct {
	Nonce         uint64
	ProofBodyHash xlnwire.Hash256
	OwnHanko      xlnwire.Hanko
	CounterpartyHanko xlnwire.Hanko
}

// Ready reports whether both sides' hankos over the precomputed proof have
// arrived.
func (p *PrecomputedProof) Ready() bool {
	return p != nil && len(p.OwnHanko) > 0 && len(p.CounterpartyHanko) > 0
}

// Workspace is the staged settlement intent for one account (§4.5).
type Workspace struct {
	Diffs       []xlnwire.SettleDiff
	LeftHanko   xlnwire.Hanko
	RightHanko  xlnwire.Hanko
	NonceAtSign uint64
	Status      Status

	PostSettlementDisputeProof *PrecomputedProof
}

// Propose opens a new workspace from a settle_propose tx. proposerIsLeft
// indicates which hanko slot to fill.
func Propose(diffs []xlnwire.SettleDiff, proposerIsLeft bool, hanko xlnwire.Hanko, nonceAtSign uint64) *Workspace {
	ws := &Workspace{
		Diffs:       append([]xlnwire.SettleDiff(nil), diffs...),
		NonceAtSign: nonceAtSign,
		Status:      StatusProposed,
	}
	if proposerIsLeft {
		ws.LeftHanko = hanko
	} else {
		ws.RightHanko = hanko
	}
	return ws
}

// Approve completes the 2-of-2 over the settlement tx itself and computes
// (but does not sign) the post-settlement dispute proof: postSettleSnapshot
// must be the account's state at NonceAtSign+1 with ws.Diffs already
// applied, which only the account package (holding the live Deltas map)
// can build.
func Approve(ws *Workspace, approverIsLeft bool, hanko xlnwire.Hanko, postSettleSnapshot proof.Snapshot) error {
	if ws == nil {
		return ErrNoWorkspace
	}
	if ws.Status != StatusProposed {
		return ErrAlreadyApproved
	}
	if approverIsLeft {
		if len(ws.LeftHanko) > 0 {
			return ErrAlreadyApproved
		}
		ws.LeftHanko = hanko
	} else {
		if len(ws.RightHanko) > 0 {
			return ErrAlreadyApproved
		}
		ws.RightHanko = hanko
	}

	built := proof.Build(postSettleSnapshot)
	ws.PostSettlementDisputeProof = &PrecomputedProof{
		Nonce: postSettleSnapshot.Nonce, ProofBodyHash: built.ProofBodyHash,
	}
	ws.Status = StatusReadyToSubmit
	return nil
}

// Execute marks a ready workspace as pushed into the j-batch accumulator
// (C6). The workspace is not cleared here: it remains until the resulting
// AccountSettled j-event bilaterally finalizes (§4.5).
func Execute(ws *Workspace) error {
	if ws == nil {
		return ErrNoWorkspace
	}
	if ws.Status != StatusReadyToSubmit {
		return ErrNotReady
	}
	ws.Status = StatusSubmitted
	return nil
}
