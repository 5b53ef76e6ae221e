// Package dispute implements the dispute handler (C9): the account-level
// reaction to DisputeStarted/DisputeFinalized L1 events that freeze and
// later unfreeze frame advancement around an adversarial on-chain proof
// submission (§4.9). Grounded on breacharbiter.go's contractObserver/
// breachObserver split: a stale or fraudulent on-chain submission is
// purely a fact the watching side reacts to, never something it decides
// to originate, just as breachObserver only ever responds to a
// counterparty's own broadcast of a revoked commitment.
package dispute

import (
	"errors"
	"fmt"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/proof"
	"github.com/xlnfinance/xln/xlnwire"
)

// ErrWrongParty is returned when a DisputeStarted/DisputeFinalized event's
// (sender, counterentity) pair does not name a's two sides.
var ErrWrongParty = errors.New("dispute: event does not name this account's two sides")

// StartResult reports what HandleDisputeStarted observed and recovered.
type StartResult struct {
	// Diverged is true when the locally rebuilt proof at the disputed
	// nonce does not match the on-chain proofbodyHash (§4.9's "consensus
	// divergence check"). A divergence is always logged CRITICAL but
	// never blocks the dispute from proceeding.
	Diverged bool

	// RevealedSecrets are the HTLC pre-images recovered from
	// initialArguments, ready to route through an htlc.RouteTable and
	// apply as inbound resolves on every account that shares the
	// hashlock (§4.9, §8 S2's "implicit SecretRevealed" path). Nil when
	// initialArguments carried none.
	RevealedSecrets []xlnwire.SecretRevealed
}

// HandleDisputeStarted reacts to a DisputeStarted j-event naming a's
// account (§4.9). reader supplies the Depository contract's authoritative
// disputeTimeout and nonce; the caller is expected to have already
// resolved which in-memory *account.Account this event belongs to (by
// (sender, counterentity) pair), since no registry lives in this package.
func HandleDisputeStarted(a *account.Account, ev *xlnwire.DisputeStarted, reader jadapter.Reader) (*StartResult, error) {
	if !namesAccount(a, ev.Sender, ev.Counterentity) {
		return nil, ErrWrongParty
	}

	info, err := reader.GetAccountInfo(a.Self, a.Counterparty())
	if err != nil {
		return nil, fmt.Errorf("dispute: reading account info: %w", err)
	}

	log.Warnf("dispute_started on account %s/%s nonce=%d", a.LeftEntity, a.RightEntity, ev.Nonce)

	a.Status = account.StatusDisputed
	a.ActiveDispute = &account.DisputeState{
		StartedByLeft:        ev.Sender == a.LeftEntity,
		InitialProofbodyHash: ev.ProofbodyHash,
		InitialNonce:         ev.Nonce,
		DisputeTimeout:       info.DisputeTimeout,
		OnChainNonce:         info.Nonce,
		InitialArguments:     ev.InitialArguments,
	}

	res := &StartResult{}

	// Consensus divergence check (§4.9): only meaningful when the
	// disputed nonce is the one we last committed to — our live Deltas
	// reflect that committed state, not an arbitrary earlier nonce, so a
	// dispute over a stale nonce cannot be rebuilt from current state and
	// is left uncompared rather than falsely flagged.
	if a.CurrentDisputeProofNonce == ev.Nonce {
		built := proof.Build(a.Snapshot(ev.Nonce))
		if built.ProofBodyHash != ev.ProofbodyHash {
			res.Diverged = true
			log.Criticalf("dispute: local proof at nonce %d (%s) diverges from disputed on-chain hash %s",
				ev.Nonce, built.ProofBodyHash, ev.ProofbodyHash)
			a.Messages = append(a.Messages, account.Message{
				Category: "dispute",
				Text: fmt.Sprintf("CRITICAL: local proof at nonce %d (%s) diverges from disputed on-chain hash %s",
					ev.Nonce, built.ProofBodyHash, ev.ProofbodyHash),
			})
		}
	}

	if secrets, err := DecodeSecrets(ev.InitialArguments); err != nil {
		a.Messages = append(a.Messages, account.Message{
			Category: "dispute",
			Text:     fmt.Sprintf("dispute_started initialArguments undecodable: %v", err),
		})
	} else {
		res.RevealedSecrets = secrets
	}

	a.Messages = append(a.Messages, account.Message{
		Category: "dispute",
		Text:     fmt.Sprintf("dispute_started nonce=%d timeout=%d", ev.Nonce, info.DisputeTimeout),
	})
	return res, nil
}

// HandleDisputeFinalized reacts to a DisputeFinalized j-event, unfreezing
// the account (§4.9). Deltas are never mutated here: any collateral drift
// between our last-known state and the dispute's resolution is left for a
// subsequent bilateral AccountSettled (§4.8) to correct, and is only
// logged here as a warning.
func HandleDisputeFinalized(a *account.Account, ev *xlnwire.DisputeFinalized, reader jadapter.Reader) error {
	if !namesAccount(a, ev.Sender, ev.Counterentity) {
		return ErrWrongParty
	}

	info, err := reader.GetAccountInfo(a.Self, a.Counterparty())
	if err != nil {
		return fmt.Errorf("dispute: reading account info: %w", err)
	}

	a.OnChainSettlementNonce = info.Nonce
	a.ActiveDispute = nil
	if want := info.Nonce + 1; want > a.NextNonce {
		a.NextNonce = want
	}
	a.ClearPendingFrameState()

	// Counterparty dispute-proof snapshots belong to the pre-finalization
	// epoch; our own current proof remains a valid reference point, but
	// theirs may now point at a nonce the dispute has superseded.
	a.CounterpartyDisputeProofHanko = nil
	a.CounterpartyDisputeProofNonce = 0
	a.CounterpartyDisputeProofBodyHash = xlnwire.Hash256{}

	a.RollbackCount = 0
	a.Status = account.StatusActive
	log.Infof("dispute_finalized resynced account %s/%s at nonce=%d", a.LeftEntity, a.RightEntity, info.Nonce)

	a.Messages = append(a.Messages, account.Message{
		Category: "dispute",
		Text: fmt.Sprintf("dispute_finalized resynced on_chain_settlement_nonce=%d final_proof=%s",
			info.Nonce, ev.FinalProofbodyHash),
	})
	return nil
}

func namesAccount(a *account.Account, sender, counterentity xlnwire.EntityID) bool {
	return (sender == a.LeftEntity && counterentity == a.RightEntity) ||
		(sender == a.RightEntity && counterentity == a.LeftEntity)
}

// ErrMalformedArguments is returned when initialArguments does not decode
// to a matching (indices, secrets) pair.
var ErrMalformedArguments = errors.New("dispute: initialArguments does not decode to a matching indices/secrets pair")

// DecodeSecrets decodes the (uint32[] indices, bytes32[] secrets) pair the
// dispute contract's transformer packs into initialArguments (§4.9):
// args[0] is the concatenation of big-endian uint32 indices, args[1] the
// matching concatenation of 32-byte secrets. Returns one SecretRevealed
// per decoded secret, with Hashlock already computed via htlc.HashSecret
// so the result plugs directly into an htlc.RouteTable lookup. Returns
// nil, nil when no arguments were supplied.
func DecodeSecrets(args [][]byte) ([]xlnwire.SecretRevealed, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: want 2 elements, got %d", ErrMalformedArguments, len(args))
	}

	indices, secrets := args[0], args[1]
	if len(indices)%4 != 0 || len(secrets)%32 != 0 {
		return nil, fmt.Errorf("%w: misaligned element widths", ErrMalformedArguments)
	}
	n := len(indices) / 4
	if n != len(secrets)/32 {
		return nil, fmt.Errorf("%w: %d indices but %d secrets", ErrMalformedArguments, n, len(secrets)/32)
	}

	out := make([]xlnwire.SecretRevealed, n)
	for i := 0; i < n; i++ {
		var secret [32]byte
		copy(secret[:], secrets[i*32:(i+1)*32])
		out[i] = xlnwire.SecretRevealed{
			Hashlock: htlc.HashSecret(secret),
			Secret:   secret,
		}
	}
	return out, nil
}
