// Package jblock implements per-entity j-block consensus (C7): grouping
// an entity's signers' observations of L1 blocks by (height, hash) and
// finalizing once unique-signer count reaches the entity's threshold.
// Grounded on contractcourt/chain_watcher.go's subscription/observer
// idiom (independent watchers reporting in, one canonical view emitted
// once enough corroborating reports arrive), generalized from a single
// chain watcher's internal consensus to an explicit multi-signer
// threshold.
package jblock

import (
	"errors"

	"github.com/xlnfinance/xln/xlnwire"
)

// ErrHeightAlreadyFinalized is returned when an observation arrives for a
// height at or below the entity's last finalized height (§4.7 step 1:
// "monotonic").
var ErrHeightAlreadyFinalized = errors.New("jblock: height already finalized")

// Config is an entity's j-block consensus configuration (§3's
// config.threshold/signers).
type Config struct {
	Threshold int
}

// Tracker holds one entity's pending observations and finalized chain.
// Pure over (state, input): Observe never reads a clock or performs I/O;
// FinalizedAt is taken from the ObservedAt of the observation that
// reaches threshold (§5: "the core reads the entity's logical timestamp
// and explicit event data only").
type Tracker struct {
	Cfg Config

	Pending              []xlnwire.JBlockObservation
	Chain                []xlnwire.JBlockFinalized
	LastFinalizedJHeight uint64
}

// New constructs a Tracker starting at lastFinalizedJHeight (typically
// recovered from persistence at startup).
func New(cfg Config, lastFinalizedJHeight uint64) *Tracker {
	return &Tracker{Cfg: cfg, LastFinalizedJHeight: lastFinalizedJHeight}
}

type group struct {
	height uint64
	hash   xlnwire.Hash256
}

// Observe appends obs to the pending set and checks whether its
// (height, hash) group now meets threshold (§4.7). It returns the newly
// finalized block if this observation tipped the group over threshold,
// nil otherwise.
func (t *Tracker) Observe(obs xlnwire.JBlockObservation) (*xlnwire.JBlockFinalized, error) {
	if obs.JHeight <= t.LastFinalizedJHeight {
		return nil, ErrHeightAlreadyFinalized
	}
	t.Pending = append(t.Pending, obs)

	target := group{height: obs.JHeight, hash: obs.JBlockHash}
	signers := make(map[xlnwire.EntityID]struct{})
	var matched []xlnwire.JBlockObservation
	for _, o := range t.Pending {
		if o.JHeight == target.height && o.JBlockHash == target.hash {
			signers[o.SignerID] = struct{}{}
			matched = append(matched, o)
		}
	}
	if len(signers) < t.Cfg.Threshold {
		return nil, nil
	}

	var events []xlnwire.JurisdictionEvent
	for _, o := range matched {
		events = append(events, o.Events...)
	}
	finalized := xlnwire.JBlockFinalized{
		JHeight: target.height, JBlockHash: target.hash,
		Events: xlnwire.DedupeEvents(events), FinalizedAt: obs.ObservedAt,
		SignerCount: len(signers),
	}

	t.Chain = append(t.Chain, finalized)
	t.LastFinalizedJHeight = target.height
	t.prune(target.height)
	log.Debugf("finalized j-block at height %d (%d signers, %d events)", target.height, len(signers), len(finalized.Events))

	return &finalized, nil
}

// prune drops every pending observation at height: it has either just
// finalized (and is now recorded in Chain, not Pending) or belongs to a
// losing, conflicting hash at the same height, which is moot once any
// hash at that height has finalized.
func (t *Tracker) prune(height uint64) {
	kept := t.Pending[:0]
	for _, o := range t.Pending {
		if o.JHeight != height {
			kept = append(kept, o)
		}
	}
	t.Pending = kept
}
