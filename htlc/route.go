package htlc

import (
	"sync"

	"github.com/xlnfinance/xln/xlnwire"
)

// Ref is a non-owning reference to a lock living inside one of an
// entity's accounts.
type Ref struct {
	Counterparty xlnwire.EntityID
	LockID       xlnwire.LockID
}

// RouteTable is the entity-owned index from a hashlock to every lock
// across the entity's accounts that shares it (Design Note: "a lock
// belongs to one account but the secret-propagation index spans
// accounts... model as an owning parent (the entity) with child accounts;
// the route table lives on the entity and holds non-owning references
// into accounts via (counterpartyId, lockId)"). It contains no business
// logic: it is purely an index the entity consults when a SecretRevealed
// j-event is finalized, to find every account where the revealed secret
// should trigger an inbound resolve.
type RouteTable struct {
	mu         sync.Mutex
	byHashlock map[xlnwire.Hash256][]Ref
}

// NewRouteTable constructs an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{byHashlock: make(map[xlnwire.Hash256][]Ref)}
}

// Register indexes a newly admitted lock under its hashlock.
func (rt *RouteTable) Register(hashlock xlnwire.Hash256, ref Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.byHashlock[hashlock] = append(rt.byHashlock[hashlock], ref)
}

// Unregister removes a lock's entry once it has been resolved (by secret
// or by expiry) so stale references do not accumulate.
func (rt *RouteTable) Unregister(hashlock xlnwire.Hash256, ref Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	refs := rt.byHashlock[hashlock]
	for i, r := range refs {
		if r == ref {
			rt.byHashlock[hashlock] = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(rt.byHashlock[hashlock]) == 0 {
		delete(rt.byHashlock, hashlock)
	}
}

// Lookup returns every known Ref for hashlock, across all accounts.
func (rt *RouteTable) Lookup(hashlock xlnwire.Hash256) []Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	refs := rt.byHashlock[hashlock]
	out := make([]Ref, len(refs))
	copy(out, refs)
	return out
}
