package xlnwire

// JBlockObservation is one signer's report of a finalized L1 block's
// events (§3, §4.7): an EntityTx of type j_event submitted by one of the
// entity's signers.
type JBlockObservation struct {
	SignerID   EntityID
	JHeight    uint64
	JBlockHash Hash256
	Events     []JurisdictionEvent
	ObservedAt uint64
}

// JBlockFinalized is the entity-level result of C7 reaching threshold
// agreement on one L1 block's events (§3).
type JBlockFinalized struct {
	JHeight     uint64
	JBlockHash  Hash256
	Events      []JurisdictionEvent
	FinalizedAt uint64
	SignerCount int
}
