// Package jadapter defines the L1 adapter boundary (§6): the read and
// write interfaces the core injects as a capability rather than ever
// touching chain RPC, a wallet, or a signing key directly (§5's
// "non-determinism... confined to the operator layer"). Grounded on the
// teacher's own ChainNotifier/WalletController split — a narrow interface
// the core depends on, with one or more concrete implementations living
// entirely outside the deterministic state machine.
package jadapter

import (
	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/xlnwire"
)

// AccountInfo is the Depository contract's authoritative view of one
// account, as returned by Reader.GetAccountInfo (§6). It is consulted to
// reconcile state around DisputeStarted/DisputeFinalized (§4.9), since
// the core's own onChainSettlementNonce may be stale by the time a
// dispute resolves.
type AccountInfo struct {
	Nonce          uint64
	DisputeTimeout uint32
}

// Reader is the read half of the J-adapter (§6).
type Reader interface {
	// GetAccountInfo returns the on-chain authoritative nonce and dispute
	// timeout for the account between selfEntity and counterparty.
	GetAccountInfo(selfEntity, counterparty xlnwire.EntityID) (AccountInfo, error)

	// GetCollateral returns the on-chain collateral currently locked to
	// the (left, right) account for tokenID.
	GetCollateral(left, right xlnwire.EntityID, tokenID xlnwire.TokenID) (xlnwire.Amount, error)
}

// TxHandle opaquely identifies a submitted, not-yet-confirmed on-chain
// transaction. Its concrete shape is adapter-specific and never
// interpreted by the core (§9 Design Note on confining non-determinism);
// the core only ever compares sentBatch against arriving
// HankoBatchProcessed events by entity nonce, never by handle.
type TxHandle string

// Writer is the write half of the J-adapter (§6). Submissions are
// retried by the operator, not by Writer itself; the core treats a
// submitted batch as pending until a HankoBatchProcessed event carrying
// the same nonce arrives.
type Writer interface {
	// SubmitBatch pushes entity's accumulated j-batch on-chain under
	// nonce, authorized by hanko. It returns immediately with an opaque
	// handle; confirmation arrives later as a HankoBatchProcessed
	// JurisdictionEvent, not as this call's return value.
	SubmitBatch(entity xlnwire.EntityID, nonce uint64, hanko xlnwire.Hanko, batch jbatch.Batch) (TxHandle, error)
}

// Adapter is the full J-adapter capability an entity is constructed
// with. Core packages depend on Reader/Writer individually where only one
// half is needed (e.g. the dispute handler only reads); entity wiring
// depends on Adapter.
type Adapter interface {
	Reader
	Writer
}
