package xlnwire

// AccountTxType tags the variant carried by an AccountTx, dispatching
// handlers the way every tagged sum type in this codebase does (Design
// Note: "Tagged variants over inheritance" — adding a kind touches one
// match site).
type AccountTxType uint8

const (
	// TxDirectPayment moves value from one side's capacity to the
	// other's by shifting offdelta.
	TxDirectPayment AccountTxType = iota
	// TxHTLCAdd creates a new hash-time-locked contract lock.
	TxHTLCAdd
	// TxHTLCResolve resolves an existing lock, by secret or by expiry.
	TxHTLCResolve
	// TxSetCreditLimit adjusts one side's extended credit limit.
	TxSetCreditLimit
	// TxSetAllowance adjusts one side's spend allowance.
	TxSetAllowance
	// TxSettlePropose stages a proposed on-chain settlement.
	TxSettlePropose
	// TxSettleApprove counter-signs a staged settlement.
	TxSettleApprove
	// TxSettleExecute pushes an approved settlement into the j-batch.
	TxSettleExecute
	// TxJEventClaim carries one side's claim of a finalized j-event
	// batch, awaiting the counterparty's agreement (C8).
	TxJEventClaim
	// TxRebalanceRequest asks the counterparty to rebalance collateral
	// for a token.
	TxRebalanceRequest
	// TxRebalanceQuote quotes a fee for a pending rebalance request.
	TxRebalanceQuote
	// TxRebalanceAccept accepts a pending rebalance quote.
	TxRebalanceAccept
	// TxSetRebalancePolicy is a protocol signal adjusting rebalance
	// auto-accept policy.
	TxSetRebalancePolicy
)

// String renders the tx type for logs.
func (t AccountTxType) String() string {
	switch t {
	case TxDirectPayment:
		return "direct_payment"
	case TxHTLCAdd:
		return "htlc_add"
	case TxHTLCResolve:
		return "htlc_resolve"
	case TxSetCreditLimit:
		return "set_credit_limit"
	case TxSetAllowance:
		return "set_allowance"
	case TxSettlePropose:
		return "settle_propose"
	case TxSettleApprove:
		return "settle_approve"
	case TxSettleExecute:
		return "settle_execute"
	case TxJEventClaim:
		return "j_event_claim"
	case TxRebalanceRequest:
		return "rebalance_request"
	case TxRebalanceQuote:
		return "rebalance_quote"
	case TxRebalanceAccept:
		return "rebalance_accept"
	case TxSetRebalancePolicy:
		return "set_rebalance_policy"
	default:
		return "<unknown account tx>"
	}
}

// HTLCOutcome tags how an in-flight HTLC lock was resolved.
type HTLCOutcome uint8

const (
	// HTLCOutcomeSecret resolves the lock by presenting the pre-image.
	HTLCOutcomeSecret HTLCOutcome = iota
	// HTLCOutcomeExpiry resolves the lock by elapsed expiry, returning
	// the locked amount to the sender.
	HTLCOutcomeExpiry
)

// DirectPayment is the payload of a TxDirectPayment AccountTx.
type DirectPayment struct {
	From        EntityID
	To          EntityID
	TokenID     TokenID
	Amount      Amount
	Description string
}

// HTLCAdd is the payload of a TxHTLCAdd AccountTx.
type HTLCAdd struct {
	LockID       LockID
	Hashlock     Hash256
	Amount       Amount
	TokenID      TokenID
	Expiry       uint64
	SenderIsLeft bool
}

// HTLCResolve is the payload of a TxHTLCResolve AccountTx.
type HTLCResolve struct {
	LockID  LockID
	Outcome HTLCOutcome
	Secret  [32]byte
}

// SetCreditLimit is the payload of a TxSetCreditLimit AccountTx.
type SetCreditLimit struct {
	TokenID TokenID
	// SetLeft, when true, means the proposer is offering to raise/lower
	// the left side's credit limit; credit limits are offered by the
	// party extending the credit, i.e. the party that would be a net
	// creditor.
	SetLeft     bool
	CreditLimit Amount
}

// SetAllowance is the payload of a TxSetAllowance AccountTx.
type SetAllowance struct {
	TokenID   TokenID
	SetLeft   bool
	Allowance Amount
}

// SettleDiff is one token's proposed on-chain settlement delta, part of a
// SettlePropose/SettleApprove/SettleExecute payload and of the settlement
// workspace (C5).
type SettleDiff struct {
	TokenID         TokenID
	CollateralDelta Amount
	OndeltaDelta    Amount
}

// SettlePropose is the payload of a TxSettlePropose AccountTx. Hanko is the
// proposer's signature over the settlement tx (diffs + nonceAtSign), a
// distinct signing domain from a frame's dispute-proof Hanko.
// ProposerIsLeft is fixed by whichever side originally admitted the tx, so
// replaying it on the counterparty's state (as every committed frame is)
// attributes the proposal to the correct side regardless of whose account
// copy is doing the replaying.
type SettlePropose struct {
	Diffs          []SettleDiff
	Hanko          Hanko
	ProposerIsLeft bool
}

// SettleApprove is the payload of a TxSettleApprove AccountTx: the other
// side's signature completing the 2-of-2 over the staged settlement tx.
type SettleApprove struct {
	Hanko          Hanko
	ApproverIsLeft bool
}

// SettleExecute is the payload of a TxSettleExecute AccountTx.
type SettleExecute struct{}

// JEventClaim is the payload of a TxJEventClaim AccountTx: one side's
// normalized claim of a finalized j-event batch observed on-chain,
// awaiting the counterparty's matching claim (C8). ClaimantIsLeft is
// fixed at admission time by whichever side actually observed the
// j-event, the same way SenderIsLeft/ProposerIsLeft are: the same tx is
// later replayed on the counterparty's state, where IsLeft() would
// reflect the wrong side.
type JEventClaim struct {
	JHeight        uint64
	JBlockHash     Hash256
	Events         []JurisdictionEvent
	ObservedAt     uint64
	ClaimantIsLeft bool
}

// RebalanceRequest is the payload of a TxRebalanceRequest AccountTx.
type RebalanceRequest struct {
	TokenID TokenID
	Amount  Amount
}

// RebalanceQuote is the payload of a TxRebalanceQuote AccountTx. QuoteID
// is fixed to the issuing entity's logical timestamp at quote time (§3:
// "quoteId (= issuance timestamp)"). RequesterIsLeft is carried on the
// tx itself rather than inferred from IsLeft() at apply time, the same
// reason SettlePropose carries ProposerIsLeft: the same tx is replayed
// on both sides' accounts, where IsLeft() would reflect the wrong side
// on whichever account belongs to the quoting entity.
type RebalanceQuote struct {
	QuoteID         uint64
	FeeTokenID      TokenID
	FeeAmount       Amount
	RequesterIsLeft bool
}

// RebalanceAccept is the payload of a TxRebalanceAccept AccountTx.
type RebalanceAccept struct {
	QuoteID uint64
}

// SetRebalancePolicy is the payload of a TxSetRebalancePolicy AccountTx.
type SetRebalancePolicy struct {
	AutoAccept bool
}

// AccountTx is the tagged union of all account-level transactions (§3).
// Exactly one of the typed payload fields is populated, selected by Type.
type AccountTx struct {
	Type AccountTxType

	DirectPayment      *DirectPayment
	HTLCAdd            *HTLCAdd
	HTLCResolve        *HTLCResolve
	SetCreditLimit     *SetCreditLimit
	SetAllowance       *SetAllowance
	SettlePropose      *SettlePropose
	SettleApprove      *SettleApprove
	SettleExecute      *SettleExecute
	JEventClaim        *JEventClaim
	RebalanceRequest   *RebalanceRequest
	RebalanceQuote     *RebalanceQuote
	RebalanceAccept    *RebalanceAccept
	SetRebalancePolicy *SetRebalancePolicy
}
