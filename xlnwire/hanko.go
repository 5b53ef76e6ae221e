package xlnwire

// Hanko is a participant's compound signature binding a proofBodyHash to a
// nonce (GLOSSARY). In this single-signer-per-side core, a hanko is an
// ECDSA signature over the proof body hash; a future multisig entity would
// aggregate several participant signatures into the same opaque blob
// without changing any caller of this type.
type Hanko []byte

// AccountInput is the message exchanged between the two entities of an
// account over the account-transport (§6). Exactly one of the optional
// fields is populated per message: a proposer sends NewFrame+OwnHanko, a
// counter-signer replies with CounterHanko only.
type AccountInput struct {
	// AccountID identifies the account this input belongs to, used for
	// inbox replay keyed on (accountId, nonce) (§4.4 failure model).
	AccountID string

	// Nonce is the frame nonce this input pertains to.
	Nonce uint64

	// NewFrame, when non-nil, is a newly proposed frame.
	NewFrame *Frame

	// OwnHanko is the proposer's signature over NewFrame's proof body
	// hash.
	OwnHanko Hanko

	// CounterHanko, when non-nil, is the counter-signature completing
	// commitment of the frame at Nonce.
	CounterHanko Hanko

	// PostSettlementHanko, when non-nil, is this side's signature over the
	// settlement workspace's pre-computed post-settlement dispute proof
	// (§4.5), piggybacked on whichever AccountInput first commits the
	// frame that brought the workspace to ready_to_submit.
	PostSettlementHanko Hanko
}

// Frame is a counter-signed batch of account transactions advancing an
// account by one nonce (GLOSSARY).
type Frame struct {
	Nonce         uint64
	Txs           []AccountTx
	ProofBodyHash Hash256
}
