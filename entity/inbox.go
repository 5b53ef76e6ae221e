package entity

import (
	"github.com/lightningnetwork/lnd/queue"

	"github.com/xlnfinance/xln/xlnwire"
)

// InputKind tags the variant carried by an Input (§5: "all inputs ...
// are placed into an entity's inbox and consumed in inbox order").
type InputKind uint8

const (
	// InputJBlockObservation carries a j_event signer observation (C7).
	InputJBlockObservation InputKind = iota
	// InputCounterpartyFrame carries a peer's proposed frame.
	InputCounterpartyFrame
	// InputCounterSignature carries a peer's counter-signature reply to
	// our own pending frame.
	InputCounterSignature
	// InputTimerTick carries a clock advance, triggering frame proposal
	// on any account with a non-empty idle mempool.
	InputTimerTick
	// InputDepositCollateral carries a deposit_collateral entity tx.
	InputDepositCollateral
	// InputMintReserves carries a mintReserves admin entity tx.
	InputMintReserves
	// InputJBroadcast carries a j_broadcast entity tx.
	InputJBroadcast
	// InputAccountTx carries a wrapped AccountTx bound for a named
	// counterparty's mempool.
	InputAccountTx
)

// Input is the tagged union of everything that can arrive at an entity's
// inbox (§5). Exactly one payload field is populated, selected by Kind.
type Input struct {
	Kind InputKind

	JBlockObservation *xlnwire.JBlockObservation

	Counterparty xlnwire.EntityID
	Frame        *xlnwire.Frame
	FrameInput   *xlnwire.AccountInput

	Now uint64

	TokenID xlnwire.TokenID
	Amount  xlnwire.Amount

	RebalanceQuoteID uint64

	AccountTx xlnwire.AccountTx
}

// Result reports what processing one Input produced, for the caller
// driving the inbox loop (typically the transport/operator layer) to act
// on: outbound frames to deliver, or an error to log.
type Result struct {
	Input     Input
	Outbound  []Outbound
	Finalized *xlnwire.JBlockFinalized
	Reply     *xlnwire.AccountInput
	Handle    string
	Err       error
}

// Inbox is the entity's single-threaded cooperative input queue (§5),
// backed by queue.ConcurrentQueue exactly as lnd's peer.go feeds its own
// readHandler/writeHandler goroutines through an unbounded buffered
// channel: producers (transport, signer observations, a ticker) push
// from any goroutine via In(), while Run drains and dispatches from
// exactly one goroutine, preserving the single-threaded-per-entity
// guarantee §5 requires.
type Inbox struct {
	q *queue.ConcurrentQueue
}

// NewInbox constructs an empty Inbox.
func NewInbox() *Inbox {
	q := queue.NewConcurrentQueue(64)
	q.Start()
	return &Inbox{q: q}
}

// In pushes an Input onto the inbox from any goroutine.
func (ib *Inbox) In(in Input) {
	ib.q.ChanIn() <- in
}

// Stop shuts down the inbox's internal goroutine. No further Input may be
// pushed afterward.
func (ib *Inbox) Stop() {
	ib.q.Stop()
}

// Run drains the inbox in order, dispatching each Input to e and sending
// the outcome to results, until stop is closed. This is the entity-level
// analogue of peer.go's channelManager dispatch loop: one goroutine, one
// input source, switch-dispatch to the owning handler.
func (e *Entity) Run(ib *Inbox, results chan<- Result, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case raw, ok := <-ib.q.ChanOut():
			if !ok {
				return
			}
			in := raw.(Input)
			res := e.dispatch(in)
			if results != nil {
				select {
				case results <- res:
				case <-stop:
					return
				}
			}
		}
	}
}

// dispatch applies one Input to e and reports the outcome (§5's
// suspension-point model: none of these block — a frame awaiting
// counter-signature, a batch awaiting HankoBatchProcessed, and a
// j-block's pending observation group are all just state that a later
// Input advances).
func (e *Entity) dispatch(in Input) Result {
	res := Result{Input: in}
	switch in.Kind {
	case InputJBlockObservation:
		finalized, err := e.ObserveJBlock(*in.JBlockObservation)
		res.Finalized, res.Err = finalized, err

	case InputCounterpartyFrame:
		reply, err := e.HandleCounterpartyFrame(in.Counterparty, in.Frame, in.FrameInput)
		res.Reply, res.Err = reply, err

	case InputCounterSignature:
		res.Err = e.HandleCounterSignature(in.Counterparty, in.FrameInput)

	case InputTimerTick:
		res.Outbound = e.Tick(in.Now)

	case InputDepositCollateral:
		res.Err = e.DepositCollateral(in.Counterparty, in.TokenID, in.Amount, in.RebalanceQuoteID)

	case InputMintReserves:
		e.MintReserves(in.TokenID, in.Amount)

	case InputJBroadcast:
		handle, err := e.JBroadcast()
		res.Handle, res.Err = string(handle), err

	case InputAccountTx:
		res.Err = e.SubmitAccountTx(in.Counterparty, in.AccountTx)
	}
	return res
}
