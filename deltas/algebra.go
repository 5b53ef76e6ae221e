// Package deltas implements the pure delta algebra (C1): the side-free,
// total function from a token's raw Delta fields to the derived balances
// either party sees. Nothing here touches disk, the network, or a clock —
// it is the same pure-computation layer that lnwallet/channel.go uses to
// turn a commitment's HTLC log into available balances, generalized to
// XLN's collateral/credit/allowance model (§4.1).
package deltas

import "github.com/xlnfinance/xln/xlnwire"

// Delta holds one token's raw, signed account state (§3). Collateral and
// ondelta mutate only via bilaterally-finalized AccountSettled events;
// offdelta, allowances, and credit limits mutate only through
// counter-signed frames.
type Delta struct {
	Collateral      xlnwire.Amount
	Ondelta         xlnwire.Amount
	Offdelta        xlnwire.Amount
	LeftCreditLimit xlnwire.Amount
	RightCreditLimit xlnwire.Amount
	LeftAllowance   xlnwire.Amount
	RightAllowance  xlnwire.Amount
}

// NewDelta returns a Delta with zero balances and the given default credit
// limits (Design Note: "model as an injected configuration value,
// construction-time" rather than a module-level default map).
func NewDelta(defaultLeftCredit, defaultRightCredit xlnwire.Amount) Delta {
	return Delta{
		Collateral:       xlnwire.ZeroAmount(),
		Ondelta:          xlnwire.ZeroAmount(),
		Offdelta:         xlnwire.ZeroAmount(),
		LeftCreditLimit:  defaultLeftCredit,
		RightCreditLimit: defaultRightCredit,
		LeftAllowance:    xlnwire.ZeroAmount(),
		RightAllowance:   xlnwire.ZeroAmount(),
	}
}

// Derived holds the balances derivable from a Delta for one side's
// perspective: the capacities available to send/receive, the collateral
// split, and the credit buckets in use versus remaining.
type Derived struct {
	TotalCapacity xlnwire.Amount

	InCapacity  xlnwire.Amount
	OutCapacity xlnwire.Amount

	InCollateral  xlnwire.Amount
	OutCollateral xlnwire.Amount

	InOwnCredit   xlnwire.Amount
	OutOwnCredit  xlnwire.Amount
	InPeerCredit  xlnwire.Amount
	OutPeerCredit xlnwire.Amount
}

// Derive computes Derived balances for a Delta from the perspective of
// iAmLeft (§4.1). This function never errors: every input, including
// negative collateral (clamped to zero) and pathological credit limits,
// produces a well-defined, invariant-respecting result.
func Derive(d Delta, iAmLeft bool) Derived {
	collateral := xlnwire.MaxZero(d.Collateral)
	totalDelta := d.Ondelta.Add(d.Offdelta)

	var outCollateral, inCollateral xlnwire.Amount
	var outPeerCredit, inOwnCredit xlnwire.Amount

	// leftCreditLimit/rightCreditLimit here are from the *left* party's
	// perspective of who extends credit to whom: the left side extends
	// LeftCreditLimit of credit to the right side, and vice versa. In
	// the left-centric frame below, "own" credit is the limit the left
	// side has been extended (RightCreditLimit, extended by the right
	// side) and "peer" credit is LeftCreditLimit, extended by the left
	// side to the right. We swap at the end for the right side.
	ownCreditLimit := d.RightCreditLimit
	peerCreditLimit := d.LeftCreditLimit

	if totalDelta.Sign() > 0 {
		// Counterparty (right, in the left-centric frame) owes the
		// holder (left).
		outCollateral = xlnwire.Min(totalDelta, collateral)
		inCollateral = collateral.Sub(outCollateral)
		outPeerCredit = xlnwire.Clamp(
			totalDelta.Sub(collateral), xlnwire.ZeroAmount(), peerCreditLimit,
		)
		inOwnCredit = xlnwire.ZeroAmount()
	} else {
		outCollateral = xlnwire.ZeroAmount()
		inCollateral = collateral
		inOwnCredit = xlnwire.Clamp(
			totalDelta.Neg(), xlnwire.ZeroAmount(), ownCreditLimit,
		)
		outPeerCredit = xlnwire.ZeroAmount()
	}

	outOwnCredit := ownCreditLimit.Sub(inOwnCredit)
	inPeerCredit := peerCreditLimit.Sub(outPeerCredit)

	outAllowance := d.LeftAllowance
	inAllowance := d.RightAllowance

	outCapacity := xlnwire.MaxZero(
		inCollateral.Add(outOwnCredit).Add(inPeerCredit).Sub(outAllowance),
	)
	inCapacity := xlnwire.MaxZero(
		outCollateral.Add(inOwnCredit).Add(outPeerCredit).Sub(inAllowance),
	)

	der := Derived{
		TotalCapacity: collateral.Add(d.LeftCreditLimit).Add(d.RightCreditLimit),
		InCapacity:    inCapacity,
		OutCapacity:   outCapacity,
		InCollateral:  inCollateral,
		OutCollateral: outCollateral,
		InOwnCredit:   inOwnCredit,
		OutOwnCredit:  outOwnCredit,
		InPeerCredit:  inPeerCredit,
		OutPeerCredit: outPeerCredit,
	}

	if !iAmLeft {
		der.InCapacity, der.OutCapacity = der.OutCapacity, der.InCapacity
		der.InCollateral, der.OutCollateral = der.OutCollateral, der.InCollateral
		der.InOwnCredit, der.OutPeerCredit = der.OutPeerCredit, der.InOwnCredit
		der.OutOwnCredit, der.InPeerCredit = der.InPeerCredit, der.OutOwnCredit
	}

	return der
}
