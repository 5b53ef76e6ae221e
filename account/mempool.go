package account

import "github.com/xlnfinance/xln/xlnwire"

// AdmitTx validates tx against a's current committed state (§4.4:
// "mempool admission: an incoming AccountTx is validated... on success
// appended") and, on success, appends it to the mempool unchanged. The
// feasibility check is performed by replaying applyTx against a throwaway
// clone, so admission and frame-building can never disagree about whether
// a transaction is valid (§8's round-trip law).
func (a *Account) AdmitTx(tx xlnwire.AccountTx, now uint64) error {
	if a.Status == StatusDisputed {
		return ErrAccountDisputed
	}
	trial := a.clone()
	if err := trial.applyTx(tx, now); err != nil {
		return err
	}
	a.Mempool = append(a.Mempool, tx)
	return nil
}
