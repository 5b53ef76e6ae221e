package account

import "github.com/btcsuite/btclog"

// log is the package-level logger, disabled until the daemon wires a real
// backend via UseLogger (lnd's per-subsystem logging idiom: every package
// owns its own silent-by-default Logger rather than reaching for a global
// one).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by account. This should be
// called before the package is used; the default logger discards output.
func UseLogger(logger btclog.Logger) {
	log = logger
}
