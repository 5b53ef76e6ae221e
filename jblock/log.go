package jblock

import "github.com/btcsuite/btclog"

// log is the package-level logger, disabled until the daemon wires a real
// backend via UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by jblock. This should be
// called before the package is used; the default logger discards output.
func UseLogger(logger btclog.Logger) {
	log = logger
}
