package main

import (
	"os"

	"github.com/btcsuite/btclog"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/dispute"
	"github.com/xlnfinance/xln/entity"
	"github.com/xlnfinance/xln/htlc"
	"github.com/xlnfinance/xln/jbatch"
	"github.com/xlnfinance/xln/jblock"
	"github.com/xlnfinance/xln/jevent"
)

// backendLog is the root btclog backend every subsystem's logger is carved
// out of. Subsystems never write to stdout directly; they hold a tagged
// child logger handed out by backendLog.Logger.
var backendLog = btclog.NewBackend(os.Stdout)

// ltndLog is the daemon's own top-level logger (subsystem tag "XLND"),
// separate from the per-package subsystem loggers below.
var ltndLog = backendLog.Logger("XLND")

// subsystemLoggers maps each subsystem tag to the UseLogger hook that wires
// it up, mirroring lnd's own subsystem registry: every package that logs
// owns a disabled-by-default logger until main() here calls UseLogger on its
// behalf with a tagged child of the shared backend.
var subsystemLoggers = map[string]func(btclog.Logger){
	"ACCT": account.UseLogger,
	"JBLK": jblock.UseLogger,
	"JEVT": jevent.UseLogger,
	"JBAT": jbatch.UseLogger,
	"DISP": dispute.UseLogger,
	"HTLC": htlc.UseLogger,
	"ENTY": entity.UseLogger,
}

// initLogging wires every subsystem in subsystemLoggers to a tagged child
// of backendLog, then applies level to all of them uniformly. cmd/xlnd has
// no per-subsystem level overrides (unlike lnd's --debuglevel=TAG=LEVEL,...
// flag); that refinement is left for a later iteration.
func initLogging(level btclog.Level) {
	for tag, use := range subsystemLoggers {
		logger := backendLog.Logger(tag)
		logger.SetLevel(level)
		use(logger)
	}
	ltndLog.SetLevel(level)
}
