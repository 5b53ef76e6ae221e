package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	flags "github.com/jessevdk/go-flags"

	"github.com/xlnfinance/xln/account"
	"github.com/xlnfinance/xln/entity"
	"github.com/xlnfinance/xln/jadapter"
	"github.com/xlnfinance/xln/persistence"
	"github.com/xlnfinance/xln/xlnwire"
)

// metrics mirrors the small set of daemon-wide counters/gauges §11 calls
// for: j-batch failures, rollback counts, dispute counts. Grounded on the
// teacher's httpswitch-adjacent prometheus usage pattern of package-level
// promauto collectors registered once at process start.
var (
	metricBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xlnd_jbatch_failures_total",
		Help: "Total number of j-batches that failed on-chain confirmation.",
	})
	metricRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xlnd_account_rollbacks_total",
		Help: "Total number of account frame rollbacks across all accounts.",
	})
	metricDisputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xlnd_disputes_started_total",
		Help: "Total number of disputes observed starting on any account.",
	})
)

// prevTotals tracks every monotonic counter this process has already
// reported to prometheus, so recordMetrics can diff against the entity's
// own cumulative fields each tick instead of double-counting.
type prevTotals struct {
	rollbacks      map[xlnwire.EntityID]uint64
	disputed       map[xlnwire.EntityID]bool
	failedAttempts uint64
}

func newPrevTotals() *prevTotals {
	return &prevTotals{
		rollbacks: make(map[xlnwire.EntityID]uint64),
		disputed:  make(map[xlnwire.EntityID]bool),
	}
}

// recordMetrics diffs ent's current cumulative state against prev and
// reports the delta to the prometheus counters above (§11: j-batch
// failures, rollback counts, dispute counts).
func recordMetrics(ent *entity.Entity, prev *prevTotals) {
	for counterparty, a := range ent.Accounts {
		if a.RollbackCount > prev.rollbacks[counterparty] {
			metricRollbacks.Add(float64(a.RollbackCount - prev.rollbacks[counterparty]))
			prev.rollbacks[counterparty] = a.RollbackCount
		}
		nowDisputed := a.ActiveDispute != nil
		if nowDisputed && !prev.disputed[counterparty] {
			metricDisputes.Inc()
		}
		prev.disputed[counterparty] = nowDisputed
	}
	if ent.Batch.FailedAttempts > prev.failedAttempts {
		metricBatchFailures.Add(float64(ent.Batch.FailedAttempts - prev.failedAttempts))
		prev.failedAttempts = ent.Batch.FailedAttempts
	}
}

// xlndMain is the true entry point, split out from main so deferred cleanup
// still runs when a loadConfig or setup error returns early (the same
// reason lnd.go splits lndMain out of main).
func xlndMain() error {
	cfg, err := loadConfig()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	initLogging(parseLogLevel(cfg.DebugLevel))
	defer backendLog.Flush()

	ltndLog.Infof("xlnd starting, homedir=%s", cfg.HomeDir)

	var id xlnwire.EntityID
	raw, err := hex.DecodeString(cfg.EntityIDHex)
	if err != nil || len(raw) != len(id) {
		return fmt.Errorf("invalid --entityid %q: must be %d hex bytes", cfg.EntityIDHex, len(id))
	}
	copy(id[:], raw)

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("unable to open persistence store: %w", err)
	}
	defer store.Close()

	sim := jadapter.NewSimulator(cfg.DisputeTimeout)
	clk := clock.NewDefaultClock()

	entCfg := entity.Config{
		Threshold:     cfg.Threshold,
		Signers:       []xlnwire.EntityID{id},
		AccountConfig: account.Config{TokenDefaults: map[xlnwire.TokenID]account.TokenDefault{}},
	}

	signer, err := newDaemonSigner(id)
	if err != nil {
		return fmt.Errorf("unable to generate signing key: %w", err)
	}

	var ent *entity.Entity
	if snap, loadErr := store.LoadEntity(id); loadErr == nil {
		ent = snap.Restore(signer, sim)
		ltndLog.Infof("restored entity %x from %s", id, cfg.DataDir)
	} else if loadErr == persistence.ErrEntityNotFound {
		ent = entity.New(id, entCfg, signer, sim, 0, 0)
		ltndLog.Infof("initialized fresh entity %x", id)
	} else {
		return fmt.Errorf("unable to load entity: %w", loadErr)
	}

	// Stamp the entity's logical clock with the wall-clock time immediately
	// on startup rather than leaving it at whatever Timestamp a stale
	// snapshot (or zero, on a fresh entity) carried until the first ticker
	// tick arrives — Entity.Timestamp must never regress, and clk.Now()
	// only ever moves forward.
	if startNow := uint64(clk.Now().Unix()); startNow > ent.Timestamp {
		ent.Timestamp = startNow
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		ltndLog.Infof("prometheus metrics listening on :%d/metrics", cfg.RPCPort+1)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.RPCPort+1), mux); err != nil {
			ltndLog.Errorf("metrics server stopped: %v", err)
		}
	}()

	tick := ticker.New(time.Duration(defaultTickInterval) * time.Second)
	tick.Resume()
	defer tick.Stop()

	ltndLog.Info("xlnd ready, ticking every " + (time.Duration(defaultTickInterval) * time.Second).String())

	totals := newPrevTotals()
	for {
		select {
		case now := <-tick.Ticks():
			ent.Timestamp = uint64(now.Unix())
			ent.Tick(ent.Timestamp)
			recordMetrics(ent, totals)

			if err := store.SaveEntity(persistence.Snapshot(ent)); err != nil {
				ltndLog.Errorf("unable to persist entity: %v", err)
			}

		case <-interruptChan:
			ltndLog.Info("shutdown signal received, saving and exiting")
			if err := store.SaveEntity(persistence.Snapshot(ent)); err != nil {
				ltndLog.Errorf("unable to persist entity on shutdown: %v", err)
			}
			return nil
		}
	}
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := xlndMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
