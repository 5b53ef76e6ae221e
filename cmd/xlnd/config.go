package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
	"github.com/hashicorp/go-multierror"

	"github.com/btcsuite/btclog"

	"github.com/xlnfinance/xln/xlnwire"
)

const (
	defaultDataDirname  = "data"
	defaultLogDirname   = "logs"
	defaultLogFilename  = "xlnd.log"
	defaultRPCPort      = 10019
	defaultTickInterval = 1 // seconds between Entity.Tick ticks
)

var (
	defaultHomeDir = filepath.Join(os.Getenv("HOME"), ".xlnd")
)

// config mirrors lnd's own single flat config struct: one struct, long/
// description tags, parsed once by loadConfig at startup.
type config struct {
	HomeDir string `long:"homedir" description:"The base directory that contains xlnd's data, logs, etc."`
	DataDir string `long:"datadir" description:"The directory to store xlnd's persistent entity state in"`
	LogDir  string `long:"logdir" description:"Directory to log output"`

	EntityIDHex string `long:"entityid" description:"Hex-encoded entity ID this daemon instance operates as" required:"true"`
	Threshold   int    `long:"threshold" description:"Number of signer hankos required to finalize a j-block" default:"1"`

	RPCPort int `long:"rpcport" description:"Base port; Prometheus metrics are served on rpcport+1 (no RPC server is started)"`

	DebugLevel string `long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical" default:"info"`

	DisputeTimeout uint32 `long:"disputetimeout" description:"L1 blocks a started dispute waits before auto-finalizing in the in-process jadapter.Simulator (no external Depository contract is wired yet)" default:"144"`
}

// defaultConfig returns a config pre-populated with xlnd's defaults, the
// same role lnd's defaultConfig plays before flags.Parse overrides fields.
func defaultConfig() config {
	return config{
		HomeDir:        defaultHomeDir,
		DataDir:        filepath.Join(defaultHomeDir, defaultDataDirname),
		LogDir:         filepath.Join(defaultHomeDir, defaultLogDirname),
		RPCPort:        defaultRPCPort,
		Threshold:      1,
		DebugLevel:     "info",
		DisputeTimeout: 144,
	}
}

// loadConfig parses command-line flags over defaultConfig, the counterpart
// of lnd's own loadConfig (config.go is absent from the retrieved tree, but
// the root-level cfg variable and flags.Error-based --help handling in
// lnd.go's main confirms the shape this follows).
func loadConfig() (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate collects every independently-wrong config field into a single
// multierror instead of failing on the first one found, so a misconfigured
// operator sees the full list of problems in one pass rather than fixing
// them one flag at a time.
func validate(cfg *config) error {
	var result *multierror.Error

	var id xlnwire.EntityID
	if raw, err := hex.DecodeString(cfg.EntityIDHex); err != nil || len(raw) != len(id) {
		result = multierror.Append(result, fmt.Errorf("--entityid must be %d hex bytes, got %q", len(id), cfg.EntityIDHex))
	}
	if cfg.Threshold < 1 {
		result = multierror.Append(result, fmt.Errorf("--threshold must be >= 1, got %d", cfg.Threshold))
	}
	if cfg.DisputeTimeout == 0 {
		result = multierror.Append(result, fmt.Errorf("--disputetimeout must be > 0"))
	}
	if cfg.RPCPort <= 0 || cfg.RPCPort > 65534 {
		result = multierror.Append(result, fmt.Errorf("--rpcport must be between 1 and 65534, got %d", cfg.RPCPort))
	}

	return result.ErrorOrNil()
}

// parseLogLevel maps a config's DebugLevel string to a btclog.Level,
// defaulting to Info on an unrecognized value rather than failing startup
// over a logging preference.
func parseLogLevel(s string) btclog.Level {
	switch s {
	case "trace":
		return btclog.LevelTrace
	case "debug":
		return btclog.LevelDebug
	case "info":
		return btclog.LevelInfo
	case "warn":
		return btclog.LevelWarn
	case "error":
		return btclog.LevelError
	case "critical":
		return btclog.LevelCritical
	case "off":
		return btclog.LevelOff
	default:
		return btclog.LevelInfo
	}
}
