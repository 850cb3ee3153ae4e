// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"gotcp/config"
	"gotcp/internal/core"
	"gotcp/internal/errors"
	"gotcp/internal/metrics"
	"gotcp/internal/pacer"
	"gotcp/internal/store"
	"gotcp/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X gotcp/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// options are flags that steer the CLI itself rather than filling Config.
type options struct {
	waitSec     int
	showVersion bool
	showHelp    bool
}

// Execute parses args and runs the appropriate gotcp mode.
//
// Settings are layered: defaults, then the settings store (--store or
// GOTCP_STORE), then GOTCP_* variables, then flags.  The flags are
// parsed once up front to find --store, --help and --version, and again
// on top of the merged settings so that only flags actually given win.
func Execute(ctx context.Context, args []string) error {
	early := config.Default()
	var po options
	pfs := newFlagSet(early, &po)
	if err := pfs.Parse(args); err != nil {
		return err
	}
	if po.showHelp || len(args) == 0 {
		printUsage(pfs)
		return nil
	}
	if po.showVersion {
		fmt.Printf("gotcp %s\n", version)
		return nil
	}

	// ── settings store ───────────────────────────────────────────
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	storePath := cfg.StorePath
	if pfs.Changed("store") {
		storePath = early.StorePath
	}

	p := pacer.New(config.DefaultPacerTick)

	var st *store.Store
	if storePath != "" {
		var err error
		if st, err = store.Open(storePath, p); err != nil {
			return err
		}
		defer st.Close()

		cfg = config.Default()
		if err := config.LoadFromStore(cfg, st); err != nil {
			return err
		}
		config.LoadFromEnv(cfg)
	}

	// ── flags ────────────────────────────────────────────────────
	var o options
	verbose := cfg.Verbose
	fs := newFlagSet(cfg, &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	// CountVarP zeroes its target on registration.
	if !fs.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if fs.Changed("wait") {
		cfg.Timeout = time.Duration(o.waitSec) * time.Second
	}
	cfg.StorePath = storePath

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	if cfg.DryRun {
		logger.Info("configuration valid: %s", describe(cfg))
		return nil
	}
	if cfg.Save {
		if err := config.SaveToStore(cfg, st); err != nil {
			return err
		}
		logger.Verbose("settings saved to %s", storePath)
	}

	// ── run ──────────────────────────────────────────────────────
	m := metrics.New()
	mode, err := core.Build(cfg, core.Runtime{Logger: logger, Metrics: m, Pacer: p})
	if err != nil {
		return err
	}
	runErr := mode.Run(ctx)

	snapshot := m.JSON()
	logger.Verbose("metrics: %s", snapshot)
	if st != nil {
		if err := st.Write(store.KeyLastMetrics, snapshot); err != nil {
			logger.Warn("persist metrics: %v", err)
		}
	}
	return runErr
}

// newFlagSet binds every flag to cfg, using cfg's current values as the
// defaults.
func newFlagSet(cfg *config.Config, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("gotcp", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Listen mode")
	fs.BoolVarP(&cfg.KeepOpen, "keep-open", "k", cfg.KeepOpen, "Accept multiple connections, one worker each (with -l)")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Local port number")
	fs.StringVarP(&cfg.BindAddress, "source", "s", cfg.BindAddress, "Local bind address (IPv4)")
	fs.IntVarP(&o.waitSec, "wait", "w", int(cfg.Timeout/time.Second), "Idle timeout in seconds (0 = none)")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Max concurrent workers with -k (0 = unlimited)")

	// ── firewall ─────────────────────────────────────────────────
	fs.StringSliceVar(&cfg.Allow, "allow", cfg.Allow, "Admit only these IPv4 addresses/CIDR blocks (repeatable)")
	fs.StringSliceVar(&cfg.Deny, "deny", cfg.Deny, "Refuse these IPv4 addresses/CIDR blocks (repeatable)")

	// ── execution ────────────────────────────────────────────────
	fs.BoolVar(&cfg.Echo, "echo", cfg.Echo, "Echo received bytes back to the peer")
	fs.StringVarP(&cfg.Execute, "exec", "e", cfg.Execute, "Execute program after connect")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Execute shell command after connect")

	// ── storage ──────────────────────────────────────────────────
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "Settings directory")
	fs.BoolVar(&cfg.Save, "save", cfg.Save, "Write the effective settings to --store")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Validate the configuration and exit")

	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&o.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if cfg.Listen {
		switch len(remaining) {
		case 0: // gotcp -l -p PORT
		case 1:
			cfg.BindAddress = remaining[0]
		case 2:
			cfg.BindAddress = remaining[0]
			port, err := parsePort(remaining[1])
			if err != nil {
				return err
			}
			cfg.LocalPort = port
		default:
			return fmt.Errorf("too many arguments for listen mode")
		}
		return nil
	}

	// Connect mode: host port
	switch len(remaining) {
	case 0: // GOTCP_HOST and GOTCP_PEER_PORT
	case 1:
		cfg.Host = remaining[0]
	case 2:
		cfg.Host = remaining[0]
		port, err := parsePort(remaining[1])
		if err != nil {
			return err
		}
		cfg.Port = port
	default:
		return fmt.Errorf("too many arguments for connect mode")
	}
	return nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &errors.ConfigError{Field: "port", Value: s, Message: "not a number"}
	}
	return n, nil
}

func describe(cfg *config.Config) string {
	switch {
	case cfg.Listen && cfg.KeepOpen:
		return fmt.Sprintf("threaded listen on %s, workers=%d, backlog=%d, timeout=%v",
			util.FormatAddr(cfg.BindAddress, cfg.LocalPort), cfg.Workers, cfg.Backlog, cfg.Timeout)
	case cfg.Listen:
		return fmt.Sprintf("single-shot listen on %s, timeout=%v",
			util.FormatAddr(cfg.BindAddress, cfg.LocalPort), cfg.Timeout)
	default:
		return fmt.Sprintf("connect to %s, timeout=%v",
			util.FormatAddr(cfg.Host, cfg.Port), cfg.Timeout)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `gotcp – embeddable TCP service tool v%s

Usage:
  gotcp [options] <host> <port>               Connect
  gotcp -l -p <port> [options]                Listen for one peer
  gotcp -l -k -p <port> [options]             Serve many peers

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  GOTCP_HOST GOTCP_PEER_PORT GOTCP_PORT GOTCP_BIND GOTCP_LISTEN GOTCP_KEEP_OPEN
  GOTCP_TIMEOUT GOTCP_BACKLOG GOTCP_WORKERS GOTCP_ALLOW GOTCP_DENY
  GOTCP_STORE GOTCP_VERBOSE

Examples:
  gotcp 10.0.0.5 80                           TCP connect
  gotcp -l -p 8080                            Listen on 8080
  gotcp -l -k -p 7 --echo --deny 10.0.0.0/8   Echo server with a firewall
  gotcp -l -k -p 9000 -c 'cat' -w 30          Shell command per peer
  echo "hello" | gotcp 10.0.0.5 9000          Pipe data
`)
}
