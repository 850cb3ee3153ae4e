// Package config defines the runtime configuration for gotcp and
// validates it.
package config

import (
	"fmt"
	"time"

	"gotcp/internal/errors"
	"gotcp/internal/firewall"
	"gotcp/util"
)

// Config holds every tuneable for a single gotcp run.
type Config struct {
	// ── Connect ──────────────────────────────────────────────────────
	Host string // dotted-decimal IPv4 peer
	Port int    // peer port

	// ── Listen ───────────────────────────────────────────────────────
	Listen      bool
	KeepOpen    bool   // -k: threaded server, one worker per peer
	BindAddress string // -s
	LocalPort   int    // -p
	Backlog     int
	Workers     int // worker budget in threaded mode; 0 = unlimited

	// ── Shared ───────────────────────────────────────────────────────
	Timeout time.Duration // idle timeout; 0 = none

	// ── Firewall ─────────────────────────────────────────────────────
	Allow []string // CIDR blocks or addresses
	Deny  []string

	// ── Execution ────────────────────────────────────────────────────
	Echo    bool   // --echo: reflect bytes back to the peer
	Execute string // -e: program path
	Command string // -c: shell command

	// ── Storage ──────────────────────────────────────────────────────
	StorePath string // --store: settings directory ("" = none)
	Save      bool   // --save: write the effective settings back

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		BindAddress: DefaultBindAddress,
		Backlog:     DefaultBacklog,
		Workers:     DefaultWorkers,
		Timeout:     DefaultTimeout,
	}
}

// Firewall builds the admission rules described by Allow and Deny.
func (c *Config) Firewall() (*firewall.Rules, error) {
	return firewall.New(c.Allow, c.Deny)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is an *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Listen {
		if c.LocalPort == 0 {
			return &errors.ConfigError{
				Field:   "port",
				Message: "listen mode requires a local port",
				Hint:    "use -p <port>, e.g. gotcp -l -p 8080",
			}
		}
		if err := checkPort("port", c.LocalPort); err != nil {
			return err
		}
		if _, err := util.ParseIPv4(c.BindAddress); err != nil {
			return &errors.ConfigError{
				Field:   "source",
				Value:   c.BindAddress,
				Message: "bind address must be dotted-decimal IPv4",
				Hint:    "use 0.0.0.0 to listen on every interface",
			}
		}
		if c.Backlog < 1 {
			return &errors.ConfigError{Field: "backlog", Value: c.Backlog, Message: "must be at least 1"}
		}
		if c.Workers < 0 {
			return &errors.ConfigError{Field: "workers", Value: c.Workers, Message: "must not be negative", Hint: "0 means unlimited"}
		}
	} else {
		if c.KeepOpen {
			return &errors.ConfigError{Field: "keep-open", Message: "only valid in listen mode", Hint: "add -l"}
		}
		if c.Host == "" {
			return &errors.ConfigError{
				Field:   "host",
				Message: "hostname is required",
				Hint:    "use --help for usage",
			}
		}
		if _, err := util.ParseIPv4(c.Host); err != nil {
			return &errors.ConfigError{
				Field:   "host",
				Value:   c.Host,
				Message: "not a dotted-decimal IPv4 address",
				Hint:    "gotcp does not resolve host names",
			}
		}
		if c.Port == 0 {
			return &errors.ConfigError{Field: "port", Message: "destination port is required"}
		}
		if err := checkPort("port", c.Port); err != nil {
			return err
		}
	}

	if c.Timeout < 0 {
		return &errors.ConfigError{Field: "wait", Value: c.Timeout, Message: "timeout must not be negative", Hint: "0 waits forever"}
	}

	if c.Execute != "" && c.Command != "" {
		return &errors.ConfigError{Field: "exec", Message: "-e and -c are mutually exclusive"}
	}
	if c.Echo && (c.Execute != "" || c.Command != "") {
		return &errors.ConfigError{Field: "echo", Message: "--echo and -e/-c are mutually exclusive"}
	}

	if c.Save && c.StorePath == "" {
		return &errors.ConfigError{Field: "save", Message: "no settings store to save to", Hint: "add --store DIR or set GOTCP_STORE"}
	}

	if _, err := c.Firewall(); err != nil {
		return err
	}
	return nil
}

func checkPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &errors.ConfigError{
			Field:   field,
			Value:   port,
			Message: fmt.Sprintf("port %d out of range 1-65535", port),
		}
	}
	return nil
}
