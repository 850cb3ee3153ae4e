package config

// loader.go - configuration overlays from the settings store and the
// environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Settings store  (LoadFromStore)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gotcp/internal/errors"
	"gotcp/internal/store"
)

// Reader reads a settings value by path.  *store.Store satisfies it.
type Reader interface {
	Read(path string) (value string, ok bool, err error)
}

// Writer writes a settings value by path.  *store.Store satisfies it.
type Writer interface {
	Write(path, value string) error
}

// ── Settings store ───────────────────────────────────────────────────

// LoadFromStore overlays persisted network and firewall settings onto
// cfg.  Missing paths leave the existing value alone; malformed values
// are reported as *errors.ConfigError naming the path.
func LoadFromStore(cfg *Config, r Reader) error {
	str := func(path string, dst *string) error {
		v, ok, err := r.Read(path)
		if err != nil || !ok {
			return err
		}
		*dst = v
		return nil
	}
	num := func(path string, dst *int) error {
		v, ok, err := r.Read(path)
		if err != nil || !ok {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &errors.ConfigError{Field: path, Value: v, Message: "not an integer"}
		}
		*dst = n
		return nil
	}
	list := func(path string, dst *[]string) error {
		v, ok, err := r.Read(path)
		if err != nil || !ok {
			return err
		}
		*dst = splitList(v)
		return nil
	}

	steps := []func() error{
		func() error { return str(store.KeyBind, &cfg.BindAddress) },
		func() error { return num(store.KeyPort, &cfg.LocalPort) },
		func() error { return num(store.KeyBacklog, &cfg.Backlog) },
		func() error { return num(store.KeyWorkers, &cfg.Workers) },
		func() error { return list(store.KeyAllow, &cfg.Allow) },
		func() error { return list(store.KeyDeny, &cfg.Deny) },
		func() error {
			v, ok, err := r.Read(store.KeyTimeout)
			if err != nil || !ok {
				return err
			}
			d, err := parseTimeout(v)
			if err != nil {
				return &errors.ConfigError{Field: store.KeyTimeout, Value: v, Message: "not a duration", Hint: `use seconds ("30") or a Go duration ("1m30s")`}
			}
			cfg.Timeout = d
			return nil
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// SaveToStore persists cfg's network and firewall settings so the next
// run picks them up through LoadFromStore.
func SaveToStore(cfg *Config, w Writer) error {
	values := []struct{ path, value string }{
		{store.KeyBind, cfg.BindAddress},
		{store.KeyPort, strconv.Itoa(cfg.LocalPort)},
		{store.KeyTimeout, cfg.Timeout.String()},
		{store.KeyBacklog, strconv.Itoa(cfg.Backlog)},
		{store.KeyWorkers, strconv.Itoa(cfg.Workers)},
		{store.KeyAllow, strings.Join(cfg.Allow, ",")},
		{store.KeyDeny, strings.Join(cfg.Deny, ",")},
	}
	for _, v := range values {
		if err := w.Write(v.path, v.value); err != nil {
			return err
		}
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GOTCP_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("GOTCP_HOST"); v != "" {
		cfg.Host = v
	}
	// GOTCP_PORT is the -p listening port; the connect-mode peer port
	// has its own variable.
	if v := envInt("GOTCP_PORT"); v > 0 {
		cfg.LocalPort = v
	}
	if v := envInt("GOTCP_PEER_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("GOTCP_BIND"); v != "" {
		cfg.BindAddress = v
	}
	if envBool("GOTCP_LISTEN") {
		cfg.Listen = true
	}
	if envBool("GOTCP_KEEP_OPEN") {
		cfg.KeepOpen = true
	}
	if v := os.Getenv("GOTCP_TIMEOUT"); v != "" {
		if d, err := parseTimeout(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := envInt("GOTCP_BACKLOG"); v > 0 {
		cfg.Backlog = v
	}
	if v := envInt("GOTCP_WORKERS"); v > 0 {
		cfg.Workers = v
	}

	// Firewall
	if v := os.Getenv("GOTCP_ALLOW"); v != "" {
		cfg.Allow = splitList(v)
	}
	if v := os.Getenv("GOTCP_DENY"); v != "" {
		cfg.Deny = splitList(v)
	}

	if v := os.Getenv("GOTCP_STORE"); v != "" {
		cfg.StorePath = v
	}

	// Output
	if v := envInt("GOTCP_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

// parseTimeout accepts whole seconds ("30") or a Go duration ("1m").
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
