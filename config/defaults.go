package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, the settings store and environment variable
// loading.

const (
	// DefaultBindAddress listens on every local interface.
	DefaultBindAddress = "0.0.0.0"

	// DefaultBacklog is the listen(2) queue length.
	DefaultBacklog = 5

	// DefaultWorkers caps concurrent connection workers in threaded
	// mode (-k).
	DefaultWorkers = 64

	// DefaultTimeout is the per-connection idle timeout.  0 waits
	// forever.
	DefaultTimeout time.Duration = 0

	// DefaultRetryDelay is the first pause after a failed listener
	// start.  It doubles up to ten seconds.
	DefaultRetryDelay = time.Second

	// DefaultPacerTick bounds a single idle wait in every poll loop.
	DefaultPacerTick = time.Millisecond
)
