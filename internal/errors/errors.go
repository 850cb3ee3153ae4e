// Package errors provides domain-specific error types for gotcp.
//
// The connection core reports failures through byte counts and sticky
// flags; these types are used by the layers around it (socket setup,
// listener start, configuration, storage) where an error value is the
// natural carrier.
package errors

import (
	"errors"
	"fmt"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrWouldBlock   = errors.New("operation would block")
	ErrTimeout      = errors.New("operation timed out")
	ErrClosed       = errors.New("connection is closed")
	ErrRejected     = errors.New("rejected by firewall")
	ErrWorkerBudget = errors.New("worker budget exhausted")
	ErrNotConnected = errors.New("not connected")
	ErrNotIPv4      = errors.New("not a dotted-decimal IPv4 address")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a socket operation.
type NetworkError struct {
	Op   string // "socket", "bind", "listen", "accept", "connect", "getsockname"
	Addr string // network address involved
	Err  error  // underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError for a failed socket operation.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsWouldBlock reports whether err is the transient "not ready yet"
// condition of a non-blocking socket.
func IsWouldBlock(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWouldBlock) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK ||
			errno == syscall.EINPROGRESS || errno == syscall.EALREADY
	}
	return false
}

// IsResourceExhaustion reports whether err means the process or the
// kernel ran out of descriptors, buffers or workers.
func IsResourceExhaustion(err error) bool {
	if errors.Is(err, ErrWorkerBudget) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EMFILE || errno == syscall.ENFILE ||
			errno == syscall.ENOBUFS || errno == syscall.ENOMEM
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use gotcp/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
