// Package metrics provides lock-free counters for the connection
// lifecycle of a gotcp server or client.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one process.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	rejected          atomic.Int64
	timeouts          atomic.Int64
	workerRefusals    atomic.Int64
	listenerRetries   atomic.Int64
	resourceExhausted atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastAccept   time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection lifecycle ─────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
	c.mu.Lock()
	c.lastAccept = time.Now()
	c.mu.Unlock()
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ConnectionRejected records a peer dropped by the firewall.
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.rejected.Add(1)
}

// Rejected returns the number of firewall rejections.
func (c *Collector) Rejected() int64 {
	if c == nil {
		return 0
	}
	return c.rejected.Load()
}

// ConnectionTimedOut records an idle timeout.
func (c *Collector) ConnectionTimedOut() {
	if c == nil {
		return
	}
	c.timeouts.Add(1)
}

// Timeouts returns the number of idle timeouts.
func (c *Collector) Timeouts() int64 {
	if c == nil {
		return 0
	}
	return c.timeouts.Load()
}

// WorkerRefused records a connection closed because the worker budget
// was exhausted.
func (c *Collector) WorkerRefused() {
	if c == nil {
		return
	}
	c.workerRefusals.Add(1)
}

// WorkerRefusals returns the number of budget refusals.
func (c *Collector) WorkerRefusals() int64 {
	if c == nil {
		return 0
	}
	return c.workerRefusals.Load()
}

// ListenerRetry records a failed listener start that will be retried.
func (c *Collector) ListenerRetry() {
	if c == nil {
		return
	}
	c.listenerRetries.Add(1)
}

// ListenerRetries returns the number of listener start retries.
func (c *Collector) ListenerRetries() int64 {
	if c == nil {
		return 0
	}
	return c.listenerRetries.Load()
}

// ResourceExhausted records an accept that failed because descriptors
// or kernel buffers ran out.
func (c *Collector) ResourceExhausted() {
	if c == nil {
		return
	}
	c.resourceExhausted.Add(1)
}

// ResourceExhaustions returns the number of exhausted accepts.
func (c *Collector) ResourceExhaustions() int64 {
	if c == nil {
		return 0
	}
	return c.resourceExhausted.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	Rejected          int64  `json:"rejected"`
	Timeouts          int64  `json:"timeouts"`
	WorkerRefusals    int64  `json:"worker_refusals"`
	ListenerRetries   int64  `json:"listener_retries"`
	ResourceExhausted int64  `json:"resource_exhausted"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastAccept        string `json:"last_accept,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		Rejected:          c.rejected.Load(),
		Timeouts:          c.timeouts.Load(),
		WorkerRefusals:    c.workerRefusals.Load(),
		ListenerRetries:   c.listenerRetries.Load(),
		ResourceExhausted: c.resourceExhausted.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastAccept.IsZero() {
		s.LastAccept = c.lastAccept.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
