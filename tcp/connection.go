package tcp

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gotcp/internal/errors"
	"gotcp/internal/metrics"
	"gotcp/internal/pacer"
	"gotcp/internal/socket"
	"gotcp/util"
)

// MaxChunk bounds the bytes handed to a single underlying write.
const MaxChunk = 2048

// Availability is the result of a non-destructive readiness check.
type Availability int

const (
	// None: nothing to read yet.
	None Availability = iota
	// Data: at least one byte can be received without waiting.
	Data
	// Error: the connection is closed, reset, timed out or the peer
	// has finished sending.
	Error
)

func (a Availability) String() string {
	switch a {
	case None:
		return "none"
	case Data:
		return "data"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

type connConfig struct {
	timeout time.Duration
	handler Handler
	pacer   *pacer.Pacer
	logger  *util.Logger
	metrics *metrics.Collector
}

// Connection owns one connected socket.
//
// Receive and Send belong to a single goroutine (the handler in
// threaded mode).  Close may be called from any goroutine at any time;
// an in-flight Receive or Send observes it on its next iteration and
// returns a short count.
type Connection struct {
	// mu guards fd and local.  Syscalls on fd hold the read lock so the
	// descriptor number cannot be recycled underneath them.
	mu    sync.RWMutex
	fd    int
	local string

	id      uuid.UUID
	remote  string
	handler Handler
	pacer   *pacer.Pacer
	log     *util.Logger
	metrics *metrics.Collector

	epoch      time.Time
	timeout    atomic.Int64 // time.Duration; 0 = infinite
	lastActive atomic.Int64 // nanoseconds since epoch
	timedOut   atomic.Bool
	started    atomic.Bool
	done       chan struct{}

	write func(fd int, p []byte) (int, error)
}

func newConnection(fd int, remote string, cfg connConfig) *Connection {
	c := &Connection{
		fd:      fd,
		id:      uuid.New(),
		remote:  remote,
		handler: cfg.handler,
		pacer:   cfg.pacer,
		metrics: cfg.metrics,
		epoch:   time.Now(),
		done:    make(chan struct{}),
		write:   socket.Write,
	}
	c.log = util.OrQuiet(cfg.logger).With(c.id.String()[:8] + " " + remote)
	c.timeout.Store(int64(cfg.timeout))
	if c.handler == nil {
		// No worker will ever run, so nothing to wait for on release.
		close(c.done)
	}
	c.metrics.ConnectionOpened()
	c.log.Debug("opened fd %d", fd)
	return c
}

// ID identifies the connection in logs.
func (c *Connection) ID() string { return c.id.String() }

// RemoteAddress is the peer's dotted-decimal address.
func (c *Connection) RemoteAddress() string { return c.remote }

// LocalAddress is the dotted-decimal address of the local end.  It is
// resolved on first use and cached; a connection closed before that
// reports "".
func (c *Connection) LocalAddress() string {
	c.mu.RLock()
	local := c.local
	c.mu.RUnlock()
	if local != "" {
		return local
	}

	_, err := c.syscall(func(fd int) (int, error) {
		addr, _, err := socket.LocalAddr(fd)
		local = util.FormatIPv4(addr)
		return 0, err
	})
	if err != nil {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == "" {
		c.local = local
	}
	return c.local
}

// Timeout returns the idle timeout; 0 means none.
func (c *Connection) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetTimeout changes the idle timeout and restarts the idle clock.
func (c *Connection) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.timeout.Store(int64(d))
	c.touch()
}

// TimedOut reports whether an operation gave up because the idle
// timeout elapsed.  Once set it stays set.
func (c *Connection) TimedOut() bool { return c.timedOut.Load() }

// Started reports whether a worker goroutine has begun serving the
// connection.  Always false outside threaded mode.
func (c *Connection) Started() bool { return c.started.Load() }

// Done is closed once the worker serving the connection has returned.
// Outside threaded mode it is closed from the start.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Closed reports whether the socket has been released.
func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fd < 0
}

// Receive reads up to len(p) bytes.  It waits for data while the idle
// timeout has not elapsed, then returns 0 with TimedOut set.  0 is also
// returned when the peer has closed or the connection has failed or
// been closed; callers tell these apart with TimedOut.
func (c *Connection) Receive(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	for {
		n, err := c.syscall(func(fd int) (int, error) { return socket.Read(fd, p) })
		switch {
		case err == nil && n > 0:
			c.touch()
			c.metrics.BytesReceived(int64(n))
			return n
		case err == nil:
			c.log.Verbose("peer closed")
			return 0
		case errors.Is(err, errors.ErrClosed):
			return 0
		case errors.IsWouldBlock(err):
			if c.expire() {
				return 0
			}
			c.await(socket.Readable)
		default:
			c.fail("receive", err)
			return 0
		}
	}
}

// Send writes all of p in chunks of at most MaxChunk bytes.  It returns
// the number of bytes written, which is less than len(p) only if the
// connection timed out, failed or was closed part way.
func (c *Connection) Send(p []byte) int {
	sent := 0
	for sent < len(p) {
		chunk := p[sent:min(len(p), sent+MaxChunk)]
		n, err := c.syscall(func(fd int) (int, error) { return c.write(fd, chunk) })
		switch {
		case err == nil && n > 0:
			sent += n
			c.touch()
			c.metrics.BytesSent(int64(n))
		case errors.Is(err, errors.ErrClosed):
			return sent
		case err == nil || errors.IsWouldBlock(err):
			if c.expire() {
				return sent
			}
			c.await(socket.Writable)
		default:
			c.fail("send", err)
			return sent
		}
	}
	return sent
}

// Availability peeks at the socket without consuming data.  An elapsed
// idle timeout closes the connection and reports Error.
func (c *Connection) Availability() Availability {
	var b [1]byte
	n, err := c.syscall(func(fd int) (int, error) { return socket.Peek(fd, b[:]) })
	switch {
	case err == nil && n > 0:
		return Data
	case err == nil, errors.Is(err, errors.ErrClosed):
		return Error
	case errors.IsWouldBlock(err):
		if c.expire() {
			return Error
		}
		return None
	default:
		c.fail("peek", err)
		return Error
	}
}

// Close releases the socket.  Calling it again is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	fd := c.fd
	c.fd = socket.Invalid
	c.mu.Unlock()

	if fd < 0 {
		return nil
	}
	c.metrics.ConnectionClosed()
	c.log.Debug("closed fd %d", fd)
	return socket.Close(fd)
}

// Release closes the connection and, in threaded mode, waits for its
// worker to return.  It must not be called from the connection's own
// handler.
func (c *Connection) Release() {
	c.Close() //nolint:errcheck
	<-c.done
}

// CloseWrite half-closes the connection: the peer sees end of stream
// while receiving continues to work.
func (c *Connection) CloseWrite() error {
	_, err := c.syscall(func(fd int) (int, error) { return 0, socket.ShutdownWrite(fd) })
	return err
}

// Read implements io.Reader on top of Receive.  It returns
// errors.ErrTimeout after an idle timeout and io.EOF otherwise.
func (c *Connection) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if n := c.Receive(p); n > 0 {
		return n, nil
	}
	if c.TimedOut() {
		return 0, errors.ErrTimeout
	}
	return 0, io.EOF
}

// Write implements io.Writer on top of Send.
func (c *Connection) Write(p []byte) (int, error) {
	n := c.Send(p)
	switch {
	case n == len(p):
		return n, nil
	case c.TimedOut():
		return n, errors.ErrTimeout
	default:
		return n, errors.ErrClosed
	}
}

// serve runs the handler on the calling goroutine, then closes the
// connection and signals Done.
func (c *Connection) serve() {
	defer close(c.done)
	defer c.Close() //nolint:errcheck
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic: %v", r)
			c.metrics.RecordError("handler panic")
		}
	}()

	c.started.Store(true)
	c.handler.Serve(c)
}

// syscall runs fn on the descriptor under the read lock.
func (c *Connection) syscall(fn func(fd int) (int, error)) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fd < 0 {
		return 0, errors.ErrClosed
	}
	return fn(c.fd)
}

// await idles for at most one pacer tick or until the socket reports
// events.  The descriptor may be closed while polling; that only
// shortens the wait.
func (c *Connection) await(events int16) {
	c.pacer.Yield(func(tick time.Duration) {
		c.mu.RLock()
		fd := c.fd
		c.mu.RUnlock()
		if fd < 0 {
			return
		}
		socket.Wait(fd, events, tick) //nolint:errcheck
	})
}

func (c *Connection) now() int64 { return int64(time.Since(c.epoch)) }

func (c *Connection) touch() { c.lastActive.Store(c.now()) }

// expire closes the connection if it has been idle for longer than
// the timeout.
func (c *Connection) expire() bool {
	t := c.timeout.Load()
	if t <= 0 || c.now()-c.lastActive.Load() < t {
		return false
	}
	if !c.timedOut.Swap(true) {
		c.metrics.ConnectionTimedOut()
		c.log.Verbose("idle for %v, closing", time.Duration(t))
	}
	c.Close() //nolint:errcheck
	return true
}

func (c *Connection) fail(op string, err error) {
	c.log.Verbose("%s: %v", op, err)
	c.metrics.RecordError(op + ": " + err.Error())
	c.Close() //nolint:errcheck
}
