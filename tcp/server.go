package tcp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gotcp/internal/errors"
	"gotcp/internal/metrics"
	"gotcp/internal/pacer"
	"gotcp/internal/retry"
	"gotcp/internal/socket"
	"gotcp/util"
)

// Defaults applied by NewServer.
const (
	DefaultBacklog    = 5
	DefaultRetryDelay = time.Second
)

// Bounds of the delay after an accept error other than would-block.
const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// ServerConfig describes a listening server.
type ServerConfig struct {
	// Handler selects threaded mode: every accepted connection is
	// served by Handler on its own goroutine.  Without a handler the
	// server runs in single-shot mode and stops after one accept.
	Handler Handler
	// Firewall, if set, filters peers by address before a Connection
	// is constructed.
	Firewall Firewall
	// Timeout is the idle timeout of every accepted connection.  In
	// single-shot mode it also bounds the wait for the first peer,
	// measured from NewServer.  0 means none.
	Timeout time.Duration
	// Address is the dotted-decimal bind address ("" = 0.0.0.0).
	Address string
	// Port is the bind port; 0 picks a free one (see Server.Port).
	Port    int
	Backlog int
	// WorkerBudget caps concurrent workers in threaded mode.  A
	// connection arriving while the budget is exhausted is closed.
	// 0 means unlimited.
	WorkerBudget int
	// RetryDelay is the first delay between failed listener starts.
	RetryDelay time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
	Pacer   *pacer.Pacer
}

// Server owns a listening socket and the goroutine that accepts on it.
type Server struct {
	cfg     ServerConfig
	log     *util.Logger
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	reached [Stopped + 1]chan struct{}

	port     atomic.Int32
	timedOut atomic.Bool
	conn     atomic.Pointer[Connection]

	budget chan struct{}
	live   sync.Map // *Connection -> struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once

	acceptFn func(lfd int) (fd int, remote string, err error)
	failures int // consecutive failed accepts; accept goroutine only
}

// NewServer starts a server.  It returns once the listener goroutine
// is running; binding may still be in progress (and retrying) at that
// point.
func NewServer(cfg ServerConfig) *Server {
	return newServer(cfg, socket.Accept)
}

func newServer(cfg ServerConfig, accept func(int) (int, string, error)) *Server {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0"
	}

	s := &Server{
		cfg:      cfg,
		log:      util.OrQuiet(cfg.Logger).With("server " + util.FormatAddr(cfg.Address, cfg.Port)),
		created:  time.Now(),
		acceptFn: accept,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for i := range s.reached {
		s.reached[i] = make(chan struct{})
	}
	close(s.reached[NotStarted])
	if cfg.Handler != nil && cfg.WorkerBudget > 0 {
		s.budget = make(chan struct{}, cfg.WorkerBudget)
	}

	go s.run()
	<-s.reached[Starting]
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Ready is closed once the server is accepting, or has moved past that
// point without ever reaching it.
func (s *Server) Ready() <-chan struct{} { return s.reached[Accepting] }

// Done is closed when the server reaches Stopped.
func (s *Server) Done() <-chan struct{} { return s.reached[Stopped] }

// Wait blocks until the server reaches Stopped.
func (s *Server) Wait() { <-s.reached[Stopped] }

// Threaded reports whether accepted connections go to workers.
func (s *Server) Threaded() bool { return s.cfg.Handler != nil }

// Address is the configured bind address.
func (s *Server) Address() string { return s.cfg.Address }

// Port is the port actually bound, or 0 before the listener is open.
func (s *Server) Port() int { return int(s.port.Load()) }

// TimedOut reports whether a single-shot server gave up waiting for
// its peer.
func (s *Server) TimedOut() bool { return s.timedOut.Load() }

// Connection returns the connection accepted in single-shot mode, or
// nil.  The server still owns it and releases it on Close.
func (s *Server) Connection() *Connection { return s.conn.Load() }

// TakeConnection transfers ownership of the single-shot connection to
// the caller, who must Release it.
func (s *Server) TakeConnection() *Connection { return s.conn.Swap(nil) }

// Close stops accepting, waits for the accept goroutine to finish,
// closes every live worker connection and waits for the workers to
// return.  A single-shot connection still owned by the server is
// released.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.reached[Stopped]

		s.live.Range(func(k, _ any) bool {
			k.(*Connection).Close() //nolint:errcheck
			return true
		})
		s.wg.Wait()

		if c := s.conn.Swap(nil); c != nil {
			c.Release()
		}
		s.log.Debug("unloaded")
	})
	return nil
}

func (s *Server) run() {
	s.advance(Starting)

	lfd, err := s.listen()
	if err == nil {
		if s.advance(Accepting) {
			s.accept(lfd)
		}
	} else if s.ctx.Err() == nil {
		s.log.Error("listener not started: %v", err)
	}

	s.advance(Stopping)
	if lfd >= 0 {
		socket.Close(lfd) //nolint:errcheck
	}
	s.advance(Stopped)
}

// advance moves the state forward to `to`, marking every state passed
// on the way as reached.  Moving backwards or sideways is refused.
func (s *Server) advance(to State) bool {
	for {
		cur := State(s.state.Load())
		if cur >= to {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			for st := cur + 1; st <= to; st++ {
				close(s.reached[st])
			}
			s.log.Debug("%v -> %v", cur, to)
			return true
		}
	}
}

// listen opens the listening socket, retrying with backoff until it
// succeeds or the server is closed.  An unusable bind address is never
// retried.
func (s *Server) listen() (int, error) {
	lfd := socket.Invalid
	b := retry.ListenerBackoff()
	b.InitialDelay = s.cfg.RetryDelay
	b.Wait = s.cfg.Pacer.SleepContext
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.metrics().ListenerRetry()
		s.log.Warn("listen failed (attempt %d): %v; retrying in %v", attempt, err, wait.Truncate(time.Millisecond))
	}

	err := b.Do(s.ctx, func(int) error {
		addr, err := util.ParseIPv4(s.cfg.Address)
		if err != nil {
			return retry.Permanent(err)
		}
		fd, err := socket.Listen(addr, s.cfg.Port, s.cfg.Backlog)
		if err != nil {
			s.metrics().RecordError(err.Error())
			return err
		}
		if _, port, err := socket.LocalAddr(fd); err == nil {
			s.port.Store(int32(port))
		}
		lfd = fd
		return nil
	})
	return lfd, err
}

func (s *Server) accept(lfd int) {
	mode := "single-shot"
	if s.Threaded() {
		mode = "threaded"
	}
	s.log.Info("listening on %s (%s)", util.FormatAddr(s.cfg.Address, s.Port()), mode)

	for s.ctx.Err() == nil {
		fd, remote, err := s.acceptFn(lfd)
		if err != nil {
			if s.acceptExpired() {
				return
			}
			if errors.IsWouldBlock(err) {
				s.cfg.Pacer.Yield(func(tick time.Duration) {
					socket.Wait(lfd, socket.Readable, tick) //nolint:errcheck
				})
			} else {
				s.acceptFailed(err)
			}
			continue
		}
		s.failures = 0

		if s.cfg.Firewall != nil && !s.cfg.Firewall.Allow(remote) {
			socket.Close(fd) //nolint:errcheck
			s.metrics().ConnectionRejected()
			s.log.Verbose("%s: %v", remote, errors.ErrRejected)
			continue
		}

		if !s.Threaded() {
			s.conn.Store(newConnection(fd, remote, s.connConfig(nil)))
			s.log.Verbose("accepted %s", remote)
			return
		}
		s.dispatch(fd, remote)
	}
}

// acceptExpired reports whether a single-shot server has waited out
// its timeout without a peer.
func (s *Server) acceptExpired() bool {
	if s.Threaded() || s.cfg.Timeout <= 0 || time.Since(s.created) < s.cfg.Timeout {
		return false
	}
	s.timedOut.Store(true)
	s.metrics().ConnectionTimedOut()
	s.log.Verbose("no connection within %v", s.cfg.Timeout)
	return true
}

// acceptFailed backs off after a hard accept error, doubling the delay
// with every consecutive failure.  Only the 1st, 2nd, 4th, 8th...
// failure of a run is logged.
func (s *Server) acceptFailed(err error) {
	s.failures++
	if errors.IsResourceExhaustion(err) {
		s.metrics().ResourceExhausted()
	}
	if s.failures&(s.failures-1) == 0 {
		s.log.Warn("%v (%d in a row)", err, s.failures)
		s.metrics().RecordError(err.Error())
	}

	d := acceptBackoffMin << min(s.failures-1, 8)
	if d > acceptBackoffMax {
		d = acceptBackoffMax
	}
	if !s.Threaded() && s.cfg.Timeout > 0 {
		d = min(d, s.cfg.Timeout-time.Since(s.created))
	}
	s.cfg.Pacer.SleepContext(s.ctx, d) //nolint:errcheck
}

// dispatch hands an accepted socket to a new worker.
func (s *Server) dispatch(fd int, remote string) {
	if s.budget != nil {
		select {
		case s.budget <- struct{}{}:
		default:
			socket.Close(fd) //nolint:errcheck
			s.metrics().WorkerRefused()
			s.log.Warn("%s: %v (%d workers)", remote, errors.ErrWorkerBudget, cap(s.budget))
			return
		}
	}

	c := newConnection(fd, remote, s.connConfig(s.cfg.Handler))
	s.live.Store(c, struct{}{})
	s.wg.Add(1)
	s.log.Verbose("accepted %s as %s", remote, c.ID())

	go func() {
		defer s.wg.Done()
		defer func() {
			s.live.Delete(c)
			if s.budget != nil {
				<-s.budget
			}
		}()
		c.serve()
	}()
}

func (s *Server) connConfig(h Handler) connConfig {
	return connConfig{
		timeout: s.cfg.Timeout,
		handler: h,
		pacer:   s.cfg.Pacer,
		logger:  s.cfg.Logger,
		metrics: s.cfg.Metrics,
	}
}

func (s *Server) metrics() *metrics.Collector { return s.cfg.Metrics }
