package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"gotcp/internal/capability"
	"gotcp/internal/errors"
	"gotcp/internal/session"
	"gotcp/tcp"
	"gotcp/util"
)

// stdio holds the local endpoints a mode hands to its sessions.
// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
type stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
}

func (s stdio) stdin() io.Reader {
	if s.Stdin != nil {
		return s.Stdin
	}
	return os.Stdin
}

func (s stdio) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

// ListenMode runs a threaded tcp.Server: every admitted peer gets its
// own goroutine running the capability.  Run returns when ctx is
// cancelled or the server stops on its own.
type ListenMode struct {
	Server     tcp.ServerConfig // Handler is set by Run
	Capability capability.Capability
	Logger     *util.Logger
	stdio
}

// Run starts the server and serves until ctx is done.
func (m *ListenMode) Run(ctx context.Context) error {
	cfg := m.Server
	cfg.Handler = tcp.HandlerFunc(func(c *tcp.Connection) {
		sess := session.New(c, m.stdin(), m.stdout(), m.Logger)
		sess.Logger.Verbose("connection %s accepted", c.ID())
		logOutcome(sess, m.Capability.Handle(ctx, sess))
	})

	srv := tcp.NewServer(cfg)
	defer srv.Close()

	select {
	case <-srv.Ready():
		m.Logger.Verbose("listening on %s (tcp, threaded)", util.FormatAddr(srv.Address(), srv.Port()))
	case <-srv.Done():
	case <-ctx.Done():
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-srv.Done():
		return fmt.Errorf("listen on %s: server stopped", util.FormatAddr(cfg.Address, cfg.Port))
	}
}

// OnceMode runs a single-shot tcp.Server: it waits for one admitted
// peer, runs the capability on it and returns.
type OnceMode struct {
	Server     tcp.ServerConfig // Handler must stay nil
	Capability capability.Capability
	Logger     *util.Logger
	stdio
}

// Run waits for the server's one connection.  If the accept timeout
// expires first the error wraps errors.ErrTimeout.
func (m *OnceMode) Run(ctx context.Context) error {
	cfg := m.Server
	cfg.Handler = nil
	where := util.FormatAddr(cfg.Address, cfg.Port)

	srv := tcp.NewServer(cfg)
	defer srv.Close()
	m.Logger.Verbose("listening on %s (tcp)", where)

	select {
	case <-ctx.Done():
		return nil
	case <-srv.Done():
	}

	conn := srv.TakeConnection()
	if conn == nil {
		if srv.TimedOut() {
			return fmt.Errorf("listen on %s: %w", where, errors.ErrTimeout)
		}
		return fmt.Errorf("listen on %s: %w", where, errors.ErrNotConnected)
	}
	defer conn.Release()

	sess := session.New(conn, m.stdin(), m.stdout(), m.Logger)
	sess.Logger.Verbose("connection %s accepted", conn.ID())
	return m.Capability.Handle(ctx, sess)
}

// logOutcome reports how a threaded worker's capability ended.  There
// is no caller to return the error to.
func logOutcome(sess *session.Session, err error) {
	switch {
	case err == nil:
		sess.Logger.Verbose("connection finished")
	case errors.Is(err, errors.ErrTimeout):
		sess.Logger.Verbose("connection idle, closed")
	default:
		sess.Logger.Warn("%v", err)
	}
}
