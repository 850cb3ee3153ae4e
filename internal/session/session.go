// Package session represents a single connection lifecycle, binding a
// tcp.Connection with local I/O endpoints and a logger.
//
// Sessions decouple capabilities from concrete I/O sources: a
// capability doesn't need to know whether it's reading from os.Stdin
// or a test buffer, it just uses the session's Stdin/Stdout.
package session

import (
	"io"

	"gotcp/tcp"
	"gotcp/util"
)

// Session encapsulates the runtime context for a single connection.
type Session struct {
	Conn   *tcp.Connection
	Stdin  io.Reader
	Stdout io.Writer
	Logger *util.Logger
}

// New creates a Session bound to the given connection and I/O pair.
// The logger is tagged with the connection's remote address.
func New(conn *tcp.Connection, stdin io.Reader, stdout io.Writer, logger *util.Logger) *Session {
	return &Session{
		Conn:   conn,
		Stdin:  stdin,
		Stdout: stdout,
		Logger: util.OrQuiet(logger).With(conn.RemoteAddress()),
	}
}
