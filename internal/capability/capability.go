// Package capability defines what happens over an established
// connection.  Each Capability encapsulates a single behaviour (relay
// to stdio, echo, execute a program) and operates on a Session rather
// than a raw socket, which keeps capabilities testable.
package capability

import (
	"context"

	"gotcp/internal/session"
)

// Capability handles a single connection according to a specific
// behaviour.
type Capability interface {
	// Handle runs the capability against the given session.  It
	// blocks until the connection is done or the context is
	// cancelled.
	Handle(ctx context.Context, sess *session.Session) error
}
