package capability

import (
	"context"

	"gotcp/internal/session"
	"gotcp/util"
)

// Relay copies data bidirectionally between the connection and the
// session's stdin/stdout.  This is the default interactive / pipe mode.
type Relay struct{}

// Handle shuttles bytes until the connection's read side ends or the
// context is cancelled.
func (r *Relay) Handle(ctx context.Context, sess *session.Session) error {
	return util.BidirectionalCopy(ctx, sess.Conn, sess.Stdin, sess.Stdout)
}
