package capability

import (
	"context"

	"gotcp/internal/errors"
	"gotcp/internal/session"
	"gotcp/util"
)

// Echo sends every received byte straight back to the peer.
type Echo struct{}

// Handle echoes until the peer closes, the idle timeout fires or ctx is
// cancelled.  An idle timeout is reported as errors.ErrTimeout.
func (e *Echo) Handle(ctx context.Context, sess *session.Session) error {
	stop := context.AfterFunc(ctx, func() { sess.Conn.Close() })
	defer stop()

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	var total int
	for {
		n := sess.Conn.Receive(*buf)
		if n == 0 {
			break
		}
		if sent := sess.Conn.Send((*buf)[:n]); sent != n {
			total += sent
			break
		}
		total += n
	}
	sess.Logger.Verbose("echoed %d bytes", total)

	if sess.Conn.TimedOut() {
		return errors.ErrTimeout
	}
	return nil
}
