package util

import (
	"context"
	"io"
	"net"

	"gotcp/internal/errors"
)

// DefaultBufSize is the standard buffer size for stream copies (32 KiB).
const DefaultBufSize = 32 * 1024

// HalfCloser is a bidirectional stream whose write side can be shut
// down independently.  *net.TCPConn and *tcp.Connection satisfy it.
type HalfCloser interface {
	io.ReadWriteCloser
	CloseWrite() error
}

// BidirectionalCopy shuffles data between a connection and an
// arbitrary reader/writer pair (typically stdin/stdout) until the
// connection's read side ends or the context is cancelled.
//
// The reader side is not waited for: a goroutine blocked on a
// terminal's stdin cannot be interrupted, and it exits on its own at
// the next write into the closed connection.
func BidirectionalCopy(ctx context.Context, conn HalfCloser, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	recvDone := make(chan struct{})

	// connection → writer
	go func() {
		defer close(recvDone)
		errCh <- copyPooled(w, conn)
		cancel()
	}()

	// reader → connection
	go func() {
		err := copyPooled(conn, r)
		// Half-close the write side so the remote knows we're done
		// sending, but keep the read side open to drain the reply.
		conn.CloseWrite() //nolint:errcheck
		errCh <- err
		// A normal EOF from the reader must not tear the connection
		// down before the remote finishes sending.
		if err != nil {
			cancel()
		}
	}()

	<-ctx.Done()
	conn.Close() // unblock the receiving side
	<-recvDone

	for {
		select {
		case err := <-errCh:
			if !isHarmless(err) {
				return err
			}
		default:
			return nil
		}
	}
}

func copyPooled(dst io.Writer, src io.Reader) error {
	buf := GetBuf()
	defer PutBuf(buf)
	_, err := io.CopyBuffer(dst, src, *buf)
	return err
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, errors.ErrClosed) {
		return true
	}
	return false
}
