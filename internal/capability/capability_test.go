package capability

import (
	"bytes"
	"context"
	"io"
	"net"
	"runtime"
	"strings"
	"testing"
	"time"

	"gotcp/internal/errors"
	"gotcp/internal/session"
	"gotcp/tcp"
	"gotcp/util"
)

// acceptOne returns the server side of a loopback connection as a
// tcp.Connection, plus the client side as a net.Conn.
func acceptOne(t *testing.T, timeout time.Duration) (*tcp.Connection, net.Conn) {
	t.Helper()

	srv := tcp.NewServer(tcp.ServerConfig{Address: "127.0.0.1", Timeout: timeout})
	t.Cleanup(func() { srv.Close() })
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	peer, err := net.Dial("tcp4", util.FormatAddr("127.0.0.1", srv.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	conn := srv.TakeConnection()
	if conn == nil {
		t.Fatal("server holds no connection")
	}
	t.Cleanup(conn.Release)
	return conn, peer
}

// TestRelay_BidirectionalCopy verifies Relay shuttles data via the
// session's I/O endpoints.
func TestRelay_BidirectionalCopy(t *testing.T) {
	conn, peer := acceptOne(t, 2*time.Second)

	// Peer: echo what it gets until our side half-closes.
	go func() {
		io.Copy(peer, peer)
		peer.Close()
	}()

	input := bytes.NewBufferString("hello relay\n")
	output := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess := session.New(conn, input, output, util.NewLogger(0))
	if err := (&Relay{}).Handle(ctx, sess); err != nil {
		t.Fatalf("Relay.Handle: %v", err)
	}

	if got := output.String(); got != "hello relay\n" {
		t.Errorf("output = %q, want %q", got, "hello relay\n")
	}
}

func TestEcho(t *testing.T) {
	conn, peer := acceptOne(t, 2*time.Second)

	done := make(chan error, 1)
	go func() {
		done <- (&Echo{}).Handle(context.Background(), session.New(conn, nil, nil, nil))
	}()

	peer.Write([]byte("marco"))
	got := make([]byte, 5)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(peer, got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "marco" {
		t.Errorf("echo = %q", got)
	}

	peer.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Echo after peer close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Echo did not finish after peer close")
	}
}

func TestEcho_IdleTimeout(t *testing.T) {
	conn, _ := acceptOne(t, 2*time.Second)
	conn.SetTimeout(50 * time.Millisecond)

	err := (&Echo{}).Handle(context.Background(), session.New(conn, nil, nil, nil))
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestEcho_ContextCancel(t *testing.T) {
	conn, _ := acceptOne(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- (&Echo{}).Handle(ctx, session.New(conn, nil, nil, nil)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancelled echo: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Echo ignored context cancellation")
	}
}

func TestExec_Command(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	conn, peer := acceptOne(t, 2*time.Second)

	e := &Exec{Command: "echo from-child"}
	if err := e.Handle(context.Background(), session.New(conn, nil, nil, nil)); err != nil {
		t.Fatalf("Exec.Handle: %v", err)
	}
	conn.Close()

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, _ := io.ReadAll(peer)
	if strings.TrimSpace(string(out)) != "from-child" {
		t.Errorf("output = %q", out)
	}
}

func TestExec_NothingToRun(t *testing.T) {
	conn, _ := acceptOne(t, time.Second)
	if err := (&Exec{}).Handle(context.Background(), session.New(conn, nil, nil, nil)); err == nil {
		t.Fatal("expected error with no program or command")
	}
}
