package tcp

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gotcp/internal/metrics"
	"gotcp/internal/pacer"
	"gotcp/internal/socket"
	"gotcp/util"
)

func TestClient_ConnectAndExchange(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	m := metrics.New()
	cl := NewClient(ClientConfig{
		Address: "127.0.0.1",
		Port:    ln.Addr().(*net.TCPAddr).Port,
		Timeout: 2 * time.Second,
		Metrics: m,
		Pacer:   pacer.New(0),
	})
	defer cl.Close()

	c := cl.Connection()
	require.NotNil(t, c)
	assert.Equal(t, "127.0.0.1", c.RemoteAddress())

	// Sending right away works even if the handshake is still in flight.
	payload := bytes.Repeat([]byte("x"), 3000)
	assert.Equal(t, len(payload), c.Send(payload))

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 1024)
	for len(got) < len(payload) {
		n := c.Receive(buf)
		require.NotZero(t, n)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(3000), m.TotalBytesOut())
	assert.Equal(t, int64(3000), m.TotalBytesIn())
}

func TestClient_InvalidAddress(t *testing.T) {
	m := metrics.New()
	cl := NewClient(ClientConfig{Address: "example.com", Port: 80, Metrics: m})
	assert.Nil(t, cl.Connection())
	assert.Equal(t, int64(1), m.ErrorCount())
	assert.NoError(t, cl.Close(), "closing a failed client is safe")
}

func TestClient_RefusedPort(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)

	cl := NewClient(ClientConfig{Address: "127.0.0.1", Port: port, Timeout: 2 * time.Second})
	defer cl.Close()

	// Refusal is either immediate or discovered by the first receive.
	c := cl.Connection()
	if c == nil {
		return
	}
	start := time.Now()
	assert.Zero(t, c.Receive(make([]byte, 1)))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, c.TimedOut(), "refusal is an error, not an idle timeout")
	assert.True(t, c.Closed())
}

// stalledPort returns the port of a listener whose accept queue is
// full, so further handshakes get no reply.
func stalledPort(t *testing.T) int {
	t.Helper()
	lfd, err := socket.Listen(loopback, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close(lfd) })
	_, port, err := socket.LocalAddr(lfd)
	require.NoError(t, err)

	addr := util.FormatAddr("127.0.0.1", port)
	for i := 0; i < 8; i++ {
		conn, err := net.DialTimeout("tcp4", addr, 200*time.Millisecond)
		if err != nil {
			return port
		}
		t.Cleanup(func() { conn.Close() })
	}
	t.Skip("handshakes still complete with the accept queue full")
	return 0
}

func TestClient_HandshakeNeverCompletes(t *testing.T) {
	const timeout = 150 * time.Millisecond
	port := stalledPort(t)
	m := metrics.New()

	tests := []struct {
		name string
		op   func(*Connection) int
	}{
		{"receive", func(c *Connection) int { return c.Receive(make([]byte, 16)) }},
		{"send", func(c *Connection) int { return c.Send([]byte("hello")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			cl := NewClient(ClientConfig{Address: "127.0.0.1", Port: port, Timeout: timeout, Metrics: m, Pacer: pacer.New(0)})
			defer cl.Close()
			c := cl.Connection()
			require.NotNil(t, c, "a pending connect is not a failure")

			n := tt.op(c)
			elapsed := time.Since(start)

			assert.Zero(t, n)
			assert.True(t, c.TimedOut(), "an unanswered handshake surfaces as an idle timeout")
			assert.True(t, c.Closed())
			assert.GreaterOrEqual(t, elapsed, timeout)
			assert.Less(t, elapsed, time.Second)
		})
	}
	assert.Equal(t, int64(2), m.Timeouts())
}

func TestClient_CloseReleases(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cl := NewClient(ClientConfig{Address: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port})
	c := cl.Connection()
	require.NotNil(t, c)

	require.NoError(t, cl.Close())
	assert.True(t, c.Closed())
	require.NoError(t, cl.Close())
}
