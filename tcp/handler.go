package tcp

// Handler serves one accepted connection in threaded mode.  Serve runs
// on the connection's own worker goroutine exactly once; when it
// returns the connection is closed and released.
type Handler interface {
	Serve(c *Connection)
}

// HandlerFunc adapts an ordinary function to [Handler].  Per-server
// state is captured by the closure.
type HandlerFunc func(c *Connection)

// Serve calls f(c).
func (f HandlerFunc) Serve(c *Connection) { f(c) }

// Firewall decides whether a peer may connect.  It is consulted before
// any Connection is constructed; a refused socket is closed without
// exchanging data.
type Firewall interface {
	Allow(remote string) bool
}

// FirewallFunc adapts an ordinary function to [Firewall].
type FirewallFunc func(remote string) bool

// Allow calls f(remote).
func (f FirewallFunc) Allow(remote string) bool { return f(remote) }
