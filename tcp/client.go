package tcp

import (
	"time"

	"gotcp/internal/metrics"
	"gotcp/internal/pacer"
	"gotcp/internal/socket"
	"gotcp/util"
)

// ClientConfig describes one outbound connection.
type ClientConfig struct {
	Address string // dotted-decimal IPv4
	Port    int
	// Timeout is the connection's idle timeout.  It also bounds the
	// handshake: a connect that never completes surfaces as an idle
	// timeout on the first Receive or Send.
	Timeout time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
	Pacer   *pacer.Pacer
}

// Client wraps one outbound connection attempt.
type Client struct {
	conn *Connection
}

// NewClient starts a non-blocking connect.  If the attempt fails
// outright (bad address, no socket, immediate refusal) the failure is
// logged and Connection returns nil.
func NewClient(cfg ClientConfig) *Client {
	log := util.OrQuiet(cfg.Logger)
	where := util.FormatAddr(cfg.Address, cfg.Port)

	addr, err := util.ParseIPv4(cfg.Address)
	if err != nil {
		log.Error("connect %s: %v", where, err)
		cfg.Metrics.RecordError(err.Error())
		return &Client{}
	}
	fd, err := socket.Connect(addr, cfg.Port)
	if err != nil {
		log.Error("%v", err)
		cfg.Metrics.RecordError(err.Error())
		return &Client{}
	}

	log.Verbose("connecting to %s", where)
	return &Client{conn: newConnection(fd, cfg.Address, connConfig{
		timeout: cfg.Timeout,
		pacer:   cfg.Pacer,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	})}
}

// Connection returns the wrapped connection, or nil if the connect
// attempt failed.
func (c *Client) Connection() *Connection { return c.conn }

// Close releases the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Release()
	}
	return nil
}
