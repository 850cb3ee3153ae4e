package core

import (
	"context"
	"fmt"

	"gotcp/internal/capability"
	"gotcp/internal/errors"
	"gotcp/internal/session"
	"gotcp/tcp"
	"gotcp/util"
)

// ConnectMode makes one outbound connection and runs a capability on
// it.  This is the default client mode.
type ConnectMode struct {
	Client     tcp.ClientConfig
	Capability capability.Capability
	Logger     *util.Logger
	stdio
}

// Run connects, creates a session and hands it to the capability.  The
// connection is released when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	where := util.FormatAddr(m.Client.Address, m.Client.Port)

	cl := tcp.NewClient(m.Client)
	defer cl.Close()

	conn := cl.Connection()
	if conn == nil {
		return fmt.Errorf("connect to %s: %w", where, errors.ErrNotConnected)
	}

	sess := session.New(conn, m.stdin(), m.stdout(), m.Logger)
	err := m.Capability.Handle(ctx, sess)
	if err == nil && conn.TimedOut() {
		err = errors.ErrTimeout
	}
	if err != nil {
		return fmt.Errorf("connect to %s: %w", where, err)
	}
	return nil
}
