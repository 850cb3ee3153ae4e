package capability

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"gotcp/internal/session"
)

// Exec wires a network connection to a child process's stdio.
// Either Program (-e) or Command (-c) must be set.
type Exec struct {
	Program string // -e: execute a program directly
	Command string // -c: execute via the system shell
}

// Handle starts the child process with its stdin/stdout/stderr
// connected to the session's connection and waits for it to exit.
func (e *Exec) Handle(ctx context.Context, sess *session.Session) error {
	var cmd *exec.Cmd

	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd.exe", "/C", e.Command)
		} else {
			cmd = exec.CommandContext(ctx, "/bin/sh", "-c", e.Command)
		}
	case e.Program != "":
		cmd = exec.CommandContext(ctx, e.Program)
	default:
		return fmt.Errorf("no command specified for exec mode")
	}

	// The stdin copy is driven by hand: it blocks on the connection and
	// must not hold up Wait once the child has exited.  It unwinds when
	// the connection is closed after Handle returns.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	cmd.Stdout = sess.Conn
	cmd.Stderr = sess.Conn

	sess.Logger.Debug("exec: %s", cmd.String())

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	go func() {
		io.Copy(stdin, sess.Conn) //nolint:errcheck
		stdin.Close()
	}()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	return nil
}
