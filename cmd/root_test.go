package cmd

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"gotcp/internal/store"
	"gotcp/util"
)

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	// Execute with --version should not return an error (it prints and exits).
	err := Execute(context.Background(), []string{"--version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			err := Execute(context.Background(), args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	for _, args := range [][]string{
		{"-l", "-p", "8080", "--dry-run"},
		{"-l", "-k", "-p", "8080", "--workers", "4", "--deny", "10.0.0.0/8", "--dry-run"},
		{"127.0.0.1", "80", "-w", "5", "--echo", "--dry-run"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_ConnectFromEnv verifies connect mode can take both the
// host and the peer port from the environment.
func TestExecute_ConnectFromEnv(t *testing.T) {
	t.Setenv("GOTCP_HOST", "127.0.0.1")
	t.Setenv("GOTCP_PEER_PORT", "80")
	if err := Execute(context.Background(), []string{"--dry-run"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// GOTCP_PORT is the listening port and does not name the peer.
	t.Setenv("GOTCP_PEER_PORT", "")
	t.Setenv("GOTCP_PORT", "80")
	if err := Execute(context.Background(), []string{"--dry-run"}); err == nil {
		t.Fatal("expected a missing peer port error")
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-l", "--dry-run", // listen without -p
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	err := Execute(context.Background(), []string{"--nonexistent-flag"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_ConflictingFlags verifies -e and -c conflict is caught.
func TestExecute_ConflictingFlags(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-e", "cat", "-c", "ls", "127.0.0.1", "80", "--dry-run",
	})
	if err == nil {
		t.Fatal("expected error for -e and -c conflict")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("error should mention mutually exclusive: %v", err)
	}
}

// TestExecute_BadArguments covers positional parsing failures.
func TestExecute_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"hostname", []string{"example.com", "80", "--dry-run"}},
		{"port not a number", []string{"127.0.0.1", "http", "--dry-run"}},
		{"too many", []string{"127.0.0.1", "80", "81", "--dry-run"}},
		{"bad firewall", []string{"-l", "-p", "80", "--allow", "::1", "--dry-run"}},
		{"save without store", []string{"-l", "-p", "80", "--save", "--dry-run"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Execute(context.Background(), tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// TestExecute_SaveAndReload verifies --save persists the effective
// settings, that a later run picks them up, and that the run's metrics
// are recorded.
func TestExecute_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	// A cancelled context makes the listener return straight away.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Execute(ctx, []string{
		"--store", dir, "--save",
		"-l", "-s", "127.0.0.1", "-p", strconv.Itoa(port), "-w", "30",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	s, err := store.Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{
		store.KeyBind:    "127.0.0.1",
		store.KeyPort:    strconv.Itoa(port),
		store.KeyTimeout: "30s",
	} {
		got, ok, err := s.Read(key)
		if err != nil || !ok || got != want {
			t.Errorf("%s = %q (ok=%v, err=%v), want %q", key, got, ok, err, want)
		}
	}
	if _, ok, _ := s.Read(store.KeyLastMetrics); !ok {
		t.Error("metrics snapshot was not persisted")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// The stored port satisfies -l without -p.
	if err := Execute(context.Background(), []string{"--store", dir, "-l", "--dry-run"}); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

// TestExecute_Precedence verifies store < env < flags.
func TestExecute_Precedence(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(store.KeyPort, "9000"); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(store.KeyBind, "127.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GOTCP_STORE", dir)
	if err := Execute(context.Background(), []string{"-l", "--dry-run"}); err != nil {
		t.Fatalf("store only: %v", err)
	}

	// The environment beats the store.
	t.Setenv("GOTCP_BIND", "bogus")
	if err := Execute(context.Background(), []string{"-l", "--dry-run"}); err == nil {
		t.Fatal("GOTCP_BIND should override the stored bind address")
	}

	// Flags beat the environment.
	if err := Execute(context.Background(), []string{"-l", "-s", "127.0.0.1", "--dry-run"}); err != nil {
		t.Fatalf("flag override: %v", err)
	}
}
