// Package core is the orchestration layer.  It composes the tcp
// service primitive and capabilities into complete operational modes
// and provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	socket  →  tcp  →  session  →  capability  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of gotcp (connect,
// single-shot listen or threaded listen).  Each mode owns its full
// lifecycle from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
