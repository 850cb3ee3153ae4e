// gotcp - an embeddable IPv4 TCP service primitive and the CLI that
// drives it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gotcp/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gotcp: %v\n", err)
		os.Exit(1)
	}
}
