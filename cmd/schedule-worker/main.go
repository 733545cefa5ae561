package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keboola/schedule-coordinator/internal/pkg/env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(os.Stdout, os.Stderr, env.FromOs())
	if err := root.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %s\n", err.Error()) // nolint:forbidigo
		cancel()
		os.Exit(1)
	}
}
