package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gdeltsync/internal/cli"
)

func main() {
	// Ctrl+C or SIGTERM cancels the run context; the pipeline stops cleanly
	// at the next stage boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
