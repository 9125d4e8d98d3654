package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"defisync/internal/cli"
)

func main() {
	// Cancel on interrupt so a running server shuts down gracefully
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
