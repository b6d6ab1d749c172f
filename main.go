package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ingest/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli.ExecuteContext(ctx)
}
