// Command vloop runs deterministic virtual-time looper scenarios.
//
// Usage:
//
//	vloop [--config vloop.yaml] run <scenario.yaml>
//	vloop verify <scenario.yaml> --times 10
//	vloop runs | show <run-id> | diff <run-a> <run-b> | delete <run-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/snehjoshi/vloop/internal/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vloop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// SIGINT / SIGTERM cancel the running scenario and release parked loops.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cli.NewRootCmd().ExecuteContext(ctx)
}
