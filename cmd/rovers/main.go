// Package main is the entry point for the rovers CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	for _, w := range loadStartupEnv() {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rovers:", err)
		os.Exit(1)
	}
}
