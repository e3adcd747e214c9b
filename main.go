package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hostfleet/internal/app"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := app.New().RunWithContext(ctx, os.Args[1:])
	if msg := app.Message(err); msg != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	cancel()
	os.Exit(app.ExitCode(err))
}
