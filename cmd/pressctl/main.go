// Command pressctl maintains a press storage file: migrations, search index
// checks and markdown export/import.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go-press/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}
