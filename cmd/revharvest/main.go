package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/revharvest/revharvest/internal/cli"
)

func main() {
	if err := run(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	// Ctrl-C cancels the context; running sessions pause with their cursors
	// persisted before the process exits.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	return cli.Execute(ctx, args[1:], stdin, stdout, stderr)
}
