// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// rattrap builds, reads, serves, and mounts content-addressed chunk
// archives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/rattrap/cmd/rattrap/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own outcome return an error with
		// an exit code and no further message.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return commands.Root(os.Stdout, os.Stderr).Execute(ctx, os.Args[1:])
}
