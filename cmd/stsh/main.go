// Command stsh is an interactive shell with job control. It runs pipelines
// as jobs in their own process groups, hands the terminal to the foreground
// job, relays Ctrl-C and Ctrl-Z to it, and manages jobs with the jobs, fg,
// bg, slay, halt and cont builtins.
//
// Lines are read from standard input. The prompt is only shown when standard
// input is a terminal; -c runs a single line instead.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// SIGINT and SIGTSTP belong to the foreground job and are relayed by the
	// shell itself.
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGHUP,
	)
	defer cancel()

	return rootCmd().ExecuteContext(ctx)
}
