package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/nixpig/stsh/internal/builtins"
	"github.com/nixpig/stsh/internal/input"
	"github.com/nixpig/stsh/internal/jobmanager"
	"github.com/nixpig/stsh/internal/launcher"
	"github.com/nixpig/stsh/internal/shell"
	"github.com/nixpig/stsh/internal/signals"
	"github.com/nixpig/stsh/internal/terminal"
	"github.com/spf13/cobra"
)

// TODO: Inject version at build time.
const version = "0.0.1"

func rootCmd() *cobra.Command {
	cfg := &config{}

	c := &cobra.Command{
		Use:          "stsh",
		Short:        "Shell with job control",
		Example:      "stsh --debug --log-file /tmp/stsh.log",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.load(cmd.Flags()); err != nil {
				return err
			}

			if err := cfg.validate(); err != nil {
				return err
			}

			return runShell(cmd.Context(), cfg)
		},
	}

	addFlags(c.Flags(), cfg)

	return c
}

func runShell(ctx context.Context, cfg *config) error {
	logger, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	table := jobmanager.NewTable()

	relay := signals.NewRelay(table, logger)
	relay.Install()
	defer relay.Uninstall()

	term := terminal.NewController(os.Stdin)
	interactive := term.IsTerminal()

	logger.Debug(
		"starting shell",
		"pid", os.Getpid(),
		"pgid", term.ShellPgid(),
		"interactive", interactive,
	)

	l := launcher.NewLauncher(
		table,
		relay,
		term,
		launcher.Stdio{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr},
		os.Stdout,
		logger,
	)

	sh := shell.NewShell(
		shell.Config{
			Prompt:      cfg.prompt,
			Interactive: interactive && cfg.command == "",
		},
		input.NewReader(os.Stdin),
		relay,
		builtins.NewRegistry(table, relay, l, os.Stdout, logger),
		l,
		os.Stdout,
		os.Stderr,
		logger,
	)

	if cfg.command != "" {
		if err := sh.Execute(cfg.command); err != nil && !errors.Is(err, builtins.ErrExit) {
			return err
		}

		return nil
	}

	return sh.Run(ctx)
}

// newLogger writes to the log file if one is configured, otherwise to stderr
// in debug mode. Without either, logs are discarded so they never interleave
// with job output on the terminal.
func newLogger(cfg *config, stderr io.Writer) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	nop := func() error { return nil }

	var handler slog.Handler

	switch {
	case cfg.logFile != "":
		f, err := os.OpenFile(cfg.logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nop, fmt.Errorf("open log file: %w", err)
		}

		return slog.New(slog.NewTextHandler(f, opts)).
			With("session", uuid.NewString()), f.Close, nil

	case cfg.debug:
		handler = slog.NewTextHandler(stderr, opts)

	default:
		handler = slog.DiscardHandler
	}

	return slog.New(handler).With("session", uuid.NewString()), nop, nil
}
