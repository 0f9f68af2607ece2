// Package shell runs the interactive read-execute loop. The loop goroutine
// owns the job table: it is the only place signals are handled and commands
// run.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nixpig/stsh/internal/builtins"
	"github.com/nixpig/stsh/internal/input"
	"github.com/nixpig/stsh/internal/jobmanager"
	"github.com/nixpig/stsh/internal/pipeline"
)

// Signals is the source of pending OS signals and their handlers.
type Signals interface {
	Incoming() <-chan os.Signal
	ChildStatus() <-chan os.Signal
	Handle(sig os.Signal)
}

// Lines delivers one line of input per request.
type Lines interface {
	Request()
	Lines() <-chan input.Line
	Err() error
}

// Builtins runs a pipeline if it names a builtin.
type Builtins interface {
	Run(p *pipeline.Pipeline) (bool, error)
}

// Launcher starts a pipeline as a job.
type Launcher interface {
	Launch(p *pipeline.Pipeline) (*jobmanager.Job, error)
}

type Config struct {
	// Prompt is written before each line is read when Interactive is set.
	Prompt      string
	Interactive bool
}

type Shell struct {
	config   Config
	input    Lines
	signals  Signals
	builtins Builtins
	launcher Launcher
	out      io.Writer
	errOut   io.Writer
	logger   *slog.Logger
}

func NewShell(
	config Config,
	input Lines,
	signals Signals,
	builtins Builtins,
	launcher Launcher,
	out io.Writer,
	errOut io.Writer,
	logger *slog.Logger,
) *Shell {
	return &Shell{
		config:   config,
		input:    input,
		signals:  signals,
		builtins: builtins,
		launcher: launcher,
		out:      out,
		errOut:   errOut,
		logger:   logger,
	}
}

// Run reads and executes lines until end of input, quit or exit, or ctx is
// cancelled. Signals that arrive while waiting for input are handled without
// re-prompting. Errors from individual lines are written to the error output
// and do not end the loop.
func (s *Shell) Run(ctx context.Context) error {
	requested := false

	for {
		if !requested {
			if s.config.Interactive {
				fmt.Fprint(s.out, s.config.Prompt)
			}

			s.input.Request()
			requested = true
		}

		select {
		case <-ctx.Done():
			s.logger.Debug("shell loop cancelled", "err", ctx.Err())
			return nil

		case sig := <-s.signals.ChildStatus():
			s.signals.Handle(sig)

		case sig := <-s.signals.Incoming():
			s.signals.Handle(sig)

		case line, ok := <-s.input.Lines():
			if !ok {
				if s.config.Interactive {
					fmt.Fprintln(s.out)
				}

				return s.input.Err()
			}

			requested = false

			if line.Err != nil {
				s.Report(line.Err)
				continue
			}

			if err := s.Execute(line.Text); err != nil {
				if errors.Is(err, builtins.ErrExit) {
					return nil
				}

				s.Report(err)
			}
		}
	}
}

// Execute parses and runs a single line. A blank line does nothing.
func (s *Shell) Execute(line string) error {
	p, err := pipeline.Parse(line)
	if err != nil {
		return err
	}

	if len(p.Commands) == 0 {
		return nil
	}

	s.logger.Debug("execute", "pipeline", p.String())

	if handled, err := s.builtins.Run(p); handled {
		return err
	}

	_, err = s.launcher.Launch(p)
	return err
}

// Report writes err to the error output as a single line.
func (s *Shell) Report(err error) {
	s.logger.Debug("command failed", "err", err)
	fmt.Fprintln(s.errOut, oneLine(err.Error()))
}

// oneLine joins the lines of a message built by errors.Join.
func oneLine(msg string) string {
	return strings.ReplaceAll(strings.TrimSpace(msg), "\n", "; ")
}
