// Package builtins implements the job control commands interpreted by the
// shell itself: quit, exit, fg, bg, slay, halt, cont and jobs.
package builtins

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/nixpig/stsh/internal/jobmanager"
	"github.com/nixpig/stsh/internal/pipeline"
	"golang.org/x/sys/unix"
)

// Signaller delivers signals to processes and process groups.
type Signaller interface {
	Signal(pid int, sig unix.Signal) error
	SignalGroup(pgid int, sig unix.Signal) error
}

// Foregrounder gives a job the terminal, calls resume, and waits while the
// job is in the foreground.
type Foregrounder interface {
	Foreground(job *jobmanager.Job, resume func()) error
}

// Handler runs a builtin with the argument tokens it was given.
type Handler func(args []string) error

// Registry maps builtin names to their handlers.
type Registry struct {
	table        *jobmanager.Table
	signaller    Signaller
	foregrounder Foregrounder
	out          io.Writer
	logger       *slog.Logger

	handlers map[string]Handler
}

// NewRegistry creates a Registry with every builtin registered. jobs writes
// its listing to out.
func NewRegistry(
	table *jobmanager.Table,
	signaller Signaller,
	foregrounder Foregrounder,
	out io.Writer,
	logger *slog.Logger,
) *Registry {
	r := &Registry{
		table:        table,
		signaller:    signaller,
		foregrounder: foregrounder,
		out:          out,
		logger:       logger,
	}

	r.handlers = map[string]Handler{
		"quit": r.quit,
		"exit": r.quit,
		"fg":   r.fg,
		"bg":   r.bg,
		"slay": r.signalCommand("slay", unix.SIGINT),
		"halt": r.signalCommand("halt", unix.SIGTSTP),
		"cont": r.signalCommand("cont", unix.SIGCONT),
		"jobs": r.jobs,
	}

	return r
}

// Lookup returns the handler for the builtin name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Run runs p if its first command is a builtin. It reports whether p was
// handled as a builtin.
func (r *Registry) Run(p *pipeline.Pipeline) (bool, error) {
	if len(p.Commands) == 0 {
		return false, nil
	}

	name := p.Commands[0].Name

	h, ok := r.Lookup(name)
	if !ok {
		return false, nil
	}

	if len(p.Commands) > 1 || p.Input != "" || p.Output != "" || p.Background {
		return true, fmt.Errorf("%s: builtins cannot be piped, redirected or backgrounded", name)
	}

	return true, h(p.Commands[0].Tokens)
}

func (r *Registry) quit(args []string) error {
	return ErrExit
}

func (r *Registry) jobs(args []string) error {
	return r.table.List(r.out)
}

// fg resumes a job in the foreground and waits while it stays there.
func (r *Registry) fg(args []string) error {
	job, err := r.jobArg("fg", args)
	if err != nil {
		return err
	}

	// The job is continued only once it owns the terminal, or a stage that
	// reads it would be stopped again straight away.
	resume := func() {
		for _, p := range job.Processes() {
			r.signal(p, unix.SIGCONT)
		}
	}

	if job.Placement() != jobmanager.PlacementForeground {
		r.table.MoveToForeground(job)

		resume = func() {
			if err := r.signaller.SignalGroup(job.Pgid(), unix.SIGCONT); err != nil {
				r.logger.Debug("continue job", "job", job.Num(), "pgid", job.Pgid(), "err", err)
			}
		}
	}

	return r.foregrounder.Foreground(job, resume)
}

// bg resumes every process of a job without moving it to the foreground.
func (r *Registry) bg(args []string) error {
	job, err := r.jobArg("bg", args)
	if err != nil {
		return err
	}

	for _, p := range job.Processes() {
		r.signal(p, unix.SIGCONT)
	}

	return nil
}

// jobArg validates the single job number argument of fg and bg.
func (r *Registry) jobArg(name string, args []string) (*jobmanager.Job, error) {
	usage := NewUsageError(name + " <jobid>")

	if len(args) != 1 {
		return nil, usage
	}

	num, err := strconv.Atoi(args[0])
	if err != nil || num == 0 {
		return nil, usage
	}

	job, err := r.table.GetJob(num)
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", name, num, ErrNoSuchJob)
	}

	return job, nil
}

// signalCommand returns the handler for slay, halt and cont, which accept
// either a pid or a job number and a zero-based process index.
func (r *Registry) signalCommand(name string, sig unix.Signal) Handler {
	usage := NewUsageError(name + " <jobid> <index> | <pid>")

	return func(args []string) error {
		switch len(args) {
		case 1:
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return usage
			}

			job, err := r.table.GetJobWithProcess(pid)
			if err != nil {
				return fmt.Errorf("%s %d: %w", name, pid, ErrNoSuchProcess)
			}

			p, _ := job.Process(pid)
			if p.State() == jobmanager.ProcessStateTerminated {
				return fmt.Errorf("%s %d: %w", name, pid, ErrNoSuchProcess)
			}

			return r.signaller.Signal(pid, sig)

		case 2:
			num, err := strconv.Atoi(args[0])
			if err != nil {
				return usage
			}

			index, err := strconv.Atoi(args[1])
			if err != nil {
				return usage
			}

			job, err := r.table.GetJob(num)
			if err != nil {
				return fmt.Errorf("%s %d: %w", name, num, ErrNoSuchJob)
			}

			processes := job.Processes()
			if index < 0 || index >= len(processes) {
				return fmt.Errorf(
					"%s: job %d has no process at index %d: %w",
					name,
					num,
					index,
					ErrIndexOutOfRange,
				)
			}

			p := processes[index]
			if p.State() == jobmanager.ProcessStateTerminated {
				return fmt.Errorf("%s %d %d: %w", name, num, index, ErrNoSuchProcess)
			}

			return r.signaller.Signal(p.PID(), sig)

		default:
			return usage
		}
	}
}

// signal sends sig to a process that has not terminated. Failures are logged
// only: the process may exit between the check and the kill.
func (r *Registry) signal(p *jobmanager.Process, sig unix.Signal) {
	if p.State() == jobmanager.ProcessStateTerminated {
		return
	}

	if err := r.signaller.Signal(p.PID(), sig); err != nil {
		r.logger.Debug("signal process", "pid", p.PID(), "signal", sig, "err", err)
	}
}
