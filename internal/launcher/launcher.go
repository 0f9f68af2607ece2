// Package launcher starts a parsed pipeline as a job: one process per stage,
// all in the process group of the first, connected by pipes.
package launcher

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nixpig/stsh/internal/jobmanager"
	"github.com/nixpig/stsh/internal/pipeline"
	"golang.org/x/sys/unix"
)

var (
	// ErrEmptyPipeline is returned for a pipeline without stages. No process
	// is created.
	ErrEmptyPipeline = errors.New("empty pipeline")

	// ErrCommandNotFound is returned when a stage's executable cannot be found
	// or executed.
	ErrCommandNotFound = errors.New("command not found")

	// ErrLaunch is returned when a pipe, redirection or process could not be
	// created.
	ErrLaunch = errors.New("launch failed")
)

// Waiter blocks while a condition that signal handlers change holds.
type Waiter interface {
	WaitWhile(cond func() bool)
}

// Terminal transfers ownership of the controlling terminal.
type Terminal interface {
	Give(pgid int) error
	Reclaim() error

	// Ctty returns the descriptor of the controlling terminal, and false if
	// the shell has none.
	Ctty() (int, bool)
}

// Stdio are the files a stage inherits when it is not connected to a pipe or
// redirected.
type Stdio struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Launcher creates jobs in a job table from parsed pipelines.
type Launcher struct {
	table    *jobmanager.Table
	waiter   Waiter
	terminal Terminal
	stdio    Stdio
	out      io.Writer
	logger   *slog.Logger
}

// NewLauncher creates a Launcher. Background launch notices are written to
// out; stages inherit stdio.
func NewLauncher(
	table *jobmanager.Table,
	waiter Waiter,
	terminal Terminal,
	stdio Stdio,
	out io.Writer,
	logger *slog.Logger,
) *Launcher {
	return &Launcher{
		table:    table,
		waiter:   waiter,
		terminal: terminal,
		stdio:    stdio,
		out:      out,
		logger:   logger,
	}
}

// Launch starts p as a new job. A foreground job is given the terminal and
// Launch blocks until it leaves the foreground. A background job is announced
// as "[<job>] <pid>..." and Launch returns immediately.
//
// A stage whose command cannot be executed is reported on stderr and skipped;
// its neighbours see end of file on their pipes. If no stage could be started
// the job is discarded and the errors are returned.
func (l *Launcher) Launch(p *pipeline.Pipeline) (*jobmanager.Job, error) {
	if len(p.Commands) == 0 {
		return nil, ErrEmptyPipeline
	}

	placement := jobmanager.PlacementForeground
	if p.Background {
		placement = jobmanager.PlacementBackground
	}

	job := l.table.AddJob(placement)

	started, notFound, err := l.start(job, p)
	if started == 0 {
		// The job has no process left to report a status change for.
		l.table.Synchronize(job)

		return nil, errors.Join(append(notFound, err)...)
	}

	if err != nil {
		// Stages already running stay tracked so they can be signalled. The
		// leader may already have taken the terminal.
		l.table.MoveToBackground(job)

		return job, errors.Join(err, l.terminal.Reclaim())
	}

	for _, err := range notFound {
		fmt.Fprintln(l.stdio.Stderr, err)
	}

	l.logger.Debug(
		"launched job",
		"job", job.Num(),
		"id", job.ID(),
		"pgid", job.Pgid(),
		"placement", job.Placement(),
		"command", job.Command(),
	)

	if p.Background {
		fmt.Fprintf(l.out, "[%d] %s\n", job.Num(), joinPIDs(job.PIDs()))
		return job, nil
	}

	return job, l.Foreground(job, nil)
}

// Foreground gives the terminal to job's process group, calls resume if it is
// not nil, and blocks until the job is no longer in the foreground, i.e. it
// terminated or was stopped. The terminal is then reclaimed for the shell.
func (l *Launcher) Foreground(job *jobmanager.Job, resume func()) error {
	giveErr := l.terminal.Give(job.Pgid())

	if resume != nil {
		resume()
	}

	l.waiter.WaitWhile(func() bool {
		return l.table.IsForeground(job)
	})

	reclaimErr := l.terminal.Reclaim()

	l.logger.Debug(
		"foreground wait finished",
		"job", job.Num(),
		"id", job.ID(),
		"live", l.table.ContainsJob(job.Num()),
	)

	return errors.Join(giveErr, reclaimErr)
}

// start opens redirections and pipes, then starts one process per stage. It
// returns the number of processes started and the errors of stages whose
// command could not be executed. Every descriptor opened here is closed
// before it returns.
func (l *Launcher) start(
	job *jobmanager.Job,
	p *pipeline.Pipeline,
) (int, []error, error) {
	stdin, stdout := l.stdio.Stdin, l.stdio.Stdout

	if p.Input != "" {
		f, err := os.Open(p.Input)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrLaunch, err)
		}
		defer f.Close()

		stdin = f
	}

	if p.Output != "" {
		f, err := os.OpenFile(p.Output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrLaunch, err)
		}
		defer f.Close()

		stdout = f
	}

	ps, err := newPipes(len(p.Commands) - 1)
	if err != nil {
		return 0, nil, err
	}
	defer ps.closeAll()

	var (
		last     = len(p.Commands) - 1
		started  int
		notFound []error
	)

	for i, command := range p.Commands {
		in, out := stdin, stdout
		if i > 0 {
			in = ps[i-1].r
		}
		if i < last {
			out = ps[i].w
		}

		pid, err := l.startProcess(command, l.procAttr(job), in, out)

		// The parent keeps only the read end feeding the next stage.
		ps.closeRead(i - 1)
		ps.closeWrite(i)

		if err != nil {
			if !errors.Is(err, ErrCommandNotFound) {
				return started, notFound, err
			}

			notFound = append(notFound, err)

			continue
		}

		job.AddProcess(pid, command)
		started++
	}

	return started, notFound, nil
}

// procAttr returns the attributes for the next process of job. The first
// process leads a new process group. If the job is in the foreground, the
// leader also makes its group the foreground group of the terminal before
// exec, so no stage can read the terminal before the group owns it. The
// parent's Give in Foreground covers the case where the leader has not run
// yet.
func (l *Launcher) procAttr(job *jobmanager.Job) *unix.SysProcAttr {
	attr := &unix.SysProcAttr{Setpgid: true, Pgid: job.Pgid()}

	if job.Pgid() != 0 || job.Placement() != jobmanager.PlacementForeground {
		return attr
	}

	if fd, ok := l.terminal.Ctty(); ok {
		attr.Foreground = true
		attr.Ctty = fd
	}

	return attr
}

// startProcess starts command with attr. The child joins its process group
// before exec.
func (l *Launcher) startProcess(
	command jobmanager.Command,
	attr *unix.SysProcAttr,
	stdin, stdout *os.File,
) (int, error) {
	path, err := exec.LookPath(command.Name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", command.Name, ErrCommandNotFound)
	}

	proc, err := os.StartProcess(
		path,
		append([]string{command.Name}, command.Tokens...),
		&os.ProcAttr{
			Files: []*os.File{stdin, stdout, l.stdio.Stderr},
			Sys:   attr,
		},
	)
	if err != nil {
		if isExecError(err) {
			return 0, fmt.Errorf("%s: %w", command.Name, ErrCommandNotFound)
		}

		return 0, fmt.Errorf("%w: %s: %w", ErrLaunch, command.Name, err)
	}

	pid := proc.Pid

	// Children are reaped with wait4 by the signal relay, never through the
	// os.Process handle.
	if err := proc.Release(); err != nil {
		l.logger.Debug("release process handle", "pid", pid, "err", err)
	}

	return pid, nil
}

func isExecError(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, unix.ENOEXEC) ||
		errors.Is(err, unix.EISDIR)
}

func joinPIDs(pids []int) string {
	s := make([]string, 0, len(pids))
	for _, pid := range pids {
		s = append(s, strconv.Itoa(pid))
	}

	return strings.Join(s, " ")
}
