// Package signals relays OS signals to the job table.
//
// Go delivers signals on channels rather than through asynchronous handlers.
// A Relay registers two buffered channels: one of capacity 1 for SIGCHLD and
// one for every other signal the shell handles. A signal that has been
// delivered but not yet received is effectively blocked. SIGCHLD deliveries
// coalesce while one is pending and its handler drains every pending child
// status, so a full channel of other signals cannot cost a status change.
// Handlers run on the goroutine that owns the job table, either when it
// receives from Incoming or ChildStatus while idle or inside WaitWhile.
package signals

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/nixpig/stsh/internal/jobmanager"
	"golang.org/x/sys/unix"
)

// incomingBufferSize bounds the number of queued signals other than SIGCHLD.
// os/signal drops a signal when its channel is full.
const incomingBufferSize = 32

// Handled is the set of signals a Relay registers for, other than SIGCHLD.
var Handled = []os.Signal{
	unix.SIGINT,
	unix.SIGTSTP,
	unix.SIGQUIT,
	unix.SIGTTIN,
	unix.SIGTTOU,
}

// ReapFunc polls for one child status change without blocking. It returns a
// pid <= 0 or an error when nothing is left to report.
type ReapFunc func() (int, unix.WaitStatus, error)

// KillFunc sends sig to pid. A negative pid addresses a process group.
type KillFunc func(pid int, sig unix.Signal) error

// Relay translates OS notifications into job table mutations and signal
// forwarding.
type Relay struct {
	table    *jobmanager.Table
	logger   *slog.Logger
	incoming chan os.Signal
	children chan os.Signal

	reap ReapFunc
	kill KillFunc
	exit func(code int)
}

type Option func(*Relay)

// WithReaper replaces the wait4 based child-status poll.
func WithReaper(reap ReapFunc) Option {
	return func(r *Relay) { r.reap = reap }
}

// WithKiller replaces kill(2).
func WithKiller(kill KillFunc) Option {
	return func(r *Relay) { r.kill = kill }
}

// WithExit replaces os.Exit for the quit handler.
func WithExit(exit func(code int)) Option {
	return func(r *Relay) { r.exit = exit }
}

// WithIncoming uses ch as the source of signals instead of a channel
// registered with os/signal. Any handled signal, SIGCHLD included, may be
// sent on it.
func WithIncoming(ch chan os.Signal) Option {
	return func(r *Relay) { r.incoming = ch }
}

// WithChildStatus uses ch as the source of SIGCHLD instead of a channel
// registered with os/signal.
func WithChildStatus(ch chan os.Signal) Option {
	return func(r *Relay) { r.children = ch }
}

// NewRelay creates a Relay for table. Call Install to start receiving OS
// signals.
func NewRelay(
	table *jobmanager.Table,
	logger *slog.Logger,
	opts ...Option,
) *Relay {
	r := &Relay{
		table:    table,
		logger:   logger,
		incoming: make(chan os.Signal, incomingBufferSize),
		children: make(chan os.Signal, 1),
		reap:     waitAny,
		kill:     unix.Kill,
		exit:     os.Exit,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Install registers the Relay for SIGCHLD and the Handled signals.
func (r *Relay) Install() {
	signal.Notify(r.children, unix.SIGCHLD)
	signal.Notify(r.incoming, Handled...)
}

// Uninstall stops delivery of OS signals to the Relay.
func (r *Relay) Uninstall() {
	signal.Stop(r.children)
	signal.Stop(r.incoming)
}

// Incoming returns the channel of pending signals other than SIGCHLD. The
// owner of the job table passes every signal received from it to Handle.
func (r *Relay) Incoming() <-chan os.Signal {
	return r.incoming
}

// ChildStatus returns the channel SIGCHLD is delivered on. Signals received
// from it are passed to Handle like those from Incoming.
func (r *Relay) ChildStatus() <-chan os.Signal {
	return r.children
}

// WaitWhile blocks until cond is false, dispatching one pending signal at a
// time. cond is checked before every receive; a signal that arrives between
// the check and the receive stays queued, so a condition changed by a handler
// is never missed.
func (r *Relay) WaitWhile(cond func() bool) {
	for cond() {
		select {
		case sig := <-r.children:
			r.Handle(sig)
		case sig := <-r.incoming:
			r.Handle(sig)
		}
	}
}

// Handle runs the handler for sig.
func (r *Relay) Handle(sig os.Signal) {
	switch sig {
	case unix.SIGCHLD:
		r.handleChildStatus()

	case unix.SIGINT, unix.SIGTSTP:
		r.forwardToForeground(sig.(unix.Signal))

	case unix.SIGQUIT:
		r.exit(0)

	case unix.SIGTTIN, unix.SIGTTOU:
		// Ignored.

	default:
		r.logger.Debug("unhandled signal", "signal", sig)
	}
}

// Signal sends sig to a single process.
func (r *Relay) Signal(pid int, sig unix.Signal) error {
	return r.kill(pid, sig)
}

// SignalGroup sends sig to every process in the process group pgid.
func (r *Relay) SignalGroup(pgid int, sig unix.Signal) error {
	return r.kill(-pgid, sig)
}

func (r *Relay) handleChildStatus() {
	for {
		pid, status, err := r.reap()
		if err != nil || pid <= 0 {
			return
		}

		switch {
		case status.Exited(), status.Signaled():
			r.changeProcessState(pid, jobmanager.ProcessStateTerminated)
		case status.Stopped():
			r.changeProcessState(pid, jobmanager.ProcessStateStopped)
		case status.Continued():
			r.changeProcessState(pid, jobmanager.ProcessStateRunning)
		}
	}
}

func (r *Relay) changeProcessState(pid int, state jobmanager.ProcessState) {
	job, err := r.table.GetJobWithProcess(pid)
	if err != nil {
		r.logger.Debug("status for untracked process", "pid", pid, "state", state)
		return
	}

	p, ok := job.Process(pid)
	if !ok {
		return
	}

	p.SetState(state)

	r.table.Synchronize(job)

	r.logger.Debug(
		"process state changed",
		"job", job.Num(),
		"id", job.ID(),
		"pid", pid,
		"state", state,
		"live", r.table.ContainsJob(job.Num()),
	)
}

func (r *Relay) forwardToForeground(sig unix.Signal) {
	job, err := r.table.GetForegroundJob()
	if err != nil {
		return
	}

	if err := r.SignalGroup(job.Pgid(), sig); err != nil {
		r.logger.Debug(
			"forward signal to foreground job",
			"job", job.Num(),
			"pgid", job.Pgid(),
			"signal", sig,
			"err", err,
		)
	}
}

func waitAny() (int, unix.WaitStatus, error) {
	var status unix.WaitStatus

	pid, err := unix.Wait4(
		-1,
		&status,
		unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED,
		nil,
	)

	return pid, status, err
}
