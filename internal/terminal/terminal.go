// Package terminal hands the controlling terminal between the shell's process
// group and the process group of a foreground job.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrTerminalControl is returned when ownership of the terminal could not be
// transferred for a reason other than the file not being a terminal.
var ErrTerminalControl = errors.New("terminal control failed")

// Controller transfers ownership of the terminal open on fd.
type Controller struct {
	fd        int
	shellPgid int
}

// NewController creates a Controller for f, typically os.Stdin. The process
// group of the calling process is the group that Reclaim restores.
func NewController(f *os.File) *Controller {
	return &Controller{
		fd:        int(f.Fd()),
		shellPgid: unix.Getpgrp(),
	}
}

// IsTerminal reports whether the Controller's file is a terminal.
func (c *Controller) IsTerminal() bool {
	return term.IsTerminal(c.fd)
}

// Ctty returns the terminal descriptor for a child that puts its own
// process group in the foreground before exec, and whether there is a
// terminal at all. The descriptor is numbered as in the shell, which is what
// SysProcAttr.Foreground expects.
func (c *Controller) Ctty() (int, bool) {
	return c.fd, c.IsTerminal()
}

// ShellPgid returns the process group the terminal is reclaimed for.
func (c *Controller) ShellPgid() int {
	return c.shellPgid
}

// Give makes pgid the foreground process group of the terminal.
func (c *Controller) Give(pgid int) error {
	return c.transfer(pgid)
}

// Reclaim makes the shell's process group the foreground process group of the
// terminal again.
func (c *Controller) Reclaim() error {
	return c.transfer(c.shellPgid)
}

// transfer calls tcsetpgrp with SIGTTOU blocked on the calling thread. A
// process that is not in the foreground group is otherwise stopped by
// SIGTTOU when it tries to take the terminal back.
func (c *Controller) transfer(pgid int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var block, old unix.Sigset_t
	block.Val[0] |= 1 << (uint(unix.SIGTTOU) - 1)

	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &block, &old); err != nil {
		return fmt.Errorf("%w: block SIGTTOU: %w", ErrTerminalControl, err)
	}

	err := unix.IoctlSetPointerInt(c.fd, unix.TIOCSPGRP, pgid)

	if restoreErr := unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil); restoreErr != nil {
		return fmt.Errorf("%w: restore signal mask: %w", ErrTerminalControl, restoreErr)
	}

	if err != nil && !errors.Is(err, unix.ENOTTY) {
		return fmt.Errorf("%w: tcsetpgrp %d: %w", ErrTerminalControl, pgid, err)
	}

	return nil
}
