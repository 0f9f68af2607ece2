package jobmanager

import (
	"github.com/kballard/go-shellquote"
)

// Command is the executable name and argument tokens a process was launched
// with.
type Command struct {
	Name   string
	Tokens []string
}

// String returns the command as it could be typed back into the shell.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Tokens...)...)
}

// Process is one OS process belonging to a Job.
type Process struct {
	pid     int
	command Command
	state   ProcessState
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.pid
}

// Command returns the command the process was launched with.
func (p *Process) Command() Command {
	return p.command
}

// State returns the last known state of the process.
func (p *Process) State() ProcessState {
	return p.state
}

// SetState records a state change reported for the process. Callers should
// follow it with Table.Synchronize on the owning Job.
func (p *Process) SetState(s ProcessState) {
	p.state = s
}
