package jobmanager

import (
	"strings"
)

// Job is one pipeline invocation. Its processes share the process group of
// the first process and are kept in pipeline order.
type Job struct {
	num       int
	id        string
	pgid      int
	placement Placement
	processes []*Process

	table *Table
}

// Num returns the job number shown to the user.
func (j *Job) Num() int {
	return j.num
}

// ID returns the unique ID of the Job, used to correlate log entries across
// reuse of job numbers.
func (j *Job) ID() string {
	return j.id
}

// Pgid returns the process group id of the Job, i.e. the pid of its first
// process, or 0 if no process has been added yet.
func (j *Job) Pgid() int {
	return j.pgid
}

// Placement returns whether the Job is in the foreground or background.
func (j *Job) Placement() Placement {
	return j.placement
}

// AddProcess appends a running process to the Job and indexes its pid in the
// owning Table. The first process added determines the process group id.
func (j *Job) AddProcess(pid int, command Command) *Process {
	p := &Process{pid: pid, command: command, state: ProcessStateRunning}

	if len(j.processes) == 0 {
		j.pgid = pid
	}

	j.processes = append(j.processes, p)

	if j.table != nil {
		j.table.pids[pid] = j.num
	}

	return p
}

// Processes returns the processes of the Job in pipeline order.
func (j *Job) Processes() []*Process {
	return j.processes
}

// Process returns the process with the given pid.
func (j *Job) Process(pid int) (*Process, bool) {
	for _, p := range j.processes {
		if p.pid == pid {
			return p, true
		}
	}

	return nil, false
}

// ContainsProcess reports whether pid belongs to the Job.
func (j *Job) ContainsProcess(pid int) bool {
	_, ok := j.Process(pid)
	return ok
}

// PIDs returns the process ids of the Job in pipeline order.
func (j *Job) PIDs() []int {
	pids := make([]int, 0, len(j.processes))
	for _, p := range j.processes {
		pids = append(pids, p.pid)
	}

	return pids
}

// Command returns the pipeline text of the Job.
func (j *Job) Command() string {
	commands := make([]string, 0, len(j.processes))
	for _, p := range j.processes {
		commands = append(commands, p.command.String())
	}

	return strings.Join(commands, " | ")
}

func (j *Job) hasState(s ProcessState) bool {
	for _, p := range j.processes {
		if p.state == s {
			return true
		}
	}

	return false
}

// terminated reports whether the Job has no process left that is not
// terminated. A Job without processes counts as terminated.
func (j *Job) terminated() bool {
	for _, p := range j.processes {
		if p.state != ProcessStateTerminated {
			return false
		}
	}

	return true
}
