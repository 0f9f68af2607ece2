package jobmanager

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
)

// Table is the registry of live Jobs. It is not safe for concurrent use; it
// belongs to the goroutine running the shell's main loop.
type Table struct {
	jobs map[int]*Job

	// pids maps a process id to the number of the Job that owns it.
	pids map[int]int
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{
		jobs: make(map[int]*Job),
		pids: make(map[int]int),
	}
}

// AddJob registers a new, empty Job under the smallest unused job number. A
// Job added in the foreground moves any other foreground Job to the
// background.
func (t *Table) AddJob(placement Placement) *Job {
	num := 1
	for t.ContainsJob(num) {
		num++
	}

	j := &Job{
		num:       num,
		id:        uuid.NewString(),
		placement: PlacementBackground,
		table:     t,
	}

	t.jobs[num] = j

	if placement == PlacementForeground {
		t.MoveToForeground(j)
	}

	return j
}

// GetJob returns the Job with the given number or ErrJobNotFound.
func (t *Table) GetJob(num int) (*Job, error) {
	j, exists := t.jobs[num]
	if !exists {
		return nil, fmt.Errorf("job %d: %w", num, ErrJobNotFound)
	}

	return j, nil
}

// GetJobWithProcess returns the Job owning pid or ErrJobNotFound.
func (t *Table) GetJobWithProcess(pid int) (*Job, error) {
	num, exists := t.pids[pid]
	if !exists {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrJobNotFound)
	}

	return t.GetJob(num)
}

// ContainsJob reports whether a live Job has the given number.
func (t *Table) ContainsJob(num int) bool {
	_, exists := t.jobs[num]
	return exists
}

// ContainsProcess reports whether pid belongs to a live Job.
func (t *Table) ContainsProcess(pid int) bool {
	_, exists := t.pids[pid]
	return exists
}

// HasForegroundJob reports whether any Job is in the foreground.
func (t *Table) HasForegroundJob() bool {
	_, err := t.GetForegroundJob()
	return err == nil
}

// GetForegroundJob returns the foreground Job or ErrNoForegroundJob.
func (t *Table) GetForegroundJob() (*Job, error) {
	for _, j := range t.jobs {
		if j.placement == PlacementForeground {
			return j, nil
		}
	}

	return nil, ErrNoForegroundJob
}

// IsForeground reports whether j is live and in the foreground.
func (t *Table) IsForeground(j *Job) bool {
	fg, err := t.GetForegroundJob()
	return err == nil && fg == j
}

// MoveToForeground places j in the foreground. Any other foreground Job is
// moved to the background so that at most one Job is ever in the foreground.
func (t *Table) MoveToForeground(j *Job) {
	for _, other := range t.jobs {
		if other != j && other.placement == PlacementForeground {
			other.placement = PlacementBackground
		}
	}

	j.placement = PlacementForeground
}

// MoveToBackground places j in the background.
func (t *Table) MoveToBackground(j *Job) {
	j.placement = PlacementBackground
}

// Synchronize re-evaluates j after a process state change. A Job whose
// processes are all terminated is removed and its number freed. A foreground
// Job with no running process left (e.g. stopped from the terminal) is moved
// to the background. Synchronize is the only way Jobs leave the Table.
func (t *Table) Synchronize(j *Job) {
	if t.jobs[j.num] != j {
		return
	}

	if j.terminated() {
		for _, p := range j.processes {
			delete(t.pids, p.pid)
		}

		delete(t.jobs, j.num)

		return
	}

	if j.placement == PlacementForeground && !j.hasState(ProcessStateRunning) {
		j.placement = PlacementBackground
	}
}

// Jobs returns the live Jobs in ascending job number order.
func (t *Table) Jobs() []*Job {
	jobs := make([]*Job, 0, len(t.jobs))
	for _, num := range slices.Sorted(maps.Keys(t.jobs)) {
		jobs = append(jobs, t.jobs[num])
	}

	return jobs
}

// Len returns the number of live Jobs.
func (t *Table) Len() int {
	return len(t.jobs)
}

// List writes one line per live Job, in ascending job number order, with the
// placement, the pid and state of each process, and the pipeline text.
func (t *Table) List(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, j := range t.Jobs() {
		states := make([]string, 0, len(j.processes))
		for _, p := range j.processes {
			states = append(states, fmt.Sprintf("%d %s", p.pid, p.state))
		}

		fmt.Fprintf(
			tw,
			"[%d]\t%s\t%s\t%s\n",
			j.num,
			j.placement,
			strings.Join(states, ", "),
			j.Command(),
		)
	}

	return tw.Flush()
}
