package jobmanager

type ProcessState int

const (
	// ProcessStateUnknown is the zero value for functions that return a
	// (possibly absent) ProcessState.
	ProcessStateUnknown ProcessState = iota

	// ProcessStateRunning indicates the process has been started or continued.
	ProcessStateRunning

	// ProcessStateStopped indicates the process was stopped by a signal, e.g.
	// SIGTSTP from the terminal.
	ProcessStateStopped

	// ProcessStateTerminated indicates the process exited or was killed by a
	// signal and has been reaped.
	ProcessStateTerminated
)

// NOTE: This slice needs to be kept in sync with the ProcessState values.
var processStates = []string{
	"Unknown",
	"Running",
	"Stopped",
	"Terminated",
}

// String implements the Stringer interface for ProcessState.
func (s ProcessState) String() string {
	if int(s) < 0 || int(s) >= len(processStates) {
		return processStates[0]
	}

	return processStates[s]
}

// Placement is whether a Job owns the terminal and blocks the prompt.
type Placement int

const (
	PlacementBackground Placement = iota
	PlacementForeground
)

var placements = []string{
	"Background",
	"Foreground",
}

func (p Placement) String() string {
	if int(p) < 0 || int(p) >= len(placements) {
		return "Unknown"
	}

	return placements[p]
}
