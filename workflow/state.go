package workflow

// State describes where a workflow run is in its lifecycle.
//
// A WorkflowContext exists if and only if State is RUNNING, PAUSED or
// STOPPING; it is nil while IDLE.
type State int

const (
	// StateIdle is the state of a Workflow that has never run, or whose
	// previous run finished cleanup. A context exists iff state is not Idle.
	StateIdle State = iota
	// StateRunning means the driver loop is actively advancing tasks.
	StateRunning
	// StatePaused means the driver loop does not start another task; it
	// blocks on the condition variable once any task that was already
	// executing when the pause began has returned.
	StatePaused
	// StateStopping is the terminal-for-the-run state: control operations
	// are refused, but the driver loop is finishing its teardown.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}
