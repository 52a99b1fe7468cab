package workflow

import (
	"fmt"

	"github.com/luno/jettison/errors"
)

// ErrTaskInterrupted is the internal sentinel a Task's cooperative
// primitives (CheckStopped, Wait) raise to unwind step() when the task's
// stop flag has been signalled. It never escapes Task.Run.
var ErrTaskInterrupted = errors.New("workflow: task interrupted")

// ErrWorkflowNotRunning is logged by control operations that require the
// workflow to be RUNNING or PAUSED when they are called outside a run.
var ErrWorkflowNotRunning = errors.New("workflow: not running")

// ErrContextNotInitialised guards Context accessors used outside a run; it
// indicates a programmer error, not a user-visible failure in normal
// operation.
var ErrContextNotInitialised = errors.New("workflow: context not initialised")

// InvalidTaskJumpError is raised when a caller (internal or external)
// requests a jump to an out-of-range task index. Jumps requested by
// external controller threads are logged and rejected without terminating
// the run; jumps produced by a ConditionalTask are fatal to the run (see
// InvalidConditionalIndexError).
type InvalidTaskJumpError struct {
	Index int
}

func (e *InvalidTaskJumpError) Error() string {
	return fmt.Sprintf("workflow: invalid jump to task index %d", e.Index)
}

// InvalidConditionalIndexError is raised when a ConditionalTask yields a
// next-task index that is out of range. It is always fatal to the run.
type InvalidConditionalIndexError struct {
	TaskName string
	Index    int
}

func (e *InvalidConditionalIndexError) Error() string {
	return fmt.Sprintf("workflow: invalid task index from ConditionalTask (%s): %d", e.TaskName, e.Index)
}
