package workflow

import "time"

const defaultCheckpointPollInterval = 100 * time.Millisecond

// NewNoOpTask returns a task whose Step raises the interrupt immediately,
// i.e. a zero-work slot.
func NewNoOpTask(name string) Task {
	if name == "" {
		name = "No-Op Task"
	}
	return NewTaskCore(name, func(tc *TaskCore, ctx TaskContext) error {
		return ErrTaskInterrupted
	})
}

// NewCheckpointTask returns a task whose Step blocks cooperatively until
// Stop is signalled, then ends. Useful as an explicit pause barrier in a
// task sequence: nothing advances past it until a controller thread calls
// workflow.Next/JumpTo/EndIteration/Stop (such calls from a hook are
// refused).
func NewCheckpointTask(name string) Task {
	if name == "" {
		name = "Checkpoint Task"
	}
	return NewTaskCore(name, func(tc *TaskCore, ctx TaskContext) error {
		return tc.Wait(defaultCheckpointPollInterval)
	})
}

// ConditionalTask evaluates a predicate once and records which task index
// the engine should jump to next. The engine inspects NextTaskIdx after
// the task ends (see the driver loop in workflow.go) and jumps there
// instead of advancing to the next task in sequence; this couples
// ConditionalTask to the engine by design (spec §4.1/§9).
type ConditionalTask struct {
	*TaskCore

	condition func(ctx TaskContext) bool
	thenIdx   int
	elseIdx   *int

	nextTaskIdx *int
}

// NewConditionalTask builds a ConditionalTask. If the condition is false
// and elseIdx is nil, the workflow proceeds to the next task in sequence.
func NewConditionalTask(name string, condition func(ctx TaskContext) bool, thenIdx int, elseIdx *int) *ConditionalTask {
	c := &ConditionalTask{
		condition: condition,
		thenIdx:   thenIdx,
		elseIdx:   elseIdx,
	}
	c.TaskCore = NewTaskCore(name, c.step)
	return c
}

// NextTaskIdx is the index the engine should jump to after this task ends.
// It is nil until the task has executed once, and nil after a run whose
// condition was false with no else index.
func (c *ConditionalTask) NextTaskIdx() *int {
	return c.nextTaskIdx
}

func (c *ConditionalTask) step(tc *TaskCore, ctx TaskContext) error {
	if c.condition(ctx) {
		idx := c.thenIdx
		c.nextTaskIdx = &idx
	} else {
		c.nextTaskIdx = c.elseIdx
	}
	tc.Stop()
	return nil
}

// WaitUntilTask polls a predicate on an interval, ending the task once it
// returns true.
type WaitUntilTask struct {
	*TaskCore

	condition    func(ctx TaskContext) bool
	pollInterval time.Duration
}

// NewWaitUntilTask builds a WaitUntilTask. pollInterval defaults to 100ms
// if zero or negative.
func NewWaitUntilTask(name string, condition func(ctx TaskContext) bool, pollInterval time.Duration) *WaitUntilTask {
	if pollInterval <= 0 {
		pollInterval = defaultCheckpointPollInterval
	}
	w := &WaitUntilTask{
		condition:    condition,
		pollInterval: pollInterval,
	}
	w.TaskCore = NewTaskCore(name, w.step)
	return w
}

func (w *WaitUntilTask) step(tc *TaskCore, ctx TaskContext) error {
	if w.condition(ctx) {
		tc.Stop()
		return nil
	}
	return tc.Wait(w.pollInterval)
}
