package workflow

import (
	"io"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/junkaizhang8/automacro/workflow/internal/logger"
)

// Task is the polymorphic unit of work the engine drives: a name, a
// cooperative Run, and the ability to be signalled to stop from any
// goroutine. *TaskCore implements Task directly; NewNoOpTask and
// NewCheckpointTask return a bare *TaskCore, while ConditionalTask,
// WaitUntilTask and user-defined tasks embed a *TaskCore. All customise
// behaviour via the step function passed to
// NewTaskCore, rather than by overriding a method (embedding does not
// give virtual dispatch in Go, so Run must be the one place that knows
// how to advance a task).
type Task interface {
	Name() string
	Run(ctx TaskContext) error
	Stop()
	IsRunning() bool
}

// StepFunc is one iteration of a task's loop body. Implementations may
// call tc.CheckStopped or tc.Wait to cooperate with Stop; either panics-
// free alternative is to simply return ErrTaskInterrupted to end the task.
type StepFunc func(tc *TaskCore, ctx TaskContext) error

// TaskCore implements the cooperative stop/wait machinery and the run loop
// shared by every task, built-in or user-defined. Embed it in a struct
// to build a custom task; use NewTask directly for the common case of a
// task with no extra state beyond its step function.
type TaskCore struct {
	name string

	clock  clock.Clock
	log    logger.Logger

	onStart func(ctx TaskContext)
	onEnd   func(ctx TaskContext)
	step    StepFunc

	mu        sync.Mutex
	running   bool
	interrupt chan struct{}

	workflowName string
	runID        string
}

// TaskOption configures a TaskCore at construction.
type TaskOption func(*TaskCore)

// WithOnStart sets the hook run once before the first Step.
func WithOnStart(fn func(ctx TaskContext)) TaskOption {
	return func(tc *TaskCore) { tc.onStart = fn }
}

// WithOnEnd sets the hook that always runs before Run returns, including
// on an interrupted or erroring step.
func WithOnEnd(fn func(ctx TaskContext)) TaskOption {
	return func(tc *TaskCore) { tc.onEnd = fn }
}

// WithTaskClock overrides the clock.Clock a task uses for Wait. Intended
// for tests driving a clocktesting.FakeClock.
func WithTaskClock(c clock.Clock) TaskOption {
	return func(tc *TaskCore) { tc.clock = c }
}

// WithTaskLogWriter overrides where a task's own lifecycle logs go.
func WithTaskLogWriter(w io.Writer) TaskOption {
	return func(tc *TaskCore) { tc.log = logger.New(w) }
}

// NewTaskCore builds the shared machinery for a task named name, whose
// loop body is step.
func NewTaskCore(name string, step StepFunc, opts ...TaskOption) *TaskCore {
	tc := &TaskCore{
		name:  name,
		clock: clock.RealClock{},
		log:   logger.New(io.Discard),
		step:  step,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// NewTask returns a plain Task whose only behaviour is step - the common
// case for a user-defined task with no extra fields.
func NewTask(name string, step StepFunc, opts ...TaskOption) Task {
	return NewTaskCore(name, step, opts...)
}

func (tc *TaskCore) Name() string { return tc.name }

func (tc *TaskCore) logFields() map[string]any {
	kv := map[string]any{"task": tc.name}
	if tc.workflowName != "" {
		kv["workflow"] = tc.workflowName
		kv["run_id"] = tc.runID
	}
	return kv
}

// Run executes OnStart, then repeatedly invokes step until Stop is
// called or step returns ErrTaskInterrupted. OnEnd always runs before Run
// returns, including after a non-interrupt error. Not safe to call
// concurrently on the same instance; a redundant call while already
// running is logged and is a no-op.
func (tc *TaskCore) Run(ctx TaskContext) error {
	tc.mu.Lock()
	if tc.running {
		tc.log.Info("Task is already running", tc.logFields())
		tc.mu.Unlock()
		return nil
	}
	tc.workflowName = ctx.Meta().WorkflowName
	tc.runID = ctx.Meta().RunID
	tc.running = true
	tc.interrupt = make(chan struct{})
	tc.mu.Unlock()

	tc.log.Info("Starting task", tc.logFields())

	defer func() {
		tc.mu.Lock()
		tc.running = false
		tc.workflowName = ""
		tc.runID = ""
		tc.mu.Unlock()
		if tc.onEnd != nil {
			tc.onEnd(ctx)
		}
	}()

	if tc.onStart != nil {
		tc.onStart(ctx)
	}

	for {
		err := tc.step(tc, ctx)
		if err != nil {
			if errors.Is(err, ErrTaskInterrupted) {
				return nil
			}
			return err
		}
		if !tc.IsRunning() {
			return nil
		}
	}
}

// Stop signals the task to stop. Idempotent, thread-safe, non-blocking.
func (tc *TaskCore) Stop() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.running {
		return
	}
	tc.log.Info("Stopping task", tc.logFields())
	tc.running = false
	close(tc.interrupt)
}

// IsRunning is the negation of the stop flag.
func (tc *TaskCore) IsRunning() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.running
}

// CheckStopped returns ErrTaskInterrupted if Stop has already been
// called; nil otherwise. Intended to be called from within a StepFunc.
func (tc *TaskCore) CheckStopped() error {
	if !tc.IsRunning() {
		return ErrTaskInterrupted
	}
	return nil
}

// Wait blocks for up to d, returning early with ErrTaskInterrupted if Stop
// is called first.
func (tc *TaskCore) Wait(d time.Duration) error {
	tc.mu.Lock()
	ch := tc.interrupt
	running := tc.running
	clk := tc.clock
	tc.mu.Unlock()

	if !running {
		return ErrTaskInterrupted
	}

	timer := clk.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return ErrTaskInterrupted
	case <-timer.C():
		if !tc.IsRunning() {
			return ErrTaskInterrupted
		}
		return nil
	}
}
