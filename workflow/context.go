package workflow

import (
	"time"

	"k8s.io/utils/clock"
)

// Meta is the immutable per-run descriptor of a workflow run. It is
// produced once when a run is initialised and never mutated afterwards.
type Meta struct {
	WorkflowName string
	RunID        string
	StartedAt    time.Time
	Loop         bool
}

// Runtime holds the mutable per-run counters and pointers that the engine
// maintains as it drives tasks. Tasks and hooks never see *Runtime
// directly; they see a RuntimeView.
type Runtime struct {
	// CurrentTaskIdx is the index of the task currently executing, or next
	// to execute. It is nil after the final task when the workflow is not
	// looping.
	CurrentTaskIdx *int
	PrevTaskIdx    *int

	Iteration     int
	TasksExecuted int

	// TaskStartedAt is the time on_task_start fired for the current task.
	// It is nil outside task execution.
	TaskStartedAt *time.Time
}

// Context is the engine-owned aggregate of a workflow run: immutable
// metadata, mutable runtime counters, and the two user-facing data
// channels (Persistent, Transient). The engine never reads the contents
// of Persistent or Transient; concurrent mutation of either is the
// caller's responsibility.
type Context struct {
	Meta    Meta
	Runtime Runtime

	// Persistent survives iteration boundaries.
	Persistent map[string]any
	// Transient is cleared on iteration wrap, or on an explicit
	// jump_to(..., resetTransient=true).
	Transient map[string]any

	clock clock.Clock
}

func newContext(clk clock.Clock, workflowName, runID string, loop bool) *Context {
	return &Context{
		Meta: Meta{
			WorkflowName: workflowName,
			RunID:        runID,
			StartedAt:    clk.Now(),
			Loop:         loop,
		},
		Runtime:    Runtime{},
		Persistent: make(map[string]any),
		Transient:  make(map[string]any),
		clock:      clk,
	}
}

// ResetTransient clears the transient map.
func (c *Context) ResetTransient() {
	clear(c.Transient)
}

// ResetAll reinitialises Runtime and clears both Persistent and Transient.
// The engine itself never calls this internally (it is not part of the
// driver's lifecycle); it exists for callers that reuse a *Workflow across
// unrelated runs and want a hard reset from a hook.
func (c *Context) ResetAll() {
	c.Runtime = Runtime{}
	clear(c.Persistent)
	clear(c.Transient)
}

// RuntimeView is a read-only projection of Runtime.
type RuntimeView interface {
	CurrentTaskIdx() *int
	PrevTaskIdx() *int
	Iteration() int
	IsFirstIteration() bool
	TasksExecuted() int
}

type runtimeView struct {
	ctx *Context
}

func (v runtimeView) CurrentTaskIdx() *int    { return v.ctx.Runtime.CurrentTaskIdx }
func (v runtimeView) PrevTaskIdx() *int       { return v.ctx.Runtime.PrevTaskIdx }
func (v runtimeView) Iteration() int          { return v.ctx.Runtime.Iteration }
func (v runtimeView) IsFirstIteration() bool  { return v.ctx.Runtime.Iteration == 0 }
func (v runtimeView) TasksExecuted() int      { return v.ctx.Runtime.TasksExecuted }

// TaskRuntimeView is the RuntimeView exposed inside a TaskContext. Unlike
// HookRuntimeView, it guarantees TaskStartedAt is non-zero: accessing it
// outside a running task is a programmer error.
type TaskRuntimeView struct {
	runtimeView
}

// TaskStartedAt returns the time on_task_start fired for the task this
// view was handed to. It panics if no start time is recorded. The engine
// sets the time before it builds a TaskContext and clears it right after
// OnTaskEnd fires, so a task that keeps running after Next, JumpTo,
// EndIteration or Stop has cut it short (its remaining step, or its
// OnEnd) panics if it calls this.
func (v TaskRuntimeView) TaskStartedAt() time.Time {
	start := v.ctx.Runtime.TaskStartedAt
	if start == nil {
		panic("workflow: task_started_at accessed when no task is running")
	}
	return *start
}

// HookRuntimeView is the RuntimeView exposed inside a HookContext.
type HookRuntimeView struct {
	runtimeView
}

// ExecutionContext is the restricted, read-only-in-parts projection of a
// Context handed to tasks and hooks. TaskContext and HookContext are its
// two concrete variants, differing only in which RuntimeView they expose.
type ExecutionContext[R RuntimeView] struct {
	ctx     *Context
	state   State
	runtime R
}

func (c ExecutionContext[R]) Meta() Meta          { return c.ctx.Meta }
func (c ExecutionContext[R]) Runtime() R          { return c.runtime }
func (c ExecutionContext[R]) Persistent() map[string]any { return c.ctx.Persistent }
func (c ExecutionContext[R]) Transient() map[string]any  { return c.ctx.Transient }
func (c ExecutionContext[R]) State() State        { return c.state }
func (c ExecutionContext[R]) IsPaused() bool       { return c.state == StatePaused }

// TaskContext is the context handed to a Task's on_start/on_end/step.
type TaskContext = ExecutionContext[TaskRuntimeView]

// HookContext is the context handed to every Hooks method.
type HookContext = ExecutionContext[HookRuntimeView]

func newTaskContext(ctx *Context, state State) TaskContext {
	return ExecutionContext[TaskRuntimeView]{ctx: ctx, state: state, runtime: TaskRuntimeView{runtimeView{ctx}}}
}

func newHookContext(ctx *Context, state State) HookContext {
	return ExecutionContext[HookRuntimeView]{ctx: ctx, state: state, runtime: HookRuntimeView{runtimeView{ctx}}}
}
