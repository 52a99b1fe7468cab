package workflow

// Hooks is the observer interface for workflow lifecycle events. All
// methods default to no-ops via NoOpHooks; embed NoOpHooks to implement
// only the callbacks you need.
//
// Every hook executes synchronously, on the thread that triggered the
// event, while the engine's lock is held. A hook must never call a
// control operation (Run, Start, Stop, Next, JumpTo, EndIteration, Pause,
// Resume, Toggle) on its own Workflow: the engine detects this via an
// internal "in hook" flag, logs a warning, and makes the call a no-op
// rather than deadlocking or corrupting state.
type Hooks interface {
	// OnWorkflowStart fires once, after context init, before the first task.
	OnWorkflowStart(ctx HookContext)
	// OnWorkflowEnd fires once, during cleanup, regardless of cause.
	OnWorkflowEnd(ctx HookContext)
	// OnIterationStart fires at the start of iteration i, before any tasks
	// in that iteration run.
	OnIterationStart(i int, ctx HookContext)
	// OnIterationEnd fires after the last task of iteration i ends.
	OnIterationEnd(i int, ctx HookContext)
	// OnTaskStart fires immediately before task.Run.
	OnTaskStart(task Task, ctx TaskContext)
	// OnTaskEnd fires immediately after task.Run returns.
	OnTaskEnd(task Task, ctx TaskContext)
	// OnCurrentTaskChange fires after any change to the current task
	// pointer: Next, JumpTo, iteration wrap, or reaching the final task
	// (curr == nil).
	OnCurrentTaskChange(prev, curr Task, ctx HookContext)
	// OnPause fires on a successful RUNNING -> PAUSED transition.
	OnPause(ctx HookContext)
	// OnResume fires on a successful PAUSED -> RUNNING transition.
	OnResume(ctx HookContext)
}

// NoOpHooks implements Hooks with every method a no-op. Embed it in a
// struct to override only the callbacks you care about.
type NoOpHooks struct{}

func (NoOpHooks) OnWorkflowStart(ctx HookContext)                      {}
func (NoOpHooks) OnWorkflowEnd(ctx HookContext)                        {}
func (NoOpHooks) OnIterationStart(i int, ctx HookContext)              {}
func (NoOpHooks) OnIterationEnd(i int, ctx HookContext)                {}
func (NoOpHooks) OnTaskStart(task Task, ctx TaskContext)               {}
func (NoOpHooks) OnTaskEnd(task Task, ctx TaskContext)                 {}
func (NoOpHooks) OnCurrentTaskChange(prev, curr Task, ctx HookContext) {}
func (NoOpHooks) OnPause(ctx HookContext)                              {}
func (NoOpHooks) OnResume(ctx HookContext)                             {}
