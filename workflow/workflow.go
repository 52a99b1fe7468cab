// Package workflow is an in-process, multi-threaded state machine that
// drives a linear sequence of tasks through start, run, pause/resume,
// control-flow redirection, iteration looping, and clean shutdown, while
// publishing lifecycle events to optional hooks.
package workflow

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/junkaizhang8/automacro/workflow/internal/logger"
	"github.com/junkaizhang8/automacro/workflow/internal/metrics"
	"github.com/junkaizhang8/automacro/workflow/internal/rmutex"
)

// Workflow is a runtime engine that drives a fixed sequence of Tasks. A
// Workflow value is reusable across runs (Run/Start may be called again
// once a previous run has returned to StateIdle), but at most one run may
// be active at a time.
type Workflow struct {
	name  string
	loop  bool
	tasks []Task
	hooks Hooks

	clock     clock.Clock
	logger    logger.Logger
	debugMode bool

	// mu is reentrant because hooks run synchronously, with mu held, on
	// whatever goroutine triggered them - a hook that calls back into a
	// control method (the reentrancy §9 guards against) must be able to
	// re-acquire mu on that same goroutine to reach checkInHookLocked
	// rather than deadlocking on itself.
	mu   rmutex.Mutex
	cond *sync.Cond

	state          State
	currentTaskIdx int
	ctx            *Context

	externReq bool
	inHook    bool

	running bool
	doneCh  chan struct{}
}

// Option configures a Workflow at construction, via New or Builder.
type Option func(*Workflow)

// WithLoop makes the workflow wrap back to the first task after the last
// task ends, instead of stopping.
func WithLoop(loop bool) Option {
	return func(w *Workflow) { w.loop = loop }
}

// WithHooks attaches a lifecycle observer. The default is NoOpHooks.
func WithHooks(h Hooks) Option {
	return func(w *Workflow) { w.hooks = h }
}

// WithClock overrides the clock.Clock used for timestamps. Intended for
// tests driving a clocktesting.FakeClock.
func WithClock(c clock.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

// WithLogger overrides the default logger, which otherwise writes
// structured text records to os.Stdout via internal/logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithLogWriter is a convenience for routing the default slog-backed
// logger to a specific io.Writer (os.Stdout by default).
func WithLogWriter(w io.Writer) Option {
	return func(wf *Workflow) { wf.logger = logger.New(w) }
}

// WithDebugMode turns on verbose lifecycle tracing (task start/end,
// iteration boundaries, pause/resume) at Info level. Without it, only
// warnings and errors are logged - the same terse-by-default/verbose-
// when-asked split the teacher's own WithDebugMode option makes.
func WithDebugMode() Option {
	return func(w *Workflow) { w.debugMode = true }
}

// New builds a Workflow over a defensive copy of tasks.
func New(tasks []Task, name string, opts ...Option) *Workflow {
	w := &Workflow{
		name:   name,
		tasks:  append([]Task(nil), tasks...),
		hooks:  NoOpHooks{},
		clock:  clock.RealClock{},
		logger: logger.New(os.Stdout),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name is the workflow's configured name.
func (w *Workflow) Name() string { return w.name }

// Loop reports whether the workflow wraps back to the first task on
// completion.
func (w *Workflow) Loop() bool { return w.loop }

func (w *Workflow) isRunningLocked() bool {
	return w.state == StateRunning || w.state == StatePaused
}

func (w *Workflow) isPausedLocked() bool {
	return w.state == StatePaused
}

func (w *Workflow) isValidTaskIndex(idx int) bool {
	n := len(w.tasks)
	return idx >= -n && idx < n
}

func (w *Workflow) normalizeIdx(idx int) int {
	if idx < 0 {
		return idx + len(w.tasks)
	}
	return idx
}

func (w *Workflow) runID() string {
	if w.ctx == nil {
		return ""
	}
	return w.ctx.Meta.RunID
}

func (w *Workflow) logFields(extra map[string]any) map[string]any {
	kv := map[string]any{"workflow": w.name}
	if id := w.runID(); id != "" {
		kv["run_id"] = id
	}
	for k, v := range extra {
		kv[k] = v
	}
	return kv
}

// debugLog emits msg at Info level only when WithDebugMode is set; it is
// used for the high-volume lifecycle tracing (task/iteration boundaries,
// pause/resume) that WithDebugMode exists to gate, as opposed to warnings
// and errors, which always log.
func (w *Workflow) debugLog(msg string, kv map[string]any) {
	if !w.debugMode {
		return
	}
	w.logger.Info(msg, w.logFields(kv))
}

// contextLocked is the guarded accessor for w.ctx: it returns
// ErrContextNotInitialised instead of a nil *Context. Most callers are
// already inside an isRunningLocked() branch and never see the error;
// Toggle calls it before looking at the state, so a Toggle outside a run
// takes this error path and logs it.
func (w *Workflow) contextLocked() (*Context, error) {
	if w.ctx == nil {
		return nil, ErrContextNotInitialised
	}
	return w.ctx, nil
}

// checkInHookLocked logs and returns true if called while a hook is
// executing - a control operation invoked from inside a hook is refused
// rather than risking deadlock or scrambled state (spec invariant 5).
func (w *Workflow) checkInHookLocked(op string) bool {
	if !w.inHook {
		return false
	}
	w.logger.Warn("cannot call control operation from inside a hook", w.logFields(map[string]any{"operation": op}))
	metrics.HookReentrancyRejections.WithLabelValues(w.name, op).Inc()
	return true
}

// runHookLocked runs fn with inHook set, guaranteeing it is cleared
// afterwards even if fn panics. Must be called with mu held.
func (w *Workflow) runHookLocked(fn func()) {
	w.inHook = true
	defer func() { w.inHook = false }()
	fn()
}

func (w *Workflow) initContext() {
	if w.ctx == nil {
		w.ctx = newContext(w.clock, w.name, uuid.New().String()[:8], w.loop)
		zero := 0
		w.ctx.Runtime.CurrentTaskIdx = &zero
	}
}

// initRunLocked attempts to transition IDLE -> RUNNING. It refuses (returns
// false) if a run is already active or cleanup from a previous run is still
// pending; only the pending-cleanup case logs a warning.
func (w *Workflow) initRunLocked() bool {
	if w.isRunningLocked() {
		return false
	}
	if w.state == StateStopping {
		w.logger.Warn("previous workflow run is still cleaning up, cannot start a new run", w.logFields(nil))
		return false
	}
	w.currentTaskIdx = 0
	w.state = StateRunning
	metrics.ActiveWorkflows.WithLabelValues(w.name).Inc()
	return true
}

func (w *Workflow) cleanupRunLocked() {
	if w.state != StateStopping {
		return
	}
	w.state = StateIdle
	w.currentTaskIdx = 0
	w.externReq = false
	w.debugLog("workflow completed", nil)
	w.ctx = nil
	metrics.ActiveWorkflows.WithLabelValues(w.name).Dec()
}

// onTaskEndLocked bundles the three things that happen when a task
// finishes: incrementing the executed-task counter, firing OnTaskEnd, and
// clearing TaskStartedAt. It is the single place this bundle happens,
// whether a task ended naturally (called from the driver loop) or was cut
// short by a control operation (called from stopCurrentTaskLocked) -
// never both, which is what keeps OnTaskStart/OnTaskEnd paired 1:1.
func (w *Workflow) onTaskEndLocked(task Task) {
	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot end task", w.logFields(map[string]any{"task": task.Name()}))
		return
	}
	ctx.Runtime.TasksExecuted++
	metrics.TasksExecuted.WithLabelValues(w.name, task.Name()).Inc()
	w.runHookLocked(func() {
		w.hooks.OnTaskEnd(task, newTaskContext(ctx, w.state))
	})
	ctx.Runtime.TaskStartedAt = nil
}

func (w *Workflow) stopCurrentTaskLocked() {
	if !w.isRunningLocked() {
		return
	}
	if !w.isValidTaskIndex(w.currentTaskIdx) {
		return
	}
	task := w.tasks[w.currentTaskIdx]
	if !task.IsRunning() {
		return
	}
	task.Stop()
	w.onTaskEndLocked(task)
}

func (w *Workflow) currentTaskLocked() Task {
	if w.isValidTaskIndex(w.currentTaskIdx) {
		return w.tasks[w.currentTaskIdx]
	}
	return nil
}

func (w *Workflow) nextLocked() {
	if !w.isRunningLocked() {
		w.logger.Exception(ErrWorkflowNotRunning, "cannot advance to next task", w.logFields(nil))
		return
	}

	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot advance to next task", w.logFields(nil))
		return
	}
	w.stopCurrentTaskLocked()

	prev := w.currentTaskLocked()
	prevIdx := w.currentTaskIdx
	nextIdx := w.currentTaskIdx + 1

	if nextIdx >= len(w.tasks) || !w.isValidTaskIndex(prevIdx) {
		w.onIterationEndLocked()
		return
	}

	ctx.Runtime.PrevTaskIdx = &prevIdx
	ctx.Runtime.CurrentTaskIdx = &nextIdx
	w.currentTaskIdx = nextIdx

	curr := w.tasks[w.currentTaskIdx]
	w.runHookLocked(func() {
		w.hooks.OnCurrentTaskChange(prev, curr, newHookContext(ctx, w.state))
	})
	w.cond.Broadcast()
}

func (w *Workflow) jumpToLocked(idx int, resetTransient bool) {
	if !w.isRunningLocked() {
		w.logger.Exception(ErrWorkflowNotRunning, "cannot jump to task", w.logFields(nil))
		return
	}

	if !w.isValidTaskIndex(idx) {
		w.logger.Exception(&InvalidTaskJumpError{Index: idx}, "invalid task index for jump_to", w.logFields(nil))
		return
	}

	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot jump to task", w.logFields(nil))
		return
	}
	w.stopCurrentTaskLocked()

	prev := w.currentTaskLocked()

	canonical := w.normalizeIdx(idx)
	prevIdx := w.currentTaskIdx
	ctx.Runtime.PrevTaskIdx = &prevIdx
	ctx.Runtime.CurrentTaskIdx = &canonical
	w.currentTaskIdx = canonical

	if resetTransient {
		ctx.ResetTransient()
	}

	curr := w.tasks[w.currentTaskIdx]
	w.runHookLocked(func() {
		w.hooks.OnCurrentTaskChange(prev, curr, newHookContext(ctx, w.state))
	})
	w.cond.Broadcast()
}

// onIterationEndLocked fires OnIterationEnd, then either stops the run (no
// loop) or wraps back to task 0, clearing transient state and firing
// OnIterationStart / OnCurrentTaskChange for the new iteration.
func (w *Workflow) onIterationEndLocked() {
	if !w.isRunningLocked() {
		return
	}

	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot end iteration", w.logFields(nil))
		return
	}
	w.runHookLocked(func() {
		w.hooks.OnIterationEnd(ctx.Runtime.Iteration, newHookContext(ctx, w.state))
	})

	prev := w.currentTaskLocked()

	if !w.loop {
		prevIdx := w.currentTaskIdx
		ctx.Runtime.PrevTaskIdx = &prevIdx
		ctx.Runtime.CurrentTaskIdx = nil
		w.currentTaskIdx = len(w.tasks)

		w.runHookLocked(func() {
			w.hooks.OnCurrentTaskChange(prev, nil, newHookContext(ctx, w.state))
		})

		w.state = StateStopping
		w.cond.Broadcast()
		return
	}

	prevIdx := w.currentTaskIdx
	ctx.Runtime.PrevTaskIdx = &prevIdx
	zero := 0
	ctx.Runtime.CurrentTaskIdx = &zero
	w.currentTaskIdx = 0

	ctx.Runtime.Iteration++
	ctx.ResetTransient()
	metrics.Iterations.WithLabelValues(w.name).Inc()

	w.debugLog("starting iteration", map[string]any{"iteration": ctx.Runtime.Iteration})

	w.runHookLocked(func() {
		w.hooks.OnIterationStart(ctx.Runtime.Iteration, newHookContext(ctx, w.state))
	})
	w.runHookLocked(func() {
		w.hooks.OnCurrentTaskChange(prev, w.tasks[0], newHookContext(ctx, w.state))
	})
}

// Run drives the workflow on the calling goroutine and returns once the
// run reaches StateIdle. It refuses (logging a warning) if a run is
// already active, if a previous run is still cleaning up, or if called
// from inside a hook.
func (w *Workflow) Run() {
	w.mu.Lock()
	if w.checkInHookLocked("Run") {
		w.mu.Unlock()
		return
	}
	if w.isRunningLocked() {
		w.logger.Warn("workflow is already running", w.logFields(nil))
		w.mu.Unlock()
		return
	}
	if w.state == StateStopping {
		w.logger.Warn("previous workflow run is still cleaning up, cannot start a new run", w.logFields(nil))
		w.mu.Unlock()
		return
	}

	w.initContext()
	w.debugLog("starting workflow", nil)
	w.mu.Unlock()

	w.runLoop()
}

// Start spawns the driver loop on a new goroutine and returns immediately.
// Use Join to wait for it to finish.
func (w *Workflow) Start() {
	w.mu.Lock()
	if w.checkInHookLocked("Start") {
		w.mu.Unlock()
		return
	}
	if w.isRunningLocked() {
		w.logger.Warn("workflow is already running", w.logFields(nil))
		w.mu.Unlock()
		return
	}
	if w.state == StateStopping {
		w.logger.Warn("previous workflow run is still cleaning up, cannot start a new run", w.logFields(nil))
		w.mu.Unlock()
		return
	}

	w.initContext()
	w.debugLog("starting workflow in background", nil)
	w.running = true
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop()
}

// runLoop is the driver: init, the task-advancing loop, and teardown.
func (w *Workflow) runLoop() {
	w.mu.Lock()
	if !w.initRunLocked() {
		w.mu.Unlock()
		w.signalDone()
		return
	}

	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot start run", w.logFields(nil))
		w.mu.Unlock()
		w.signalDone()
		return
	}
	w.debugLog("starting iteration 0", nil)

	w.runHookLocked(func() {
		w.hooks.OnWorkflowStart(newHookContext(ctx, w.state))
	})
	w.runHookLocked(func() {
		w.hooks.OnIterationStart(0, newHookContext(ctx, w.state))
	})
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.runHookLocked(func() {
			w.hooks.OnWorkflowEnd(newHookContext(ctx, w.state))
		})
		w.cleanupRunLocked()
		w.mu.Unlock()
		w.signalDone()
	}()

	for {
		w.mu.Lock()
		for w.isPausedLocked() {
			w.cond.Wait()
		}
		if !w.isRunningLocked() {
			w.mu.Unlock()
			return
		}

		task := w.tasks[w.currentTaskIdx]
		now := w.clock.Now()
		ctx.Runtime.TaskStartedAt = &now
		taskCtx := newTaskContext(ctx, w.state)
		w.debugLog("starting task", map[string]any{"task": task.Name()})
		w.runHookLocked(func() {
			w.hooks.OnTaskStart(task, taskCtx)
		})
		w.mu.Unlock()

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("workflow: task panicked: %v", r)
				}
			}()
			return task.Run(taskCtx)
		}()
		if err != nil {
			w.logger.Exception(err, "task raised an error, stopping workflow", w.logFields(map[string]any{"task": task.Name()}))
			w.mu.Lock()
			w.state = StateStopping
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}

		w.mu.Lock()
		w.debugLog("task finished", map[string]any{"task": task.Name()})
		if !w.isRunningLocked() {
			w.mu.Unlock()
			return
		}

		if w.externReq {
			w.externReq = false
			w.mu.Unlock()
			continue
		}

		w.onTaskEndLocked(task)

		if cond, ok := task.(*ConditionalTask); ok && cond.NextTaskIdx() != nil {
			idx := *cond.NextTaskIdx()
			if !w.isValidTaskIndex(idx) {
				w.logger.Exception(&InvalidConditionalIndexError{TaskName: task.Name(), Index: idx}, "invalid task index from ConditionalTask", w.logFields(nil))
				w.state = StateStopping
				w.cond.Broadcast()
				w.mu.Unlock()
				return
			}
			w.jumpToLocked(idx, false)
			w.mu.Unlock()
			continue
		}

		w.nextLocked()
		w.mu.Unlock()
	}
}

func (w *Workflow) signalDone() {
	w.mu.Lock()
	ch := w.doneCh
	w.doneCh = nil
	w.running = false
	w.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Stop signals the workflow, and whatever task is currently running, to
// stop as soon as possible. It is a no-op (logged) if the workflow is not
// running, or if called from inside a hook.
func (w *Workflow) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("Stop") {
		return
	}
	if !w.isRunningLocked() {
		w.logger.Exception(ErrWorkflowNotRunning, "cannot stop workflow", w.logFields(nil))
		return
	}

	w.debugLog("stopping workflow", nil)

	w.externReq = true
	w.stopCurrentTaskLocked()
	w.state = StateStopping
	w.cond.Broadcast()
}

// Next stops the current task (if running) and advances to the next task
// in sequence, or ends the iteration if it was the last task.
func (w *Workflow) Next() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("Next") {
		return
	}
	if !w.isRunningLocked() {
		w.logger.Exception(ErrWorkflowNotRunning, "cannot advance to next task", w.logFields(nil))
		return
	}
	w.externReq = true
	w.nextLocked()
}

// JumpTo stops the current task (if running) and jumps to task idx.
// Negative indices are interpreted as an offset from the end of the task
// sequence, the way Python slicing does. An invalid index is logged and
// has no effect on workflow state.
func (w *Workflow) JumpTo(idx int, resetTransient bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("JumpTo") {
		return
	}
	if !w.isRunningLocked() {
		w.logger.Exception(ErrWorkflowNotRunning, "cannot jump to task", w.logFields(nil))
		return
	}
	w.externReq = true
	w.jumpToLocked(idx, resetTransient)
}

// EndIteration stops the current task and ends the iteration immediately,
// wrapping to task 0 if looping is enabled or stopping the run otherwise.
func (w *Workflow) EndIteration() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("EndIteration") {
		return
	}
	if !w.isRunningLocked() {
		w.logger.Exception(ErrWorkflowNotRunning, "cannot end iteration", w.logFields(nil))
		return
	}
	w.externReq = true
	w.stopCurrentTaskLocked()
	w.onIterationEndLocked()
	w.cond.Broadcast()
}

// Pause transitions RUNNING -> PAUSED. Calls to Next and JumpTo are still
// honoured while paused. Pause does not interrupt a task that is already
// executing: that task runs on to its end, and the driver loop then blocks
// before starting another task until Resume or Toggle.
func (w *Workflow) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("Pause") {
		return
	}
	if w.state != StateRunning {
		w.logger.Warn("cannot pause: workflow is not running", w.logFields(nil))
		return
	}
	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot pause workflow", w.logFields(nil))
		return
	}
	w.state = StatePaused
	w.debugLog("workflow paused", nil)
	w.runHookLocked(func() {
		w.hooks.OnPause(newHookContext(ctx, w.state))
	})
}

// Resume transitions PAUSED -> RUNNING and wakes the driver loop.
func (w *Workflow) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("Resume") {
		return
	}
	if w.state != StatePaused {
		w.logger.Warn("cannot resume: workflow is not paused", w.logFields(nil))
		return
	}
	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot resume workflow", w.logFields(nil))
		return
	}
	w.state = StateRunning
	w.debugLog("workflow resumed", nil)
	w.runHookLocked(func() {
		w.hooks.OnResume(newHookContext(ctx, w.state))
	})
	w.cond.Broadcast()
}

// Toggle flips RUNNING <-> PAUSED; any other state is a no-op.
func (w *Workflow) Toggle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.checkInHookLocked("Toggle") {
		return
	}
	ctx, err := w.contextLocked()
	if err != nil {
		w.logger.Exception(err, "cannot toggle workflow", w.logFields(nil))
		return
	}
	switch w.state {
	case StatePaused:
		w.state = StateRunning
		w.debugLog("workflow resumed", nil)
		w.runHookLocked(func() {
			w.hooks.OnResume(newHookContext(ctx, w.state))
		})
		w.cond.Broadcast()
	case StateRunning:
		w.state = StatePaused
		w.debugLog("workflow paused", nil)
		w.runHookLocked(func() {
			w.hooks.OnPause(newHookContext(ctx, w.state))
		})
	}
}

// IsRunning reports whether the workflow is RUNNING or PAUSED.
func (w *Workflow) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunningLocked()
}

// IsPaused reports whether the workflow is PAUSED.
func (w *Workflow) IsPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isPausedLocked()
}

// Join blocks until a run started with Start has returned to StateIdle.
// It is a no-op if the workflow was never started in the background.
func (w *Workflow) Join() {
	w.mu.Lock()
	ch := w.doneCh
	w.mu.Unlock()
	if ch != nil {
		<-ch
	}
}
