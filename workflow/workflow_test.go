package workflow

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHooks appends a string for every lifecycle event it observes,
// guarded by its own mutex since hooks may fire from more than one
// goroutine's control call (though never concurrently, per spec
// invariant 4/5 - the engine lock serialises all hook dispatch).
type recordingHooks struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHooks) record(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
}

func (h *recordingHooks) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHooks) OnWorkflowStart(ctx HookContext) { h.record("wf_start") }
func (h *recordingHooks) OnWorkflowEnd(ctx HookContext)   { h.record("wf_end") }
func (h *recordingHooks) OnIterationStart(i int, ctx HookContext) {
	h.record("iter_start(%d)", i)
}
func (h *recordingHooks) OnIterationEnd(i int, ctx HookContext) {
	h.record("iter_end(%d)", i)
}
func (h *recordingHooks) OnTaskStart(task Task, ctx TaskContext) {
	h.record("task_start(%s)", task.Name())
}
func (h *recordingHooks) OnTaskEnd(task Task, ctx TaskContext) {
	h.record("task_end(%s)", task.Name())
}
func (h *recordingHooks) OnCurrentTaskChange(prev, curr Task, ctx HookContext) {
	name := func(t Task) string {
		if t == nil {
			return "none"
		}
		return t.Name()
	}
	h.record("task_change(%s,%s)", name(prev), name(curr))
}
func (h *recordingHooks) OnPause(ctx HookContext)  { h.record("pause") }
func (h *recordingHooks) OnResume(ctx HookContext) { h.record("resume") }

// Scenario 1 from spec §8: linear completion of three NoOp tasks.
func TestLinearCompletion(t *testing.T) {
	hooks := &recordingHooks{}
	tasks := []Task{NewNoOpTask("A"), NewNoOpTask("B"), NewNoOpTask("C")}
	w := New(tasks, "linear", WithHooks(hooks))

	w.Run()

	want := []string{
		"wf_start", "iter_start(0)",
		"task_start(A)", "task_end(A)", "task_change(A,B)",
		"task_start(B)", "task_end(B)", "task_change(B,C)",
		"task_start(C)", "task_end(C)",
		"iter_end(0)", "task_change(C,none)",
		"wf_end",
	}
	assert.Equal(t, want, hooks.snapshot())
	assert.False(t, w.IsRunning())
}

// Scenario 3 from spec §8: conditional branch skips the else task.
func TestConditionalBranch(t *testing.T) {
	hooks := &recordingHooks{}
	cond := NewConditionalTask("Cond", func(ctx TaskContext) bool { return true }, 2, intPtr(1))
	tasks := []Task{cond, NewNoOpTask("skip"), NewNoOpTask("target")}
	w := New(tasks, "conditional", WithHooks(hooks))

	w.Run()

	events := hooks.snapshot()
	for _, e := range events {
		assert.NotEqual(t, "task_start(skip)", e, "skip task must never start")
	}
	assert.Contains(t, events, "task_start(Cond)")
	assert.Contains(t, events, "task_start(target)")
}

// P3: with loop=false and N tasks that each terminate naturally, the
// sequence of on_task_start names equals the task order exactly once each.
func TestTaskStartOrderMatchesSequence(t *testing.T) {
	hooks := &recordingHooks{}
	names := []string{"A", "B", "C", "D"}
	tasks := make([]Task, len(names))
	for i, n := range names {
		tasks[i] = NewNoOpTask(n)
	}
	w := New(tasks, "order", WithHooks(hooks))
	w.Run()

	var started []string
	for _, e := range hooks.snapshot() {
		for _, n := range names {
			if e == fmt.Sprintf("task_start(%s)", n) {
				started = append(started, n)
			}
		}
	}
	assert.Equal(t, names, started)
}

// Scenario 2 from spec §8 (loop wrap), trimmed to a deterministic check:
// with loop=true, exactly one iter_end(0)/iter_start(1) pair is observed
// before the controller stops the workflow, and transient state is empty
// at the first step of iteration 1's task 0.
func TestLoopWrapResetsTransient(t *testing.T) {
	hooks := &recordingHooks{}

	var sawEmptyTransientAtWrap bool
	var iterationsObserved int

	markTask := NewTask("mark", func(tc *TaskCore, ctx TaskContext) error {
		if ctx.Runtime().Iteration() == 0 {
			ctx.Transient()["seen"] = true
		} else if ctx.Runtime().Iteration() == 1 && ctx.Runtime().CurrentTaskIdx() != nil && *ctx.Runtime().CurrentTaskIdx() == 0 {
			_, present := ctx.Transient()["seen"]
			sawEmptyTransientAtWrap = !present
			iterationsObserved++
		}
		return ErrTaskInterrupted
	})

	tasks := []Task{markTask, NewNoOpTask("B")}
	w := New(tasks, "loopy", WithLoop(true), WithHooks(hooks))

	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for iterationsObserved == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	w.Stop()
	w.Join()

	require.GreaterOrEqual(t, iterationsObserved, 1)
	assert.True(t, sawEmptyTransientAtWrap)

	var iterEnd0, iterStart1 int
	for _, e := range hooks.snapshot() {
		switch e {
		case "iter_end(0)":
			iterEnd0++
		case "iter_start(1)":
			iterStart1++
		}
	}
	assert.Equal(t, 1, iterEnd0)
	assert.Equal(t, 1, iterStart1)
}

// Scenario 5 from spec §8: cooperative stop while a task is waiting.
func TestCooperativeStop(t *testing.T) {
	hooks := &recordingHooks{}
	slow := NewTask("slow", func(tc *TaskCore, ctx TaskContext) error {
		return tc.Wait(10 * time.Second)
	})
	w := New([]Task{slow}, "coop-stop", WithHooks(hooks))

	w.Start()
	time.Sleep(20 * time.Millisecond)

	stopped := time.Now()
	w.Stop()
	w.Join()

	assert.Less(t, time.Since(stopped), 500*time.Millisecond)
	assert.False(t, w.IsRunning())
}

// Scenario 6 from spec §8: a hook calling a control method on its own
// workflow is refused, logged, and does not alter state.
func TestHookReentrancyGuard(t *testing.T) {
	var w *Workflow
	guard := &reentrantHooks{}
	tasks := []Task{NewNoOpTask("A"), NewNoOpTask("B")}
	w = New(tasks, "reentrant", WithHooks(guard))
	guard.w = w

	w.Run()

	assert.True(t, guard.called)
	assert.False(t, w.IsRunning())
}

type reentrantHooks struct {
	NoOpHooks
	w      *Workflow
	called bool
}

func (h *reentrantHooks) OnTaskStart(task Task, ctx TaskContext) {
	h.called = true
	// This must be refused (logged, no-op) rather than deadlocking: the
	// engine lock is held by the caller of this hook.
	h.w.Next()
}

func intPtr(i int) *int { return &i }

// Scenario 4 from spec §8: OnPause and OnResume fire, and A's predicate only
// flips just before Resume, so no task_end(A) is seen while paused. Pause
// itself does not hold back a task that is already executing.
func TestPauseDelaysTaskEnd(t *testing.T) {
	hooks := &recordingHooks{}
	var flip bool
	var mu sync.Mutex
	waitUntil := NewWaitUntilTask("A", func(ctx TaskContext) bool {
		mu.Lock()
		defer mu.Unlock()
		return flip
	}, 10*time.Millisecond)

	w := New([]Task{waitUntil}, "pause-resume", WithHooks(hooks))
	start := time.Now()
	w.Start()

	time.Sleep(50 * time.Millisecond)
	w.Pause()
	require.True(t, w.IsPaused())

	time.Sleep(150 * time.Millisecond)
	events := hooks.snapshot()
	assert.NotContains(t, events, "task_end(A)")

	mu.Lock()
	flip = true
	mu.Unlock()
	w.Resume()

	w.Join()
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Contains(t, hooks.snapshot(), "pause")
	assert.Contains(t, hooks.snapshot(), "resume")
}

// P5/P6: an invalid jump_to index is refused without altering state, and
// is surfaced via the logger rather than a panic or silent state change.
func TestJumpToInvalidIndexLeavesStateUnchanged(t *testing.T) {
	tasks := []Task{NewCheckpointTask("A"), NewNoOpTask("B")}
	w := New(tasks, "bad-jump")
	w.Start()
	time.Sleep(10 * time.Millisecond)

	require.True(t, w.IsRunning())
	w.JumpTo(99, false)

	assert.True(t, w.IsRunning())
	w.Stop()
	w.Join()
}
