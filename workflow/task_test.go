package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
)

func fakeTaskContext() TaskContext {
	ctx := newContext(clock.RealClock{}, "t", "deadbeef", false)
	now := ctx.clock.Now()
	ctx.Runtime.TaskStartedAt = &now
	return newTaskContext(ctx, StateRunning)
}

func TestNewNoOpTaskEndsImmediately(t *testing.T) {
	task := NewNoOpTask("solo")
	done := make(chan error, 1)
	go func() { done <- task.Run(fakeTaskContext()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("NoOpTask did not return")
	}
	assert.False(t, task.IsRunning())
}

func TestTaskCoreStopInterruptsWait(t *testing.T) {
	task := NewTask("waiter", func(tc *TaskCore, ctx TaskContext) error {
		return tc.Wait(10 * time.Second)
	})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- task.Run(fakeTaskContext())
	}()

	<-started
	// Give the goroutine a moment to reach tc.Wait before stopping it.
	time.Sleep(10 * time.Millisecond)
	require.True(t, task.IsRunning())

	start := time.Now()
	task.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, task.IsRunning())
}

func TestTaskCoreRunRefusesReentry(t *testing.T) {
	release := make(chan struct{})
	task := NewTask("busy", func(tc *TaskCore, ctx TaskContext) error {
		<-release
		return ErrTaskInterrupted
	})

	go task.Run(fakeTaskContext())
	time.Sleep(10 * time.Millisecond)
	require.True(t, task.IsRunning())

	// A second concurrent Run call must be a no-op, not a second loop.
	err := task.Run(fakeTaskContext())
	assert.NoError(t, err)

	close(release)
	time.Sleep(10 * time.Millisecond)
}

func TestTaskCorePropagatesNonInterruptError(t *testing.T) {
	boom := errors.New("boom")
	task := NewTask("failing", func(tc *TaskCore, ctx TaskContext) error {
		return boom
	})

	err := task.Run(fakeTaskContext())
	assert.ErrorIs(t, err, boom)
}

func TestWaitUntilTaskPolls(t *testing.T) {
	var calls int
	task := NewWaitUntilTask("poller", func(ctx TaskContext) bool {
		calls++
		return calls >= 3
	}, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- task.Run(fakeTaskContext()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitUntilTask did not converge")
	}
	assert.GreaterOrEqual(t, calls, 3)
}

func TestConditionalTaskRecordsElseBranch(t *testing.T) {
	elseIdx := 4
	cond := NewConditionalTask("branch", func(ctx TaskContext) bool { return false }, 1, &elseIdx)

	err := cond.Run(fakeTaskContext())
	require.NoError(t, err)
	require.NotNil(t, cond.NextTaskIdx())
	assert.Equal(t, elseIdx, *cond.NextTaskIdx())
}
