package workflow

import (
	"io"
	"os"
	"sync"

	"k8s.io/utils/clock"

	"github.com/junkaizhang8/automacro/workflow/internal/logger"
)

// NewBuilder starts a fluent Workflow configuration, generalising the
// reference engine's per-status consumer builder to the spec's flat task
// sequence: WithTasks replaces repeated AddStep calls, and Build takes no
// external collaborators since this engine has none (it is a pure
// in-process library, unlike the reference engine's event-streamer /
// record-store / role-scheduler trio).
func NewBuilder(name string) *Builder {
	return &Builder{
		workflow: &Workflow{
			name:   name,
			hooks:  NoOpHooks{},
			clock:  clock.RealClock{},
			logger: logger.New(os.Stdout),
		},
	}
}

// Builder assembles a Workflow step by step.
type Builder struct {
	workflow *Workflow
}

// WithTasks sets the task sequence. Calling it more than once replaces
// the previous sequence rather than appending to it.
func (b *Builder) WithTasks(tasks ...Task) *Builder {
	b.workflow.tasks = append([]Task(nil), tasks...)
	return b
}

// WithHooks attaches a lifecycle observer.
func (b *Builder) WithHooks(h Hooks) *Builder {
	b.workflow.hooks = h
	return b
}

// WithLoop enables or disables looping back to the first task.
func (b *Builder) WithLoop(loop bool) *Builder {
	b.workflow.loop = loop
	return b
}

// WithClock overrides the clock.Clock used for timestamps. Task waits use
// each task's own clock (see WithTaskClock), not this one.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.workflow.clock = c
	return b
}

// WithLogger overrides the default logger.
func (b *Builder) WithLogger(l logger.Logger) *Builder {
	b.workflow.logger = l
	return b
}

// WithLogWriter routes the default slog-backed logger to w.
func (b *Builder) WithLogWriter(w io.Writer) *Builder {
	b.workflow.logger = logger.New(w)
	return b
}

// WithDebugMode turns on verbose lifecycle tracing. See WithDebugMode
// (the package-level Option) for what it gates.
func (b *Builder) WithDebugMode() *Builder {
	b.workflow.debugMode = true
	return b
}

// Build finalises and returns the configured Workflow.
func (b *Builder) Build() *Workflow {
	w := b.workflow
	w.cond = sync.NewCond(&w.mu)
	return w
}
