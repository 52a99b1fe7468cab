// Package rmutex implements a reentrant mutex: the same goroutine may
// lock it more than once without blocking on itself, unlocking once per
// lock to release it. Every other goroutine blocks on it exactly the way
// it would on a sync.Mutex.
//
// Go's sync.Mutex is deliberately not reentrant, but a driver loop that
// invokes user hooks while holding its own lock needs exactly this: a
// hook that calls back into a control method on the same goroutine must
// be able to re-enter the lock to reach the "already in a hook" guard,
// rather than deadlocking on itself.
package rmutex

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Mutex is a reentrant sync.Locker. The zero value is ready to use.
type Mutex struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

// Lock acquires the mutex. If the calling goroutine already holds it, Lock
// increments the recursion depth and returns immediately instead of
// blocking.
func (m *Mutex) Lock() {
	gid := goid.Get()
	if m.owner.Load() == gid {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(gid)
	m.depth = 1
}

// Unlock releases one level of recursion. Once depth reaches zero the
// underlying lock is released. Unlock by a goroutine that does not hold
// the mutex panics, matching sync.Mutex's own behaviour for an unpaired
// Unlock.
func (m *Mutex) Unlock() {
	gid := goid.Get()
	if m.owner.Load() != gid {
		panic("rmutex: unlock of unlocked or not-owned mutex")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}
