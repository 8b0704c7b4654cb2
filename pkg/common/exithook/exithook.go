// Package exithook keeps release obligations that must run however the
// process ends: on a normal return, on an error path, or on an interrupt.
package exithook

import (
	"sync"
)

type Hook struct {
	name string
	fn   func()
	once sync.Once
}

var (
	mu    sync.Mutex
	hooks []*Hook
)

// Register pushes fn onto the hook stack. The returned Hook runs fn at most
// once, whether through Release or RunAll.
func Register(name string, fn func()) *Hook {
	h := &Hook{name: name, fn: fn}
	mu.Lock()
	hooks = append(hooks, h)
	mu.Unlock()
	return h
}

func (h *Hook) Name() string {
	return h.name
}

// Release runs the hook now and drops it from the stack.
func (h *Hook) Release() {
	h.once.Do(h.fn)
	mu.Lock()
	defer mu.Unlock()
	for i, other := range hooks {
		if other == h {
			hooks = append(hooks[:i], hooks[i+1:]...)
			break
		}
	}
}

// RunAll runs every pending hook, most recently registered first.
func RunAll() {
	mu.Lock()
	pending := hooks
	hooks = nil
	mu.Unlock()
	for i := len(pending) - 1; i >= 0; i-- {
		pending[i].once.Do(pending[i].fn)
	}
}

func Pending() int {
	mu.Lock()
	defer mu.Unlock()
	return len(hooks)
}
