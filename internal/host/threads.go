package host

import (
	"runtime"
	"sync"
)

// OSThreads spawns goroutines locked to their own OS thread.
type OSThreads struct{}

// Spawn runs fn on a fresh OS thread and returns a handle to wait on.
func (OSThreads) Spawn(fn func()) Waiter {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()

	return &wg
}
