// Package gil implements the runtime's global execution lock and the
// per-goroutine thread states bound to it.
//
// Exactly one goroutine may execute script code at a time. Unlike a
// sync.Mutex, the lock can be saved by one goroutine and restored by another,
// which lets an embedding hand execution context over across calls.
package gil

import (
	"sync"
	"sync/atomic"

	"github.com/andrei-cloud/go_procgen/internal/goroutineid"
	"github.com/rs/zerolog/log"
)

// ThreadState is the execution context of one goroutine inside the runtime.
type ThreadState struct {
	lock  *Lock
	gid   int64
	auto  bool
	depth int
	err   error
}

// Goroutine returns the goroutine the state is bound to, 0 if unbound.
func (ts *ThreadState) Goroutine() int64 {
	return ts.gid
}

// SetError records a pending runtime error on the state.
func (ts *ThreadState) SetError(err error) {
	ts.err = err
}

// Err returns the pending runtime error, if any.
func (ts *ThreadState) Err() error {
	return ts.err
}

// ClearError drops the pending runtime error.
func (ts *ThreadState) ClearError() {
	ts.err = nil
}

// EnsureState records what Ensure had to do, for the matching Release.
type EnsureState int

const (
	// Unlocked means Ensure acquired the lock.
	Unlocked EnsureState = iota
	// Locked means the calling goroutine already held the lock.
	Locked
)

// Lock is the global execution lock.
type Lock struct {
	sem     chan struct{}
	threads atomic.Bool

	mu      sync.Mutex
	held    bool
	current *ThreadState
	states  map[int64]*ThreadState
}

// New returns a lock held by the calling goroutine, whose main thread state
// is returned alongside it.
func New() (*Lock, *ThreadState) {
	l := &Lock{
		sem:    make(chan struct{}, 1),
		states: make(map[int64]*ThreadState),
	}
	main := &ThreadState{lock: l, gid: goroutineid.Get()}
	l.states[main.gid] = main
	l.sem <- struct{}{}
	l.held = true
	l.current = main

	return l, main
}

// InitThreads enables the multithreading primitives.
func (l *Lock) InitThreads() {
	l.threads.Store(true)
}

// ThreadsInitialized reports whether InitThreads was called.
func (l *Lock) ThreadsInitialized() bool {
	return l.threads.Load()
}

// Held reports whether any goroutine holds the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held
}

// Current returns the state swapped in by the lock holder, nil if none.
func (l *Lock) Current() *ThreadState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.current
}

// ThisThreadState returns the state registered for the calling goroutine.
func (l *Lock) ThisThreadState() *ThreadState {
	gid := goroutineid.Get()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.states[gid]
}

// NewThreadState returns a fresh state bound to the calling goroutine but
// not registered as its auto state.
func (l *Lock) NewThreadState() *ThreadState {
	return &ThreadState{lock: l, gid: goroutineid.Get()}
}

// Swap replaces the current state and returns the previous one. The caller
// must hold the lock.
func (l *Lock) Swap(ts *ThreadState) *ThreadState {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.current
	l.current = ts

	return prev
}

// AcquireLock takes the lock without touching the current state.
func (l *Lock) AcquireLock() {
	l.sem <- struct{}{}

	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
}

// ReleaseLock gives the lock up without touching the current state.
func (l *Lock) ReleaseLock() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		panic("gil: release of unheld lock")
	}
	l.held = false
	l.mu.Unlock()

	<-l.sem
}

// SaveThread releases the lock and returns the state that held it.
func (l *Lock) SaveThread() *ThreadState {
	ts := l.Swap(nil)
	l.ReleaseLock()

	return ts
}

// RestoreThread blocks until the lock is acquired, then swaps ts in.
func (l *Lock) RestoreThread(ts *ThreadState) {
	l.AcquireLock()
	l.Swap(ts)
}

// Ensure acquires the lock for the calling goroutine, creating a thread
// state if the goroutine was never seen before. Ensure is re-entrant; every
// call must be paired with Release on the same goroutine.
func (l *Lock) Ensure() EnsureState {
	gid := goroutineid.Get()

	l.mu.Lock()
	ts, ok := l.states[gid]
	if !ok {
		ts = &ThreadState{lock: l, gid: gid, auto: true}
		l.states[gid] = ts
	}
	ts.depth++
	if l.held && l.current == ts {
		l.mu.Unlock()
		return Locked
	}
	l.mu.Unlock()

	l.RestoreThread(ts)

	return Unlocked
}

// Release undoes the matching Ensure. A pending error left on the state is
// logged and cleared before the lock is given up.
func (l *Lock) Release(state EnsureState) {
	gid := goroutineid.Get()

	l.mu.Lock()
	ts := l.states[gid]
	l.mu.Unlock()
	if ts == nil {
		panic("gil: release without ensure")
	}

	if state == Unlocked && ts.err != nil {
		log.Warn().
			Str("component", "procgen").
			Err(ts.err).
			Msg("pending runtime error cleared on release")
		ts.ClearError()
	}

	l.mu.Lock()
	ts.depth--
	if ts.auto && ts.depth == 0 {
		delete(l.states, gid)
	}
	l.mu.Unlock()

	if state == Unlocked {
		l.SaveThread()
	}
}
