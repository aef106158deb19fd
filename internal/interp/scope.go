package interp

import (
	"fmt"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/errorcodes"
	"github.com/andrei-cloud/go_procgen/internal/gil"
	"github.com/andrei-cloud/go_procgen/internal/jsrt"
)

// Scope is an acquired interpreter context on the calling goroutine. It
// must be closed with Exit on the same goroutine.
type Scope struct {
	it    *Interpreter
	lock  *gil.Lock
	ts    *gil.ThreadState
	fresh bool

	ensured gil.EnsureState
	prev    *gil.ThreadState
	reentry bool
	exited  bool
}

// Enter acquires the runtime lock and a thread state for the calling
// goroutine, whether or not the runtime has seen it before.
func (it *Interpreter) Enter() (*Scope, error) {
	if !it.Running() {
		return nil, ErrNotRunning
	}

	lock := it.rt.Lock()
	s := &Scope{it: it, lock: lock}

	if it.opts.Strategy == config.StrategyFresh {
		s.fresh = true
		s.reentry = heldHere(lock)
		s.ts = lock.NewThreadState()
		if !s.reentry {
			lock.AcquireLock()
		}
		s.prev = lock.Swap(s.ts)

		return s, nil
	}

	s.ensured = lock.Ensure()
	s.ts = lock.Current()

	return s, nil
}

// Runtime returns the runtime the scope holds.
func (s *Scope) Runtime() *jsrt.Runtime {
	return s.it.rt
}

// ThreadState returns the state bound for the duration of the scope.
func (s *Scope) ThreadState() *gil.ThreadState {
	return s.ts
}

// Raise records err as the pending runtime error.
func (s *Scope) Raise(err error) {
	s.ts.SetError(err)
}

// Pending returns the pending runtime error.
func (s *Scope) Pending() error {
	return s.ts.Err()
}

// Clear drops the pending runtime error.
func (s *Scope) Clear() {
	s.ts.ClearError()
}

// Exit clears any pending error and releases the context. Exit is
// idempotent.
func (s *Scope) Exit() {
	if s.exited {
		return
	}
	s.exited = true

	if !s.fresh {
		s.lock.Release(s.ensured)
		return
	}

	if err := s.ts.Err(); err != nil {
		s.it.log.Warn().Err(err).Msg("pending runtime error cleared on release")
		s.ts.ClearError()
	}
	s.lock.Swap(s.prev)
	if !s.reentry {
		s.lock.ReleaseLock()
	}
}

// Do runs fn inside a scope, on the configured dispatch. Panics raised by
// fn are recovered and reported as invocation errors.
func (it *Interpreter) Do(fn func(s *Scope) error) error {
	if !it.Running() {
		return ErrNotRunning
	}

	if it.opts.Dispatch != config.DispatchWorker {
		return it.run(fn)
	}

	var err error
	it.opts.Threads.Spawn(func() { err = it.run(fn) }).Wait()

	return err
}

func (it *Interpreter) run(fn func(s *Scope) error) (err error) {
	s, err := it.Enter()
	if err != nil {
		return err
	}
	defer s.Exit()
	defer func() {
		if r := recover(); r != nil {
			err = errorcodes.ErrInvocation.Wrap(fmt.Errorf("panic: %v", r))
			s.Raise(err)
		}
	}()

	return fn(s)
}
