package jsrt

import (
	"errors"
	"sync/atomic"

	"github.com/dop251/goja"
)

// ErrReleased is returned when a reference is released twice.
var ErrReleased = errors.New("reference already released")

var liveRefs atomic.Int64

// Ref is an owned reference to a script value. Every Ref must be released
// exactly once; LiveRefs counts the ones that were not.
type Ref struct {
	v        goja.Value
	released atomic.Bool
}

// NewRef takes one reference to v.
func NewRef(v goja.Value) *Ref {
	liveRefs.Add(1)

	return &Ref{v: v}
}

// Value returns the referenced value, nil once released.
func (r *Ref) Value() goja.Value {
	if r == nil || r.released.Load() {
		return nil
	}

	return r.v
}

// Release drops the reference. Releasing a nil Ref is a no-op.
func (r *Ref) Release() error {
	if r == nil {
		return nil
	}
	if !r.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	r.v = nil
	liveRefs.Add(-1)

	return nil
}

// LiveRefs returns the number of references taken and not yet released.
func LiveRefs() int64 {
	return liveRefs.Load()
}
