// Package goroutineid identifies the calling goroutine.
//
// The runtime lock binds thread states to the goroutine that owns them, the
// same way the embedded runtime would bind them to an OS thread.
package goroutineid

import (
	"runtime"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the current goroutine ID, or 0 if it cannot be determined.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)

	n := runtime.Stack(*bp, false)

	return parse((*bp)[:n])
}

// parse extracts the ID from a stack header of the form "goroutine 42 [running]:".
func parse(stack []byte) int64 {
	const prefix = "goroutine "
	if len(stack) <= len(prefix) || string(stack[:len(prefix)]) != prefix {
		return 0
	}

	var id int64
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}

	return id
}
