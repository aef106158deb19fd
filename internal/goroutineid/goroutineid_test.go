package goroutineid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		stack string
		want  int64
	}{
		{name: "running", stack: "goroutine 42 [running]:\nmain.main()", want: 42},
		{name: "end of buffer", stack: "goroutine 7", want: 7},
		{name: "missing prefix", stack: "thread 9 [running]", want: 0},
		{name: "short", stack: "gor", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parse([]byte(tt.stack)))
		})
	}
}

func TestGetDistinctPerGoroutine(t *testing.T) {
	t.Parallel()

	self := Get()
	assert.NotZero(t, self)
	assert.Equal(t, self, Get())

	var other int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = Get()
	}()
	wg.Wait()

	assert.NotZero(t, other)
	assert.NotEqual(t, self, other)
}
