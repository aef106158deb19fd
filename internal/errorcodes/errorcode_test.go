package errorcodes

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "LD: Script module failed to load", ErrLoad.Error())
	assert.Equal(t, "LD", ErrLoad.CodeOnly())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind PluginError
		is       []error
		isNot    []error
		text     string
	}{
		{
			name:     "wrapped cause",
			err:      ErrResolution.Wrap(fs.ErrNotExist),
			wantKind: ErrResolution,
			is:       []error{ErrResolution, fs.ErrNotExist},
			isNot:    []error{ErrLoad},
			text:     "RS: Script not found on the procedural search path: file does not exist",
		},
		{
			name:     "nil cause",
			err:      ErrBootstrap.Wrap(nil),
			wantKind: ErrBootstrap,
			is:       []error{ErrBootstrap},
			text:     "BS: Runtime unavailable or unusable",
		},
		{
			name:     "further wrapped",
			err:      fmt.Errorf("init proc1: %w", ErrInvocation.Wrap(errors.New("boom"))),
			wantKind: ErrInvocation,
			is:       []error{ErrInvocation},
			isNot:    []error{ErrMalformedResult},
			text:     "init proc1: IV: Script function raised an error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			kind, ok := KindOf(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			for _, target := range tt.is {
				assert.ErrorIs(t, tt.err, target)
			}
			for _, target := range tt.isNot {
				assert.NotErrorIs(t, tt.err, target)
			}
			assert.Equal(t, tt.text, tt.err.Error())
		})
	}

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}
