package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)

	require.NoError(t, Initialize())
	c := Get()
	assert.Equal(t, StrategyAuto, c.Interpreter.Strategy)
	assert.Equal(t, DispatchDirect, c.Interpreter.Dispatch)
	assert.Equal(t, "procgen", c.Interpreter.ProgramName)
	assert.Equal(t, "0", c.Interpreter.Debug)
	assert.Equal(t, 4, c.Render.Threads)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.NotNil(t, GetViper())
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PROCGEN_DEBUG", "1")
	t.Setenv("PROCGEN_PATH", "/opt/scripts")
	t.Setenv("PROCGEN_INTERPRETER_DISPATCH", "worker")
	t.Setenv("PROCGEN_RENDER_THREADS", "8")

	require.NoError(t, Initialize())
	c := Get()
	assert.Equal(t, "1", c.Interpreter.Debug)
	assert.Equal(t, "/opt/scripts", c.Interpreter.Path)
	assert.Equal(t, DispatchWorker, c.Interpreter.Dispatch)
	assert.Equal(t, 8, c.Render.Threads)
}

func TestConfigFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
interpreter:
  strategy: fresh
  program_name: myhost
log:
  format: human
`), 0o644))

	require.NoError(t, Initialize())
	c := Get()
	assert.Equal(t, StrategyFresh, c.Interpreter.Strategy)
	assert.Equal(t, "myhost", c.Interpreter.ProgramName)
	assert.Equal(t, "human", c.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "strategy", env: map[string]string{"PROCGEN_INTERPRETER_STRATEGY": "manual"}},
		{name: "dispatch", env: map[string]string{"PROCGEN_INTERPRETER_DISPATCH": "pool"}},
		{name: "format", env: map[string]string{"PROCGEN_LOG_FORMAT": "xml"}},
		{name: "threads", env: map[string]string{"PROCGEN_RENDER_THREADS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, val := range tt.env {
				t.Setenv(k, val)
			}
			assert.Error(t, Initialize())
		})
	}
}

func TestReloadPicksUpOverrides(t *testing.T) {
	isolate(t)

	require.NoError(t, Initialize())
	GetViper().Set("render.threads", 2)
	require.NoError(t, Reload())
	assert.Equal(t, 2, Get().Render.Threads)
}

func TestExplicitFile(t *testing.T) {
	dir := isolate(t)
	t.Cleanup(func() { SetFile("") })

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render:\n  threads: 3\n"), 0o644))
	SetFile(path)
	require.NoError(t, Initialize())
	assert.Equal(t, 3, Get().Render.Threads)

	SetFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, Initialize())
}
