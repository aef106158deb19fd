package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Cleanup(func() {
		cfgFile = ""
		config.SetFile("")
		_ = logging.InitLogger("info", false)
	})

	root, err := NewRootCommand()
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()

	return out.String(), errOut.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root, err := NewRootCommand()
	require.NoError(t, err)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"render", "resolve", "check", "inspect", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, host.Version))
}

func TestFlagsOverrideConfig(t *testing.T) {
	_, _, err := execute(t, "version", "--strategy", "fresh", "--dispatch", "worker", "--log-level", "warn")
	require.NoError(t, err)

	c := config.Get()
	assert.Equal(t, config.StrategyFresh, c.Interpreter.Strategy)
	assert.Equal(t, config.DispatchWorker, c.Interpreter.Dispatch)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestInvalidFlag(t *testing.T) {
	_, _, err := execute(t, "version", "--dispatch", "pool")
	assert.ErrorContains(t, err, "invalid interpreter.dispatch")

	_, _, err = execute(t, "version", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRenderThroughRoot(t *testing.T) {
	scripts := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "pair.js"), []byte(`
var host = require("procgen:host");
function Init(name) { host.log("info", "init " + name); return [1, name]; }
function NumNodes(state) { return 2; }
function GetNode(state, i) { return host.create("point", state + "_" + i).name; }
function Cleanup(state) { return 1; }
`), 0o644))
	scenePath := filepath.Join(scripts, "scene.yaml")
	require.NoError(t, os.WriteFile(scenePath, []byte(`
options:
  procedural_searchpath: "`+scripts+`"
procedurals:
  - {name: pair, data: pair.js}
`), 0o644))

	out, logs, err := execute(t, "render", scenePath, "--dispatch", "worker", "--log-format", "human")
	require.NoError(t, err)
	assert.Contains(t, out, "pair_0")
	assert.Contains(t, out, "pair_1")
	assert.Contains(t, logs, "init pair")
}
