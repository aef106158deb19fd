package procedural

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/hostapi"
	"github.com/andrei-cloud/go_procgen/internal/interp"
	"github.com/andrei-cloud/go_procgen/internal/jsrt"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/andrei-cloud/go_procgen/internal/scene"
	"github.com/andrei-cloud/go_procgen/internal/searchpath"
	"github.com/dop251/goja"
	gojarequire "github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cubeJS = `
function Init(name) { return [1, {n: 3, name: name}]; }
function NumNodes(state) { return state.n; }
function GetNode(state, i) { return "cube_" + i; }
function Cleanup(state) { sys.cleaned = state.name; return 1; }
`

type harness struct {
	t        *testing.T
	it       *interp.Interpreter
	fs       afero.Fs
	universe *scene.Universe
	resolver *searchpath.Resolver
	env      map[string]string
}

func newHarness(t *testing.T, searchPath string) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		fs:       afero.NewMemMapFs(),
		universe: scene.NewUniverse(),
		env:      map[string]string{},
	}
	h.universe.Options().Set(host.ParamSearchPath, searchPath)
	h.resolver = &searchpath.Resolver{
		Fs:            h.fs,
		LookupEnv:     func(k string) (string, bool) { v, ok := h.env[k]; return v, ok },
		ListSeparator: ':',
		Separator:     '/',
	}

	it, err := interp.Begin(interp.Options{
		Fs:        h.fs,
		Platform:  "linux",
		NativeDir: "/native",
		NativeModules: map[string]gojarequire.ModuleLoader{
			hostapi.ModuleName: hostapi.Require(func() host.Universe { return h.universe }),
		},
	})
	require.NoError(t, err)
	t.Cleanup(interp.End)
	h.it = it

	return h
}

func (h *harness) write(path, src string) {
	h.t.Helper()
	require.NoError(h.t, afero.WriteFile(h.fs, path, []byte(src), 0o644))
}

func (h *harness) nodes(names ...string) {
	h.t.Helper()
	for _, n := range names {
		_, err := h.universe.CreateNode("box", n)
		require.NoError(h.t, err)
	}
}

func (h *harness) proc(name, data string, params map[string]any) (*Instance, host.Node) {
	h.t.Helper()
	node, err := h.universe.AddProcedural(name, data, params)
	require.NoError(h.t, err)

	return New(h.it, h.universe, h.resolver), node
}

func (h *harness) sys(key string) goja.Value {
	var v goja.Value
	require.NoError(h.t, h.it.Do(func(s *interp.Scope) error {
		v = s.Runtime().Sys().Get(key)
		return nil
	}))

	return v
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t, "/scenes")
	h.write("/scenes/cube.js", cubeJS)
	h.nodes("cube_0", "cube_1", "cube_2")
	base := jsrt.LiveRefs()

	p, node := h.proc("proc1", "cube.js", nil)
	assert.Equal(t, Fresh, p.State())

	require.Equal(t, 1, p.Init(node))
	assert.Equal(t, Initialized, p.State())
	assert.Equal(t, "proc1", p.Name())
	assert.Equal(t, "/scenes/cube.js", p.ScriptPath())
	assert.Contains(t, h.it.Runtime().Modules(), "procgen_cube")

	require.Equal(t, 3, p.NumNodes())
	for i := 0; i < 3; i++ {
		got := p.GetNode(i)
		require.NotNil(t, got, i)
		assert.Same(t, h.universe.LookUpByName(fmt.Sprintf("cube_%d", i)), got)
	}
	assert.Nil(t, p.GetNode(3), "cube_3 does not exist")

	assert.Equal(t, 1, p.Cleanup())
	assert.Equal(t, Terminated, p.State())
	assert.Equal(t, "proc1", h.sys("cleaned").String())
	assert.Equal(t, base, jsrt.LiveRefs())

	assert.Equal(t, 0, p.Cleanup())
	assert.Equal(t, 0, p.NumNodes())
}

func TestIndirectSearchPath(t *testing.T) {
	h := newHarness(t, "[SCENES]:/c")
	h.env["SCENES"] = "/a:/b"
	h.write("/b/g.js", cubeJS)
	h.write("/c/other.js", cubeJS)

	p, node := h.proc("proc1", "g.js", nil)
	require.Equal(t, 1, p.Init(node))
	assert.Equal(t, "/b/g.js", p.ScriptPath())
	assert.Equal(t, 1, p.Cleanup())
}

func TestAbsoluteScriptSkipsSearch(t *testing.T) {
	h := newHarness(t, "/nowhere")
	h.write("/abs/cube.js", cubeJS)

	p, node := h.proc("proc1", "/abs/cube.js", nil)
	require.Equal(t, 1, p.Init(node))
	assert.Equal(t, "/abs/cube.js", p.ScriptPath())
	assert.Equal(t, 1, p.Cleanup())
}

func TestAbsentScript(t *testing.T) {
	h := newHarness(t, "/scenes")
	base := jsrt.LiveRefs()

	p, node := h.proc("proc1", "missing.js", nil)
	assert.False(t, p.Resolve(node))
	assert.False(t, p.Valid())

	assert.Equal(t, 0, p.Init(node))
	assert.Equal(t, Failed, p.State())
	assert.Equal(t, 0, p.NumNodes())
	assert.Nil(t, p.GetNode(0))
	assert.Equal(t, 0, p.Cleanup())
	assert.Equal(t, Terminated, p.State())
	assert.Equal(t, base, jsrt.LiveRefs())
}

func TestMissingOptionsNode(t *testing.T) {
	h := newHarness(t, "/scenes")
	h.write("/scenes/cube.js", cubeJS)
	h.universe.RemoveOptions()

	var buf bytes.Buffer
	require.NoError(t, logging.InitLoggerTo(&buf, "info", false))
	t.Cleanup(func() { _ = logging.InitLogger("info", false) })

	p, node := h.proc("proc1", "cube.js", nil)
	assert.Equal(t, 0, p.Init(node))
	assert.Contains(t, buf.String(), "no 'options' node")
}

func TestMalformedInit(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/bad.js", `
function Init(name) { return 1; }
function Cleanup(state) { sys.cleaned = true; return 1; }
`)
	base := jsrt.LiveRefs()

	p, node := h.proc("proc1", "bad.js", nil)
	assert.Equal(t, 0, p.Init(node))
	assert.Equal(t, Failed, p.State())
	assert.Nil(t, p.userDatum)
	assert.Equal(t, 0, p.NumNodes())

	assert.Equal(t, 0, p.Cleanup())
	cleaned := h.sys("cleaned")
	assert.True(t, cleaned == nil || goja.IsUndefined(cleaned), "Cleanup must not run without a user datum")
	assert.Equal(t, base, jsrt.LiveRefs())
}

func TestInitZeroStatusRetainsState(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/zero.js", `
function Init(name) { return [0, {tag: "kept"}]; }
function NumNodes(state) { return 5; }
function Cleanup(state) { sys.cleaned = state.tag; return 7; }
`)
	base := jsrt.LiveRefs()

	p, node := h.proc("proc1", "zero.js", nil)
	assert.Equal(t, 0, p.Init(node))
	assert.Equal(t, Failed, p.State())
	assert.NotNil(t, p.userDatum)
	assert.Equal(t, 0, p.NumNodes())
	assert.Nil(t, p.GetNode(0))

	assert.Equal(t, 7, p.Cleanup())
	assert.Equal(t, "kept", h.sys("cleaned").String())
	assert.Equal(t, base, jsrt.LiveRefs())
}

func TestScriptFailures(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		wantInit  int
		wantNum   int
		wantNode  bool
		wantClean int
	}{
		{
			name: "syntax error",
			src:  `function Init( {`,
		},
		{
			name: "load throws",
			src:  `throw new Error("nope");`,
		},
		{
			name: "missing Init",
			src:  `function Cleanup(s) { return 1; }`,
		},
		{
			name: "Init throws",
			src:  `function Init(n) { throw new Error("boom"); } function Cleanup(s) { return 1; }`,
		},
		{
			name: "Init status not integer",
			src:  `function Init(n) { return ["one", {}]; } function Cleanup(s) { return 2; }`,
			// the state is retained, so Cleanup runs
			wantClean: 2,
		},
		{
			name: "Init returns three elements",
			src:  `function Init(n) { return [1, {}, 3]; } function Cleanup(s) { return 1; }`,
		},
		{
			name:      "NumNodes missing",
			src:       `function Init(n) { return [1, {}]; } function GetNode(s, i) { return "cube_0"; } function Cleanup(s) { return 1; }`,
			wantInit:  1,
			wantNode:  true,
			wantClean: 1,
		},
		{
			name:      "NumNodes throws",
			src:       `function Init(n) { return [1, {}]; } function NumNodes(s) { throw new Error("x"); } function Cleanup(s) { return true; }`,
			wantInit:  1,
			wantClean: 1,
		},
		{
			name:      "NumNodes fractional",
			src:       `function Init(n) { return [1, {}]; } function NumNodes(s) { return 2.5; } function Cleanup(s) { return 1; }`,
			wantInit:  1,
			wantClean: 1,
		},
		{
			name:      "GetNode not a string",
			src:       `function Init(n) { return [1, {}]; } function NumNodes(s) { return 1; } function GetNode(s, i) { return 0; } function Cleanup(s) { return 1; }`,
			wantInit:  1,
			wantNum:   1,
			wantClean: 1,
		},
		{
			name:      "GetNode unknown name",
			src:       `function Init(n) { return [1, {}]; } function NumNodes(s) { return 1; } function GetNode(s, i) { return "ghost"; } function Cleanup(s) { return 1; }`,
			wantInit:  1,
			wantNum:   1,
			wantClean: 1,
		},
		{
			name:     "Cleanup missing",
			src:      `function Init(n) { return [1, {}]; } function NumNodes(s) { return 1; }`,
			wantInit: 1,
			wantNum:  1,
		},
		{
			name:     "Cleanup returns object",
			src:      `function Init(n) { return [true, {}]; } function Cleanup(s) { return {}; }`,
			wantInit: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "/s")
			h.write("/s/script.js", tt.src)
			h.nodes("cube_0")
			base := jsrt.LiveRefs()

			p, node := h.proc("proc1", "script.js", nil)
			assert.Equal(t, tt.wantInit, p.Init(node))
			assert.Equal(t, tt.wantNum, p.NumNodes())
			assert.Equal(t, tt.wantNode, p.GetNode(0) != nil)
			assert.Equal(t, tt.wantClean, p.Cleanup())
			assert.Equal(t, Terminated, p.State())
			assert.Equal(t, base, jsrt.LiveRefs())

			require.NoError(t, h.it.Do(func(s *interp.Scope) error {
				assert.NoError(t, s.Pending())
				return nil
			}))
			assert.False(t, h.it.Runtime().Lock().Held())
		})
	}
}

func TestConcurrentProcedurals(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/cube.js", cubeJS)
	h.write("/s/sphere.js", `
var calls = 0;
function Init(name) { return [1, {n: 5}]; }
function NumNodes(state) { calls++; return state.n; }
function GetNode(state, i) { return "cube_0"; }
function Cleanup(state) { return calls > 0 ? 1 : 0; }
`)
	h.nodes("cube_0", "cube_1", "cube_2")
	base := jsrt.LiveRefs()

	cube, cubeNode := h.proc("cube", "cube.js", nil)
	sphere, sphereNode := h.proc("sphere", "sphere.js", nil)
	require.Equal(t, 1, cube.Init(cubeNode))
	require.Equal(t, 1, sphere.Init(sphereNode))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Equal(t, 3, cube.NumNodes())
			assert.NotNil(t, cube.GetNode(1))
		}()
		go func() {
			defer wg.Done()
			assert.Equal(t, 5, sphere.NumNodes())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cube.Cleanup())
	assert.Equal(t, 1, sphere.Cleanup())
	assert.Equal(t, base, jsrt.LiveRefs())
	assert.ElementsMatch(t, []string{"procgen_cube", "procgen_sphere"}, h.it.Runtime().Modules())
}

func TestScriptUsesHostModule(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/spawn.js", `
var host = require("procgen:host");
function Init(name) {
  var count = host.userParams(name).count;
  return [1, {name: name, count: count}];
}
function NumNodes(state) { return state.count; }
function GetNode(state, i) {
  var n = host.create("box", state.name + "_box" + i, {index: i});
  return n.name;
}
function Cleanup(state) { return 1; }
`)

	p, node := h.proc("proc1", "spawn.js", map[string]any{"count": 2})
	require.Equal(t, 1, p.Init(node))
	require.Equal(t, 2, p.NumNodes())
	for i := 0; i < 2; i++ {
		got := p.GetNode(i)
		require.NotNil(t, got)
		assert.Equal(t, fmt.Sprintf("proc1_box%d", i), got.Name())
	}
	assert.Equal(t, 1, p.Cleanup())
}

func TestVerboseMessages(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/cube.js", cubeJS)

	var buf bytes.Buffer
	require.NoError(t, logging.InitLoggerTo(&buf, "info", false))
	t.Cleanup(func() { _ = logging.InitLogger("info", false) })

	quiet, quietNode := h.proc("quiet", "cube.js", nil)
	require.Equal(t, 1, quiet.Init(quietNode))
	assert.NotContains(t, buf.String(), "Loading procedural module")

	loud, loudNode := h.proc("loud", "cube.js", map[string]any{"verbose": true})
	require.Equal(t, 1, loud.Init(loudNode))
	out := buf.String()
	assert.Contains(t, out, "Search procedural in options.procedural_searchpath...")
	assert.Contains(t, out, "Resolved script path")
	assert.Contains(t, out, "Loading procedural module")
	assert.Contains(t, out, loud.ID().String())

	quiet.Cleanup()
	loud.Cleanup()
}

func TestFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want bool
	}{
		{true, true},
		{false, false},
		{1, true},
		{0, false},
		{int64(2), true},
		{int64(0), false},
		{1.0, true},
		{"true", false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, flag(tt.in), "%#v", tt.in)
	}
}

func TestVerboseIntegerParam(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/cube.js", cubeJS)

	var buf bytes.Buffer
	require.NoError(t, logging.InitLoggerTo(&buf, "info", false))
	t.Cleanup(func() { _ = logging.InitLogger("info", false) })

	p, node := h.proc("loud", "cube.js", map[string]any{"verbose": int64(1)})
	require.Equal(t, 1, p.Init(node))
	assert.True(t, p.verbose)
	assert.Contains(t, buf.String(), "Loading procedural module")
	p.Cleanup()
}

func TestNotRunningInterpreter(t *testing.T) {
	h := newHarness(t, "/s")
	h.write("/s/cube.js", cubeJS)
	interp.End()

	p, node := h.proc("proc1", "cube.js", nil)
	assert.Equal(t, 0, p.Init(node))
	assert.Equal(t, Failed, p.State())
	assert.Equal(t, 0, p.Cleanup())
}

func TestModuleName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/scenes/cube.js":     "procgen_cube",
		`C:\scenes\cube.js`:   "procgen_cube",
		"/scenes/a.b.js":      "procgen_a.b",
		"noext":               "procgen_noext",
		"/dir.with.dots/x.js": "procgen_x",
	}
	for in, want := range tests {
		assert.Equal(t, want, ModuleName(in), in)
	}
}

func TestToInt(t *testing.T) {
	t.Parallel()

	vm := goja.New()
	tests := []struct {
		src     string
		want    int
		wantErr bool
	}{
		{src: "3", want: 3},
		{src: "-7", want: -7},
		{src: "4.0", want: 4},
		{src: "true", want: 1},
		{src: "false", want: 0},
		{src: "2.5", wantErr: true},
		{src: "NaN", wantErr: true},
		{src: "Infinity", wantErr: true},
		{src: "1e12", wantErr: true},
		{src: `"3"`, wantErr: true},
		{src: "null", wantErr: true},
		{src: "undefined", wantErr: true},
		{src: "({})", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			v, err := vm.RunString(tt.src)
			require.NoError(t, err)
			got, err := toInt(v)
			if tt.wantErr {
				require.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "initialized", Initialized.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
