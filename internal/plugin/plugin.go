// Package plugin is the host-facing surface: the loader that fills the
// host's v-table, the four entry points, and the library load hooks.
//
// Entry points receive no plugin context from the host, so the binding to
// the host (its universe and thread primitive) is process-global and set by
// Bind before Load.
package plugin

import (
	"sync/atomic"

	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/hostapi"
	"github.com/andrei-cloud/go_procgen/internal/interp"
	"github.com/andrei-cloud/go_procgen/internal/jsrt"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/andrei-cloud/go_procgen/internal/procedural"
	"github.com/andrei-cloud/go_procgen/internal/searchpath"
	"github.com/dop251/goja_nodejs/require"
	"github.com/spf13/afero"
)

// VTable is the host's table of plugin entry points.
type VTable struct {
	Init     func(node host.Node) (*procedural.Instance, int)
	Cleanup  func(p *procedural.Instance) int
	NumNodes func(p *procedural.Instance) int
	GetNode  func(p *procedural.Instance, i int) host.Node
	Version  string
}

// Host is what the plugin is bound to.
type Host struct {
	Universe host.Universe
	Threads  host.Threads
	Fs       afero.Fs
	// LookupEnv expands "[NAME]" search path entries. Defaults to the
	// process environment.
	LookupEnv func(string) (string, bool)
}

type binding struct {
	host     Host
	resolver *searchpath.Resolver
	registry *Registry
}

var bound atomic.Pointer[binding]

// Bind attaches the plugin to a host. It must precede Load.
func Bind(h Host) {
	if h.Fs == nil {
		h.Fs = afero.NewOsFs()
	}
	if h.Threads == nil {
		h.Threads = host.OSThreads{}
	}
	resolver := searchpath.New(h.Fs)
	if h.LookupEnv != nil {
		resolver.LookupEnv = h.LookupEnv
	}
	bound.Store(&binding{host: h, resolver: resolver, registry: NewRegistry()})
}

// Loader fills vt with the entry points and the plugin version.
func Loader(vt *VTable) bool {
	if vt == nil {
		return false
	}
	vt.Init = Init
	vt.Cleanup = Cleanup
	vt.NumNodes = NumNodes
	vt.GetNode = GetNode
	vt.Version = host.Version

	return true
}

// Load is the library load hook. It constructs the interpreter singleton
// serving the bound host and reports whether it is running.
func Load(opts interp.Options) bool {
	b := bound.Load()
	if b == nil {
		l := logging.Plugin()
		l.Error().Msg("plugin loaded before a host was bound")
		return false
	}

	opts.Fs = b.host.Fs
	opts.Threads = b.host.Threads
	natives := make(map[string]require.ModuleLoader, len(opts.NativeModules)+1)
	for name, loader := range opts.NativeModules {
		natives[name] = loader
	}
	natives[hostapi.ModuleName] = hostapi.Require(universe)
	opts.NativeModules = natives

	it, _ := interp.Begin(opts)

	return it.Running()
}

// Unload is the library unload hook.
func Unload() {
	if b := bound.Load(); b != nil {
		if n := b.registry.Len(); n != 0 {
			l := logging.Plugin()
			l.Warn().Int("live", n).Msg("unloading with procedurals not cleaned up")
		}
	}
	interp.End()
}

// Instances lists the live procedural instances.
func Instances() []InstanceInfo {
	b := bound.Load()
	if b == nil {
		return nil
	}

	return b.registry.List()
}

// Init creates the instance for node and runs the script's Init. The
// instance is returned even when Init fails, so the host can clean it up;
// it is nil only when the script could not be located or the runtime is
// unavailable.
func Init(node host.Node) (*procedural.Instance, int) {
	it, b, ok := ready("Init")
	if !ok {
		return nil, 0
	}

	p := procedural.New(it, b.host.Universe, b.resolver)
	if !p.Resolve(node) {
		return nil, 0
	}
	b.registry.Register(p)

	return p, p.Init(node)
}

// NumNodes returns how many nodes p expands to.
func NumNodes(p *procedural.Instance) int {
	if _, _, ok := ready("NumNodes"); !ok || p == nil {
		return 0
	}

	return p.NumNodes()
}

// GetNode returns the i-th node p expands to.
func GetNode(p *procedural.Instance, i int) host.Node {
	if _, _, ok := ready("GetNode"); !ok || p == nil {
		return nil
	}

	return p.GetNode(i)
}

// Cleanup ends p.
func Cleanup(p *procedural.Instance) int {
	_, b, ok := ready("Cleanup")
	if !ok || p == nil {
		return 0
	}
	rc := p.Cleanup()
	b.registry.Remove(p.ID())

	return rc
}

func ready(op string) (*interp.Interpreter, *binding, bool) {
	it := interp.Get()
	b := bound.Load()
	if !jsrt.IsInitialized() || !it.Running() || b == nil {
		l := logging.Plugin()
		l.Warn().Msg(op + ": runtime not initialized")
		return nil, nil, false
	}

	return it, b, true
}

func universe() host.Universe {
	if b := bound.Load(); b != nil {
		return b.host.Universe
	}

	return nil
}
