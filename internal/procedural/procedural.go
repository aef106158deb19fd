// Package procedural binds one host procedural node to the script that
// expands it.
package procedural

import (
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"sync/atomic"

	"github.com/andrei-cloud/go_procgen/internal/errorcodes"
	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/interp"
	"github.com/andrei-cloud/go_procgen/internal/jsrt"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/andrei-cloud/go_procgen/internal/searchpath"
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ModulePrefix namespaces script modules away from anything else in the
// runtime's module table.
const ModulePrefix = "procgen_"

// Script function names.
const (
	FuncInit     = "Init"
	FuncNumNodes = "NumNodes"
	FuncGetNode  = "GetNode"
	FuncCleanup  = "Cleanup"
)

// Functions lists the script entry points, in call order.
var Functions = []string{FuncInit, FuncNumNodes, FuncGetNode, FuncCleanup}

// State is the lifecycle state of an Instance.
type State int32

const (
	Fresh State = iota
	Initialized
	Failed
	Terminated
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Initialized:
		return "initialized"
	case Failed:
		return "failed"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// errMalformed marks a result of the wrong shape or type.
var errMalformed = errors.New("invalid return value")

// Instance is one procedural node's script binding.
type Instance struct {
	id       uuid.UUID
	it       *interp.Interpreter
	universe host.Universe
	resolver *searchpath.Resolver
	log      zerolog.Logger

	procName   string
	scriptPath string
	verbose    bool

	module    *jsrt.Ref
	userDatum *jsrt.Ref
	state     atomic.Int32
}

// New returns a Fresh instance serviced by it, resolving scripts with
// resolver and nodes in universe.
func New(it *interp.Interpreter, universe host.Universe, resolver *searchpath.Resolver) *Instance {
	p := &Instance{
		id:       uuid.New(),
		it:       it,
		universe: universe,
		resolver: resolver,
	}
	p.log = logging.Procedural("", "", p.id.String())

	return p
}

// ID returns the instance identity used in logs.
func (p *Instance) ID() uuid.UUID { return p.id }

// Name returns the procedural node name.
func (p *Instance) Name() string { return p.procName }

// ScriptPath returns the resolved script path, "" if unresolved.
func (p *Instance) ScriptPath() string { return p.scriptPath }

// State returns the lifecycle state.
func (p *Instance) State() State { return State(p.state.Load()) }

// Valid reports whether the script was resolved.
func (p *Instance) Valid() bool { return p.scriptPath != "" }

// Resolve reads the node's parameters and locates its script. It reports
// whether a script was found; Init calls it when needed.
func (p *Instance) Resolve(node host.Node) bool {
	if v, ok := node.UserParam(host.ParamVerbose); ok {
		p.verbose = flag(v)
	}
	p.procName = node.Name()

	script := node.Str(host.ParamData)
	resolved := ""
	if p.resolver.IsFile(script) {
		resolved = script
	} else {
		p.info("Search procedural in options.procedural_searchpath...")
		opts := p.universe.Options()
		if opts == nil {
			p.log.Warn().Msg("no 'options' node")
		} else {
			found, err := p.resolver.Resolve(opts.Str(host.ParamSearchPath), script)
			if err != nil {
				p.log.Warn().
					Str("kind", errorcodes.ErrResolution.CodeOnly()).
					Msgf("procedural '%s' not found in path", script)
			} else {
				resolved = found
			}
		}
	}

	if resolved != "" {
		p.scriptPath = p.resolver.Normalize(resolved)
	}
	p.log = logging.Procedural(p.procName, p.scriptPath, p.id.String())
	if p.scriptPath != "" {
		p.info(fmt.Sprintf("Resolved script path %q", p.scriptPath))
	}

	return p.scriptPath != ""
}

// Init resolves the script, loads it and calls its Init function with the
// node name. It returns the status the script reported, 0 on any failure.
func (p *Instance) Init(node host.Node) int {
	if p.State() != Fresh {
		p.log.Error().Str("state", p.State().String()).Msg("Init called twice")
		return 0
	}
	if !p.Valid() && !p.Resolve(node) {
		p.state.Store(int32(Failed))
		return 0
	}

	rc := 0
	err := p.it.Do(func(s *interp.Scope) error {
		rt := s.Runtime()
		name := ModuleName(p.scriptPath)

		p.info("Loading procedural module")
		mod, err := rt.LoadSource(name, p.scriptPath, Functions...)
		if err != nil {
			p.fail(s, FuncInit, errorcodes.ErrLoad.Wrap(err))
			return nil
		}
		p.module = mod

		fn, err := rt.Attr(mod, FuncInit)
		if err != nil {
			p.fail(s, FuncInit, errorcodes.ErrMissingFunction.Wrap(err))
			return nil
		}
		res, err := rt.Call(fn, p.procName)
		if err != nil {
			p.fail(s, FuncInit, errorcodes.ErrInvocation.Wrap(err))
			return nil
		}
		defer res.Release()

		status, datum, ok := unpackPair(res.Value())
		if !ok {
			p.fail(s, FuncInit, errorcodes.ErrMalformedResult.Wrap(
				fmt.Errorf("%w for %q: want [status, state]", errMalformed, FuncInit)))
			return nil
		}
		p.userDatum = jsrt.NewRef(datum)

		n, err := toInt(status)
		if err != nil {
			p.fail(s, FuncInit, errorcodes.ErrMalformedResult.Wrap(err))
			return nil
		}
		rc = n

		return nil
	})
	if err != nil {
		logging.LogPluginError(&p.log, FuncInit, err)
		rc = 0
	}

	if rc != 0 {
		p.state.Store(int32(Initialized))
	} else {
		p.state.Store(int32(Failed))
	}

	return rc
}

// NumNodes calls the script's NumNodes with the user datum.
func (p *Instance) NumNodes() int {
	if !p.ready(FuncNumNodes) {
		return 0
	}

	rc := 0
	p.call(FuncNumNodes, func(s *interp.Scope, fn goja.Callable) error {
		res, err := s.Runtime().Call(fn, p.userDatum)
		if err != nil {
			return errorcodes.ErrInvocation.Wrap(err)
		}
		defer res.Release()

		n, err := toInt(res.Value())
		if err != nil {
			return errorcodes.ErrMalformedResult.Wrap(err)
		}
		rc = n

		return nil
	})

	return rc
}

// GetNode calls the script's GetNode with the user datum and i, and looks
// the returned name up in the universe.
func (p *Instance) GetNode(i int) host.Node {
	if !p.ready(FuncGetNode) {
		return nil
	}

	var node host.Node
	p.call(FuncGetNode, func(s *interp.Scope, fn goja.Callable) error {
		res, err := s.Runtime().Call(fn, p.userDatum, i)
		if err != nil {
			return errorcodes.ErrInvocation.Wrap(err)
		}
		defer res.Release()

		name, ok := res.Value().Export().(string)
		if !ok {
			return errorcodes.ErrMalformedResult.Wrap(
				fmt.Errorf("%w for %q: want a node name", errMalformed, FuncGetNode))
		}
		node = p.universe.LookUpByName(name)
		if node == nil {
			return errorcodes.ErrMalformedResult.Wrap(
				fmt.Errorf("invalid node name %q returned by %q", name, FuncGetNode))
		}

		return nil
	})

	return node
}

// Cleanup calls the script's Cleanup with the user datum, then releases
// the user datum and the module. It runs at most once.
func (p *Instance) Cleanup() int {
	switch p.State() {
	case Terminated:
		p.log.Error().Msg("Cleanup called twice")
		return 0
	case Fresh:
		p.state.Store(int32(Terminated))
		return 0
	}
	if p.module == nil {
		p.state.Store(int32(Terminated))
		return 0
	}

	rc := 0
	err := p.it.Do(func(s *interp.Scope) error {
		defer p.release()

		if p.userDatum == nil {
			return nil
		}
		fn, err := s.Runtime().Attr(p.module, FuncCleanup)
		if err != nil {
			p.fail(s, FuncCleanup, errorcodes.ErrMissingFunction.Wrap(err))
			return nil
		}
		res, err := s.Runtime().Call(fn, p.userDatum)
		if err != nil {
			p.fail(s, FuncCleanup, errorcodes.ErrInvocation.Wrap(err))
			return nil
		}
		defer res.Release()

		n, err := toInt(res.Value())
		if err != nil {
			p.fail(s, FuncCleanup, errorcodes.ErrMalformedResult.Wrap(err))
			return nil
		}
		rc = n

		return nil
	})
	if err != nil {
		logging.LogPluginError(&p.log, FuncCleanup, err)
		rc = 0
	}
	p.state.Store(int32(Terminated))

	return rc
}

func (p *Instance) ready(op string) bool {
	if st := p.State(); st != Initialized {
		if p.module != nil {
			p.log.Warn().Str("op", op).Str("state", st.String()).Msg("procedural not initialized")
		}
		return false
	}

	return true
}

// call looks op up in the module and runs fn with it inside a scope.
func (p *Instance) call(op string, fn func(s *interp.Scope, f goja.Callable) error) {
	err := p.it.Do(func(s *interp.Scope) error {
		f, err := s.Runtime().Attr(p.module, op)
		if err != nil {
			p.fail(s, op, errorcodes.ErrMissingFunction.Wrap(err))
			return nil
		}
		if err := fn(s, f); err != nil {
			p.fail(s, op, err)
		}
		return nil
	})
	if err != nil {
		logging.LogPluginError(&p.log, op, err)
	}
}

// fail records err on the scope, logs it and clears it.
func (p *Instance) fail(s *interp.Scope, op string, err error) {
	s.Raise(err)
	logging.LogPluginError(&p.log, op, s.Pending())
	s.Clear()
}

// release drops the user datum and the module. The lock is held.
func (p *Instance) release() {
	if p.userDatum != nil {
		_ = p.userDatum.Release()
		p.userDatum = nil
	}
	if p.module != nil {
		_ = p.module.Release()
		p.module = nil
	}
}

func (p *Instance) info(msg string) {
	if p.verbose {
		p.log.Info().Msg(msg)
	}
}

// ModuleName derives the runtime module name of a script: the prefix plus
// the base name up to its final extension.
func ModuleName(scriptPath string) string {
	base := scriptPath
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, path.Ext(base))

	return ModulePrefix + base
}

// flag reads a user parameter as a boolean: hosts may declare flags as
// integers.
func flag(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return false
	}
}

// unpackPair splits a two-element array.
func unpackPair(v goja.Value) (first, second goja.Value, ok bool) {
	obj, isObj := v.(*goja.Object)
	if !isObj || obj.ClassName() != "Array" {
		return nil, nil, false
	}
	if obj.Get("length").ToInteger() != 2 {
		return nil, nil, false
	}

	first, second = obj.Get("0"), obj.Get("1")
	if first == nil {
		first = goja.Undefined()
	}
	if second == nil {
		second = goja.Undefined()
	}

	return first, second, true
}

// toInt coerces a script result to a host int: an integral number or a
// boolean.
func toInt(v goja.Value) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: no value", errMalformed)
	}
	switch x := v.Export().(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case int64:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d overflows int", errMalformed, x)
		}
		return int(x), nil
	case float64:
		if x != math.Trunc(x) || x < math.MinInt32 || x > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %v is not an integer", errMalformed, x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("%w: %s is not an integer", errMalformed, v.String())
	}
}
