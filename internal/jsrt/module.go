package jsrt

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
)

var (
	// ErrNoAttribute is returned when a module does not define a name.
	ErrNoAttribute = errors.New("no such attribute")
	// ErrNotCallable is returned when a module attribute is not a function.
	ErrNotCallable = errors.New("attribute is not callable")
)

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

type cachedProgram struct {
	modTime time.Time
	size    int64
	prog    *goja.Program
}

// LoadSource runs the file at path as a module named name and returns an
// owned reference to its namespace. Top-level bindings listed in publish are
// added to the namespace unless the module exported the same name itself.
// A previous module of the same name is replaced in sys.modules.
func (rt *Runtime) LoadSource(name, path string, publish ...string) (ref *Ref, err error) {
	defer recoverInto(&err)

	for _, p := range publish {
		if !identRe.MatchString(p) {
			return nil, fmt.Errorf("invalid binding name %q", p)
		}
	}

	prog, err := rt.compile(name, path, publish)
	if err != nil {
		return nil, err
	}

	wrapper, err := rt.vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", path, err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, fmt.Errorf("module wrapper for %s is not a function", path)
	}

	module := rt.vm.NewObject()
	exports := rt.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := module.Set("id", name); err != nil {
		return nil, err
	}
	if err := module.Set("filename", path); err != nil {
		return nil, err
	}

	if _, err := fn(
		goja.Undefined(),
		exports,
		rt.requireFunc(),
		module,
		rt.vm.ToValue(path),
		rt.vm.ToValue(filepath.Dir(path)),
	); err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", path, err)
	}

	ns := module.Get("exports")
	if ns == nil || goja.IsUndefined(ns) || goja.IsNull(ns) {
		return nil, fmt.Errorf("module %s has no exports", name)
	}

	if mods, ok := rt.sys.Get("modules").(*goja.Object); ok {
		if err := mods.Set(name, ns); err != nil {
			return nil, err
		}
	}

	return NewRef(ns), nil
}

// Attr returns the callable bound to name in the module namespace.
func (rt *Runtime) Attr(mod *Ref, name string) (goja.Callable, error) {
	v := mod.Value()
	if v == nil {
		return nil, ErrReleased
	}
	obj := v.ToObject(rt.vm)
	attr := obj.Get(name)
	if attr == nil || goja.IsUndefined(attr) {
		return nil, fmt.Errorf("%w: %s", ErrNoAttribute, name)
	}
	fn, ok := goja.AssertFunction(attr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, name)
	}

	return fn, nil
}

// Call invokes fn with args and returns an owned reference to the result.
// Arguments that are *Ref are passed by value; others go through ToValue.
func (rt *Runtime) Call(fn goja.Callable, args ...any) (ref *Ref, err error) {
	defer recoverInto(&err)

	values := make([]goja.Value, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *Ref:
			if v == nil || v.Value() == nil {
				values[i] = goja.Null()
			} else {
				values[i] = v.Value()
			}
		case goja.Value:
			values[i] = v
		default:
			values[i] = rt.vm.ToValue(v)
		}
	}

	res, err := fn(goja.Undefined(), values...)
	if err != nil {
		return nil, err
	}

	return NewRef(res), nil
}

// Modules returns the names currently registered in sys.modules.
func (rt *Runtime) Modules() []string {
	mods, ok := rt.sys.Get("modules").(*goja.Object)
	if !ok {
		return nil
	}

	return mods.Keys()
}

func (rt *Runtime) compile(name, path string, publish []string) (*goja.Program, error) {
	st, err := rt.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cache := !rt.dontWriteBytecode()
	if cache {
		if c, ok := rt.programs[path]; ok && c.modTime.Equal(st.ModTime()) && c.size == st.Size() {
			return c.prog, nil
		}
	}

	src, err := afero.ReadFile(rt.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	prog, err := goja.Compile(name, wrapSource(string(src), publish), false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", path, err)
	}

	if cache {
		rt.programs[path] = cachedProgram{modTime: st.ModTime(), size: st.Size(), prog: prog}
	} else {
		delete(rt.programs, path)
	}

	return prog, nil
}

func (rt *Runtime) dontWriteBytecode() bool {
	v := rt.sys.Get("dontWriteBytecode")

	return v != nil && v.ToBoolean()
}

func wrapSource(src string, publish []string) string {
	var b strings.Builder
	b.WriteString("(function (exports, require, module, __filename, __dirname) {\n")
	b.WriteString(src)
	b.WriteString("\n;\n")
	for _, name := range publish {
		fmt.Fprintf(&b,
			"if (typeof %[1]s !== \"undefined\" && !Object.prototype.hasOwnProperty.call(module.exports, %[1]q)) { module.exports[%[1]q] = %[1]s; }\n",
			name,
		)
	}
	b.WriteString("})")

	return b.String()
}
