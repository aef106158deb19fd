// Package hostapi exposes the host universe to scripts as the native
// module "procgen:host".
//
//	var host = require("procgen:host");
//	var box = host.create("box", "cube_0", {visible: true});
//	host.log("info", "created " + box.name);
package hostapi

import (
	"fmt"
	"sort"

	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ModuleName is the require name of the module.
const ModuleName = "procgen:host"

// Provider returns the universe scripts currently operate on.
type Provider func() host.Universe

// Require returns the loader for ModuleName.
func Require(universe Provider) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		b := &binding{vm: runtime, universe: universe}

		_ = exports.Set("version", host.Version)

		// lookUp(name: string): node | null
		_ = exports.Set("lookUp", func(call goja.FunctionCall) goja.Value {
			n := b.current().LookUpByName(call.Argument(0).String())
			if n == nil {
				return goja.Null()
			}
			return b.wrap(n)
		})

		// exists(name: string): boolean
		_ = exports.Set("exists", func(call goja.FunctionCall) goja.Value {
			return runtime.ToValue(b.current().LookUpByName(call.Argument(0).String()) != nil)
		})

		// create(type: string, name: string, params?: object): node
		_ = exports.Set("create", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < 2 {
				panic(runtime.NewTypeError("create requires a node type and a name"))
			}
			n, err := b.current().CreateNode(call.Argument(0).String(), call.Argument(1).String())
			if err != nil {
				panic(runtime.NewGoError(err))
			}
			if params, ok := call.Argument(2).Export().(map[string]any); ok {
				keys := make([]string, 0, len(params))
				for k := range params {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					n.Set(k, params[k])
				}
			}
			return b.wrap(n)
		})

		// userParams(name: string): object | null
		_ = exports.Set("userParams", func(call goja.FunctionCall) goja.Value {
			n := b.current().LookUpByName(call.Argument(0).String())
			if n == nil {
				return goja.Null()
			}
			return runtime.ToValue(n.UserParams())
		})

		// log(level: "info"|"warn"|"error"|"debug", msg: string)
		_ = exports.Set("log", func(call goja.FunctionCall) goja.Value {
			level, err := zerolog.ParseLevel(call.Argument(0).String())
			if err != nil || level == zerolog.NoLevel {
				level = zerolog.InfoLevel
			}
			log.WithLevel(level).
				Str("component", "procgen").
				Str("source", "script").
				Msg(call.Argument(1).String())
			return goja.Undefined()
		})
	}
}

type binding struct {
	vm       *goja.Runtime
	universe Provider
}

func (b *binding) current() host.Universe {
	var u host.Universe
	if b.universe != nil {
		u = b.universe()
	}
	if u == nil {
		panic(b.vm.NewGoError(fmt.Errorf("%s: no host universe bound", ModuleName)))
	}

	return u
}

// wrap exposes a host node as a plain object with accessor methods.
func (b *binding) wrap(n host.Node) goja.Value {
	obj := b.vm.NewObject()
	_ = obj.Set("name", n.Name())
	_ = obj.Set("type", n.Type())
	_ = obj.Set("str", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(n.Str(call.Argument(0).String()))
	})
	_ = obj.Set("bool", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(n.Bool(call.Argument(0).String()))
	})
	_ = obj.Set("userParam", func(call goja.FunctionCall) goja.Value {
		v, ok := n.UserParam(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return b.vm.ToValue(v)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		n.Set(call.Argument(0).String(), call.Argument(1).Export())
		return goja.Undefined()
	})

	return obj
}
