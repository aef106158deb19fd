package jsrt

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// EnableRequire installs require and console, using the current sys.path as
// the global module folders. It is a no-op once enabled.
func (rt *Runtime) EnableRequire() {
	if rt.registry != nil {
		return
	}

	registry := require.NewRegistry(
		require.WithGlobalFolders(rt.SysPath()...),
		require.WithLoader(rt.loadFile),
	)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(rt.printer))
	for name, loader := range rt.natives {
		registry.RegisterNativeModule(name, loader)
	}
	registry.Enable(rt.vm)
	console.Enable(rt.vm)

	rt.registry = registry
}

// RegisterNativeModule makes a Go module available to require. It may be
// called before or after EnableRequire.
func (rt *Runtime) RegisterNativeModule(name string, loader require.ModuleLoader) {
	if rt.natives == nil {
		rt.natives = make(map[string]require.ModuleLoader)
	}
	rt.natives[name] = loader
	if rt.registry != nil {
		rt.registry.RegisterNativeModule(name, loader)
	}
}

// RequireEnabled reports whether EnableRequire ran.
func (rt *Runtime) RequireEnabled() bool {
	return rt.registry != nil
}

func (rt *Runtime) requireFunc() goja.Value {
	if rt.registry != nil {
		if fn := rt.vm.Get("require"); fn != nil {
			return fn
		}
	}

	return rt.vm.ToValue(func(goja.FunctionCall) goja.Value {
		panic(rt.vm.NewGoError(errors.New("require is not enabled")))
	})
}

func (rt *Runtime) loadFile(path string) ([]byte, error) {
	path = filepath.FromSlash(path)
	st, err := rt.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, require.ModuleFileDoesNotExistError
		}
		return nil, err
	}
	if st.IsDir() {
		return nil, require.ModuleFileDoesNotExistError
	}

	return afero.ReadFile(rt.fs, path)
}

// logPrinter routes console output to the process logger.
type logPrinter struct{}

func (logPrinter) Log(s string) {
	log.Info().Str("component", "procgen").Str("source", "script").Msg(s)
}

func (logPrinter) Warn(s string) {
	log.Warn().Str("component", "procgen").Str("source", "script").Msg(s)
}

func (logPrinter) Error(s string) {
	log.Error().Str("component", "procgen").Str("source", "script").Msg(s)
}
