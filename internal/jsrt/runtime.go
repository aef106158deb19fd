// Package jsrt owns the process-wide script runtime.
//
// There is at most one runtime per process. Whoever calls Initialize first
// owns it; later embedders find it through Get. Every method touching the
// virtual machine requires the caller to hold the runtime's gil.Lock.
package jsrt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/andrei-cloud/go_procgen/internal/gil"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	// ErrNotInitialized is returned when no runtime exists in the process.
	ErrNotInitialized = errors.New("runtime not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("runtime already initialized")
)

// Options configures Initialize.
type Options struct {
	// ProgramName is exposed to scripts as sys.programName.
	ProgramName string
	// Fs backs script and module reads. Defaults to the OS filesystem.
	Fs afero.Fs
	// Path seeds sys.path, the module search path.
	Path []string
	// NativeDir is the native extension directory. Defaults to "native"
	// next to the executable.
	NativeDir string
	// Platform overrides sys.platform.
	Platform string
	// NativeModules are registered with require when it is enabled.
	NativeModules map[string]require.ModuleLoader
	// Printer receives console output. Defaults to the zerolog printer.
	Printer console.Printer
}

// Runtime is the embedded script runtime.
type Runtime struct {
	name    string
	vm      *goja.Runtime
	lock    *gil.Lock
	fs      afero.Fs
	sys     *goja.Object
	natives map[string]require.ModuleLoader
	printer console.Printer

	registry *require.Registry
	programs map[string]cachedProgram
}

var (
	mu      sync.Mutex
	current *Runtime
)

// Initialize creates the process runtime. On return the calling goroutine
// holds the runtime lock through the main thread state.
func Initialize(opts Options) (*Runtime, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return nil, ErrAlreadyInitialized
	}

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Printer == nil {
		opts.Printer = logPrinter{}
	}
	if opts.Platform == "" {
		opts.Platform = platform()
	}
	if opts.NativeDir == "" {
		opts.NativeDir = defaultNativeDir()
	}

	lock, _ := gil.New()
	rt := &Runtime{
		name:     opts.ProgramName,
		vm:       goja.New(),
		lock:     lock,
		fs:       opts.Fs,
		natives:  opts.NativeModules,
		printer:  opts.Printer,
		programs: make(map[string]cachedProgram),
	}
	rt.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if err := rt.installSys(opts); err != nil {
		lock.SaveThread()
		return nil, fmt.Errorf("failed to install sys: %w", err)
	}

	current = rt

	return rt, nil
}

// IsInitialized reports whether a runtime exists in the process.
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()

	return current != nil
}

// Get returns the process runtime, nil if none.
func Get() *Runtime {
	mu.Lock()
	defer mu.Unlock()

	return current
}

// Finalize tears the process runtime down. The caller must hold the lock,
// which is released once the runtime is gone.
func Finalize() error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return ErrNotInitialized
	}
	rt := current
	current = nil

	if n := LiveRefs(); n != 0 {
		log.Warn().
			Str("component", "procgen").
			Int64("live_refs", n).
			Msg("runtime finalized with live references")
	}

	rt.vm.ClearInterrupt()
	rt.programs = nil
	rt.registry = nil
	rt.lock.SaveThread()

	return nil
}

// Lock returns the runtime's global lock.
func (rt *Runtime) Lock() *gil.Lock {
	return rt.lock
}

// VM returns the virtual machine. The lock must be held while using it.
func (rt *Runtime) VM() *goja.Runtime {
	return rt.vm
}

// ProgramName returns the name given at initialization.
func (rt *Runtime) ProgramName() string {
	return rt.name
}

// Sys returns the sys object.
func (rt *Runtime) Sys() *goja.Object {
	return rt.sys
}

// SysPath returns the current module search path.
func (rt *Runtime) SysPath() []string {
	var path []string
	if err := rt.vm.ExportTo(rt.sys.Get("path"), &path); err != nil {
		return nil
	}

	return path
}

// RunSimpleString compiles and runs src at top level.
func (rt *Runtime) RunSimpleString(src string) (err error) {
	defer recoverInto(&err)

	if _, err := rt.vm.RunString(src); err != nil {
		return fmt.Errorf("failed to run script: %w", err)
	}

	return nil
}

func (rt *Runtime) installSys(opts Options) error {
	sys := rt.vm.NewObject()
	path := make([]any, 0, len(opts.Path))
	for _, p := range opts.Path {
		if p != "" {
			path = append(path, p)
		}
	}
	for k, v := range map[string]any{
		"path":              rt.vm.NewArray(path...),
		"platform":          opts.Platform,
		"nativeDir":         opts.NativeDir,
		"programName":       opts.ProgramName,
		"dontWriteBytecode": false,
		"modules":           rt.vm.NewObject(),
	} {
		if err := sys.Set(k, v); err != nil {
			return err
		}
	}
	rt.sys = sys

	return rt.vm.Set("sys", sys)
}

func platform() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}

	return runtime.GOOS
}

func defaultNativeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "native"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	return filepath.Join(filepath.Dir(exe), "native")
}

// recoverInto converts a panic raised inside the virtual machine into an error.
func recoverInto(err *error) {
	r := recover()
	if r == nil {
		return
	}
	switch v := r.(type) {
	case error:
		*err = fmt.Errorf("script panicked: %w", v)
	default:
		*err = fmt.Errorf("script panicked: %v", v)
	}
}
