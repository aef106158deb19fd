// Package interp owns the lifecycle of the embedded runtime on behalf of the
// plugin.
//
// The Interpreter is a process singleton created by the library load hook
// (Begin) and destroyed by the unload hook (End). It either initializes the
// runtime itself or attaches to one a foreign embedder already initialized,
// and in both cases leaves the runtime lock released while running so any
// host thread can enter through Do.
package interp

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/errorcodes"
	"github.com/andrei-cloud/go_procgen/internal/gil"
	"github.com/andrei-cloud/go_procgen/internal/goroutineid"
	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/jsrt"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrNotRunning is returned by Do when bootstrap failed or End ran.
var ErrNotRunning = errors.New("interpreter not running")

// setupScript runs once at bootstrap, under the lock.
const setupScript = `
sys.dontWriteBytecode = true;
if (sys.platform === "win32") {
  var i = sys.path.indexOf(sys.nativeDir);
  if (i >= 0) {
    sys.path.splice(i, 1);
  }
  sys.path.unshift(sys.nativeDir);
}
`

// Options configures Begin.
type Options struct {
	// ProgramName is passed to the runtime when we initialize it.
	ProgramName string
	// Strategy is config.StrategyAuto or config.StrategyFresh.
	Strategy string
	// Dispatch is config.DispatchDirect or config.DispatchWorker.
	Dispatch string
	// Debug, when non-zero, logs the library and module search paths.
	Debug int
	// ModulePath is the initial module search path (PROCGEN_PATH).
	ModulePath string
	// Fs backs script reads. Defaults to the OS filesystem.
	Fs afero.Fs
	// Threads spawns worker threads for DispatchWorker.
	Threads host.Threads
	// NativeModules are made available to require.
	NativeModules map[string]require.ModuleLoader
	// Printer receives script console output.
	Printer console.Printer
	// Platform and NativeDir override the runtime's sys values.
	Platform  string
	NativeDir string
	// LookupEnv reads the environment for the debug dump.
	LookupEnv func(string) (string, bool)
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		ProgramName: c.Interpreter.ProgramName,
		Strategy:    c.Interpreter.Strategy,
		Dispatch:    c.Interpreter.Dispatch,
		Debug:       ParseDebug(c.Interpreter.Debug),
		ModulePath:  c.Interpreter.Path,
	}
}

// Interpreter is the plugin's handle on the runtime.
type Interpreter struct {
	opts Options
	log  zerolog.Logger
	rt   *jsrt.Runtime

	ownsRuntime       bool
	savedMainState    *gil.ThreadState
	savedForeignState *gil.ThreadState
	running           atomic.Bool
}

var (
	mu      sync.Mutex
	current atomic.Pointer[Interpreter]

	goos = runtime.GOOS
)

// Begin constructs the singleton. A second Begin before End returns the
// existing instance. When bootstrap fails the instance exists but is not
// running, and the error is returned.
func Begin(opts Options) (*Interpreter, error) {
	mu.Lock()
	defer mu.Unlock()

	if it := current.Load(); it != nil {
		return it, nil
	}

	it := &Interpreter{opts: withDefaults(opts), log: logging.Plugin()}
	err := it.bootstrap()
	if err != nil {
		it.log.Error().
			Err(err).
			Str("kind", errorcodes.ErrBootstrap.CodeOnly()).
			Msg("runtime bootstrap failed, procedurals disabled")
	} else {
		it.running.Store(true)
	}
	current.Store(it)

	return it, err
}

// End destroys the singleton, restoring the runtime to the state Begin
// observed.
func End() {
	mu.Lock()
	defer mu.Unlock()

	it := current.Load()
	if it == nil {
		return
	}
	it.teardown()
	current.Store(nil)
}

// Get returns the singleton, nil outside Begin/End.
func Get() *Interpreter {
	return current.Load()
}

// Running reports whether the interpreter can service calls.
func (it *Interpreter) Running() bool {
	return it != nil && it.running.Load()
}

// OwnsRuntime reports whether Begin initialized the runtime.
func (it *Interpreter) OwnsRuntime() bool {
	return it.ownsRuntime
}

// Runtime returns the runtime in use.
func (it *Interpreter) Runtime() *jsrt.Runtime {
	return it.rt
}

// Fs returns the filesystem scripts are read from.
func (it *Interpreter) Fs() afero.Fs {
	return it.opts.Fs
}

func withDefaults(opts Options) Options {
	if opts.ProgramName == "" {
		opts.ProgramName = "procgen"
	}
	if opts.Strategy == "" {
		opts.Strategy = config.StrategyAuto
	}
	if opts.Dispatch == "" {
		opts.Dispatch = config.DispatchDirect
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Threads == nil {
		opts.Threads = host.OSThreads{}
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}

	return opts
}

func (it *Interpreter) bootstrap() error {
	switch it.opts.Strategy {
	case config.StrategyAuto, config.StrategyFresh:
	default:
		return errorcodes.ErrBootstrap.Wrap(fmt.Errorf("unknown strategy %q", it.opts.Strategy))
	}
	switch it.opts.Dispatch {
	case config.DispatchDirect, config.DispatchWorker:
	default:
		return errorcodes.ErrBootstrap.Wrap(fmt.Errorf("unknown dispatch %q", it.opts.Dispatch))
	}

	if it.opts.Debug != 0 {
		it.dumpPaths()
	}

	if jsrt.IsInitialized() {
		return it.attach()
	}

	return it.initialize()
}

// attach joins a runtime a foreign embedder initialized.
func (it *Interpreter) attach() error {
	it.log.Info().Msg("runtime already initialized")

	rt := jsrt.Get()
	if rt == nil {
		return errorcodes.ErrBootstrap.Wrap(jsrt.ErrNotInitialized)
	}
	it.rt = rt
	lock := rt.Lock()

	if !lock.ThreadsInitialized() {
		it.log.Info().Msg("initialize runtime threads")
		lock.InitThreads()
		if ts := lock.ThisThreadState(); ts != nil && lock.Held() && lock.Current() == nil {
			lock.Swap(ts)
		}
	}
	if heldHere(lock) {
		it.savedForeignState = lock.SaveThread()
	}

	state := lock.Ensure()
	defer lock.Release(state)

	if err := it.setup(); err != nil {
		return errorcodes.ErrBootstrap.Wrap(err)
	}

	return nil
}

// initialize creates the runtime and releases its lock.
func (it *Interpreter) initialize() error {
	it.log.Info().Msg("initializing runtime")

	var path []string
	if it.opts.ModulePath != "" {
		path = strings.Split(it.opts.ModulePath, string(os.PathListSeparator))
	}
	rt, err := jsrt.Initialize(jsrt.Options{
		ProgramName: it.opts.ProgramName,
		Fs:          it.opts.Fs,
		Path:        path,
		NativeDir:   it.opts.NativeDir,
		Platform:    it.opts.Platform,
		Printer:     it.opts.Printer,
	})
	if err != nil {
		return errorcodes.ErrBootstrap.Wrap(err)
	}
	it.rt = rt
	it.ownsRuntime = true
	lock := rt.Lock()
	lock.InitThreads()

	if err := it.setup(); err != nil {
		_ = jsrt.Finalize()
		it.rt = nil
		it.ownsRuntime = false
		return errorcodes.ErrBootstrap.Wrap(err)
	}

	it.savedMainState = lock.SaveThread()

	return nil
}

// setup runs the sys setup script and enables require. The lock is held.
func (it *Interpreter) setup() error {
	if err := it.rt.RunSimpleString(setupScript); err != nil {
		return err
	}
	for name, loader := range it.opts.NativeModules {
		it.rt.RegisterNativeModule(name, loader)
	}
	it.rt.EnableRequire()

	return nil
}

func (it *Interpreter) teardown() {
	it.running.Store(false)
	if it.rt == nil {
		return
	}
	lock := it.rt.Lock()

	switch {
	case it.ownsRuntime:
		it.log.Info().Msg("finalize runtime")
		lock.RestoreThread(it.savedMainState)
		if err := jsrt.Finalize(); err != nil {
			it.log.Error().Err(err).Msg("runtime finalize failed")
		}
		it.savedMainState = nil
	case it.savedForeignState != nil:
		lock.RestoreThread(it.savedForeignState)
		it.savedForeignState = nil
	}
}

func (it *Interpreter) dumpPaths() {
	var libVar string
	switch goos {
	case "windows":
		libVar = "PATH"
	case "darwin":
		// no library path variable on macOS
	default:
		libVar = "LD_LIBRARY_PATH"
	}

	if libVar != "" {
		if v, ok := it.opts.LookupEnv(libVar); ok {
			logging.LogPathList(&it.log, "LIBPATH:", v, os.PathListSeparator)
		}
	}
	if it.opts.ModulePath != "" {
		logging.LogPathList(&it.log, "PROCGEN_PATH:", it.opts.ModulePath, os.PathListSeparator)
	}
}

// ParseDebug reads a debug toggle the way the environment variable is
// documented: a leading integer, non-zero enables.
func ParseDebug(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && (s[end] == '-' || s[end] == '+')) {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}

	return n
}

// heldHere reports whether the calling goroutine holds lock.
func heldHere(lock *gil.Lock) bool {
	ts := lock.Current()

	return lock.Held() && ts != nil && ts.Goroutine() == goroutineid.Get()
}
