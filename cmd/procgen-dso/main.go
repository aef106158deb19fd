//go:build procgen_dso

// Command procgen-dso builds the plugin as a shared library for a C host:
//
//	go build -tags procgen_dso -buildmode=c-shared -o libprocgen.so ./cmd/procgen-dso
//
// Attaching the library starts the interpreter. The host then calls
// ProcSetHost with its callback table and ProcLoader to obtain the entry
// points, and ProcUnload before unloading the library.
package main

// #include <stdlib.h>
// #include <string.h>
// #include "procgen.h"
import "C"

import (
	"fmt"
	"os"
	"runtime/cgo"
	"unsafe"

	"github.com/andrei-cloud/go_procgen/internal/config"
	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/interp"
	"github.com/andrei-cloud/go_procgen/internal/logging"
	"github.com/andrei-cloud/go_procgen/internal/plugin"
	"github.com/andrei-cloud/go_procgen/internal/procedural"
	"github.com/rs/zerolog"
)

func main() {}

// init runs when the library is attached: it constructs the interpreter
// singleton bound to the host universe, which is reached through the
// callbacks installed later by ProcSetHost.
func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, "procgen:", err)
		return
	}
	cfg := config.Get()
	if err := logging.InitLoggerTo(os.Stderr, cfg.Log.Level, cfg.Log.Format == "human"); err != nil {
		fmt.Fprintln(os.Stderr, "procgen:", err)
		return
	}

	plugin.Bind(plugin.Host{Universe: cUniverse{}})
	plugin.Load(interp.OptionsFromConfig(cfg))
}

//export ProcSetHost
func ProcSetHost(api *C.ProcHostAPI) C.int {
	if api == nil {
		return 0
	}
	C.procgen_set_api(api)

	cfg := config.Get()
	w := logging.HostWriter{Sink: hostMessage, Human: cfg.Log.Format == "human"}
	if err := logging.InitLoggerTo(w, cfg.Log.Level, false); err != nil {
		hostMessage(zerolog.ErrorLevel, "procgen: "+err.Error())
	}
	if !interp.Get().Running() {
		return 0
	}

	return 1
}

//export ProcUnload
func ProcUnload() {
	plugin.Unload()
}

//export ProcLoader
func ProcLoader(vt *C.ProcVTable) C.int {
	if vt == nil {
		return 0
	}

	var table plugin.VTable
	if !plugin.Loader(&table) {
		return 0
	}
	C.procgen_fill_vtable(vt)

	version := C.CString(table.Version)
	defer C.free(unsafe.Pointer(version))
	C.strncpy(&vt.version[0], version, C.size_t(len(vt.version)-1))
	vt.version[len(vt.version)-1] = 0

	return 1
}

//export ProcInit
func ProcInit(node unsafe.Pointer, user *C.uintptr_t) C.int {
	n := wrapNode(node)
	if n == nil {
		return 0
	}

	p, rc := plugin.Init(n)
	if p != nil && user != nil {
		*user = C.uintptr_t(cgo.NewHandle(p))
	}

	return C.int(rc)
}

//export ProcCleanup
func ProcCleanup(user C.uintptr_t) C.int {
	if user == 0 {
		return C.int(plugin.Cleanup(nil))
	}
	h := cgo.Handle(user)
	defer h.Delete()

	return C.int(plugin.Cleanup(instance(user)))
}

//export ProcNumNodes
func ProcNumNodes(user C.uintptr_t) C.int {
	return C.int(plugin.NumNodes(instance(user)))
}

//export ProcGetNode
func ProcGetNode(user C.uintptr_t, i C.int) unsafe.Pointer {
	n, ok := plugin.GetNode(instance(user), int(i)).(cNode)
	if !ok {
		return nil
	}

	return n.ptr
}

func instance(user C.uintptr_t) *procedural.Instance {
	if user == 0 {
		return nil
	}
	p, _ := cgo.Handle(user).Value().(*procedural.Instance)

	return p
}

// hostMessage forwards a log line to the host's message callback.
func hostMessage(level zerolog.Level, msg string) {
	severity := C.PROCGEN_SEVERITY_INFO
	switch {
	case level >= zerolog.ErrorLevel:
		severity = C.PROCGEN_SEVERITY_ERROR
	case level == zerolog.WarnLevel:
		severity = C.PROCGEN_SEVERITY_WARNING
	case level == zerolog.DebugLevel || level == zerolog.TraceLevel:
		severity = C.PROCGEN_SEVERITY_DEBUG
	}

	cm := C.CString(msg)
	defer C.free(unsafe.Pointer(cm))
	C.procgen_message(C.int(severity), cm)
}

var _ host.Universe = cUniverse{}
