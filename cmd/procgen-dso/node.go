//go:build procgen_dso

package main

// #include <stdlib.h>
// #include "procgen.h"
import "C"

import (
	"errors"
	"fmt"
	"strconv"
	"unsafe"

	"github.com/andrei-cloud/go_procgen/internal/host"
)

var errCreate = errors.New("host refused to create node")

// cNode is a host node handle.
type cNode struct {
	ptr unsafe.Pointer
}

func wrapNode(ptr unsafe.Pointer) host.Node {
	if ptr == nil {
		return nil
	}

	return cNode{ptr: ptr}
}

func (n cNode) Name() string {
	return C.GoString(C.procgen_node_name(n.ptr))
}

func (n cNode) Type() string {
	return C.GoString(C.procgen_node_type(n.ptr))
}

func (n cNode) Str(param string) string {
	cp := C.CString(param)
	defer C.free(unsafe.Pointer(cp))

	return C.GoString(C.procgen_node_str(n.ptr, cp))
}

func (n cNode) Bool(param string) bool {
	cp := C.CString(param)
	defer C.free(unsafe.Pointer(cp))

	return C.procgen_node_bool(n.ptr, cp) != 0
}

func (n cNode) UserParam(name string) (any, bool) {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))

	switch C.procgen_user_kind(n.ptr, cn) {
	case C.PROCGEN_PARAM_BOOL:
		return C.procgen_user_bool(n.ptr, cn) != 0, true
	case C.PROCGEN_PARAM_INT:
		return int64(C.procgen_user_int(n.ptr, cn)), true
	case C.PROCGEN_PARAM_FLOAT:
		return float64(C.procgen_user_float(n.ptr, cn)), true
	case C.PROCGEN_PARAM_STRING:
		return C.GoString(C.procgen_user_str(n.ptr, cn)), true
	default:
		return nil, false
	}
}

func (n cNode) UserParams() map[string]any {
	count := int(C.procgen_user_count(n.ptr))
	out := make(map[string]any, count)
	for i := 0; i < count; i++ {
		name := C.GoString(C.procgen_user_name(n.ptr, C.int(i)))
		if v, ok := n.UserParam(name); ok {
			out[name] = v
		}
	}

	return out
}

// Set passes every value to the host as a string.
func (n cNode) Set(param string, value any) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case bool:
		s = strconv.FormatBool(v)
	default:
		s = fmt.Sprint(v)
	}

	cp, cv := C.CString(param), C.CString(s)
	defer C.free(unsafe.Pointer(cp))
	defer C.free(unsafe.Pointer(cv))
	C.procgen_node_set_str(n.ptr, cp, cv)
}

// cUniverse is the host universe reached through the callbacks.
type cUniverse struct{}

func (cUniverse) Options() host.Node {
	return wrapNode(C.procgen_options())
}

func (cUniverse) LookUpByName(name string) host.Node {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))

	return wrapNode(C.procgen_lookup(cn))
}

func (cUniverse) CreateNode(nodeType, name string) (host.Node, error) {
	ct, cn := C.CString(nodeType), C.CString(name)
	defer C.free(unsafe.Pointer(ct))
	defer C.free(unsafe.Pointer(cn))

	n := wrapNode(C.procgen_create(ct, cn))
	if n == nil {
		return nil, fmt.Errorf("%w: %s %q", errCreate, nodeType, name)
	}

	return n, nil
}
