// Package host defines what the plugin needs from the rendering host.
package host

// Version is the plugin ABI version reported to the host loader.
const Version = "procgen-1.0"

// Parameter names read from procedural and options nodes.
const (
	ParamName       = "name"
	ParamData       = "data"
	ParamVerbose    = "verbose"
	ParamSearchPath = "procedural_searchpath"
)

// Node is a host scene-graph node.
type Node interface {
	// Name returns the node's unique name.
	Name() string
	// Type returns the node entry type, e.g. "procedural" or "box".
	Type() string
	// Str returns a string parameter, "" if unset.
	Str(param string) string
	// Bool returns a boolean parameter, false if unset.
	Bool(param string) bool
	// UserParam returns a user-declared parameter and whether it exists.
	UserParam(name string) (any, bool)
	// UserParams returns all user-declared parameters.
	UserParams() map[string]any
	// Set assigns a parameter.
	Set(param string, value any)
}

// Universe is the host's node registry.
type Universe interface {
	// Options returns the options node, nil if the universe has none.
	Options() Node
	// LookUpByName returns the node with the given name, nil if unknown.
	LookUpByName(name string) Node
	// CreateNode adds a node of the given type and name.
	CreateNode(nodeType, name string) (Node, error)
}

// Waiter waits for a spawned thread to finish.
type Waiter interface {
	Wait()
}

// Threads is the host's thread-creation primitive.
type Threads interface {
	// Spawn runs fn on a new thread.
	Spawn(fn func()) Waiter
}
