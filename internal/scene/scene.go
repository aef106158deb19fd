// Package scene provides an in-memory host universe, loadable from YAML.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ProceduralType is the node type of procedural nodes.
const ProceduralType = "procedural"

// ErrDuplicateNode is returned when a node name is already taken.
var ErrDuplicateNode = errors.New("duplicate node name")

// File is the YAML layout of a scene.
type File struct {
	Options     map[string]any `yaml:"options"`
	Nodes       []NodeSpec     `yaml:"nodes"`
	Procedurals []NodeSpec     `yaml:"procedurals"`
}

// NodeSpec describes one node.
type NodeSpec struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Data   string         `yaml:"data"`
	Params map[string]any `yaml:"params"`
}

// Node is an in-memory host node.
type Node struct {
	mu     sync.RWMutex
	name   string
	typ    string
	params map[string]any
	user   map[string]any
}

func newNode(typ, name string) *Node {
	return &Node{
		name:   name,
		typ:    typ,
		params: make(map[string]any),
		user:   make(map[string]any),
	}
}

// Name implements host.Node.
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.name
}

// Type implements host.Node.
func (n *Node) Type() string {
	return n.typ
}

// Str implements host.Node.
func (n *Node) Str(param string) string {
	if param == host.ParamName {
		return n.Name()
	}
	v, _ := n.lookup(param)
	s, _ := v.(string)

	return s
}

// Bool implements host.Node.
func (n *Node) Bool(param string) bool {
	v, _ := n.lookup(param)
	b, _ := v.(bool)

	return b
}

// UserParam implements host.Node.
func (n *Node) UserParam(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	v, ok := n.user[name]

	return v, ok
}

// UserParams implements host.Node.
func (n *Node) UserParams() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make(map[string]any, len(n.user))
	for k, v := range n.user {
		out[k] = v
	}

	return out
}

// Set implements host.Node. Setting "name" renames the node only in the
// node itself; Universe.Rename keeps the registry consistent.
func (n *Node) Set(param string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if param == host.ParamName {
		if s, ok := value.(string); ok {
			n.name = s
		}
		return
	}
	n.params[param] = value
}

// Params returns a copy of the built-in parameters.
func (n *Node) Params() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make(map[string]any, len(n.params))
	for k, v := range n.params {
		out[k] = v
	}

	return out
}

// DeclareUserParam adds a user parameter.
func (n *Node) DeclareUserParam(name string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.user[name] = value
}

func (n *Node) lookup(param string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if v, ok := n.params[param]; ok {
		return v, true
	}
	v, ok := n.user[param]

	return v, ok
}

// Universe is an in-memory host.Universe.
type Universe struct {
	mu          sync.RWMutex
	options     *Node
	nodes       map[string]*Node
	procedurals []*Node
}

// NewUniverse returns an empty universe with an options node.
func NewUniverse() *Universe {
	return &Universe{
		options: newNode("options", "options"),
		nodes:   make(map[string]*Node),
	}
}

// Options implements host.Universe.
func (u *Universe) Options() host.Node {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.options == nil {
		return nil
	}

	return u.options
}

// RemoveOptions drops the options node.
func (u *Universe) RemoveOptions() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.options = nil
}

// LookUpByName implements host.Universe.
func (u *Universe) LookUpByName(name string) host.Node {
	u.mu.RLock()
	defer u.mu.RUnlock()

	n, ok := u.nodes[name]
	if !ok {
		return nil
	}

	return n
}

// CreateNode implements host.Universe.
func (u *Universe) CreateNode(nodeType, name string) (host.Node, error) {
	n, err := u.add(nodeType, name)
	if err != nil {
		return nil, err
	}

	return n, nil
}

// AddProcedural adds a procedural node referencing script.
func (u *Universe) AddProcedural(name, script string, userParams map[string]any) (*Node, error) {
	n, err := u.add(ProceduralType, name)
	if err != nil {
		return nil, err
	}
	n.Set(host.ParamData, script)
	for k, v := range userParams {
		n.DeclareUserParam(k, v)
	}

	u.mu.Lock()
	u.procedurals = append(u.procedurals, n)
	u.mu.Unlock()

	return n, nil
}

// Procedurals returns the procedural nodes in declaration order.
func (u *Universe) Procedurals() []*Node {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return append([]*Node(nil), u.procedurals...)
}

// Names returns all node names, sorted.
func (u *Universe) Names() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()

	names := make([]string, 0, len(u.nodes))
	for name := range u.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Rename moves a node to a new name.
func (u *Universe) Rename(oldName, newName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	n, ok := u.nodes[oldName]
	if !ok {
		return fmt.Errorf("unknown node %q", oldName)
	}
	if _, taken := u.nodes[newName]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, newName)
	}
	delete(u.nodes, oldName)
	n.Set(host.ParamName, newName)
	u.nodes[newName] = n

	return nil
}

func (u *Universe) add(nodeType, name string) (*Node, error) {
	if name == "" {
		return nil, errors.New("node name is empty")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, taken := u.nodes[name]; taken {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	n := newNode(nodeType, name)
	u.nodes[name] = n

	return n, nil
}

// Parse builds a universe from YAML.
func Parse(data []byte) (*Universe, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse scene: %w", err)
	}

	u := NewUniverse()
	for k, v := range f.Options {
		u.options.Set(k, v)
	}
	for _, spec := range f.Nodes {
		n, err := u.add(spec.Type, spec.Name)
		if err != nil {
			return nil, err
		}
		for k, v := range spec.Params {
			n.Set(k, v)
		}
	}
	for _, spec := range f.Procedurals {
		if _, err := u.AddProcedural(spec.Name, spec.Data, spec.Params); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// Load reads and parses the scene file at path.
func Load(fs afero.Fs, path string) (*Universe, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene %s: %w", path, err)
	}

	return Parse(data)
}
