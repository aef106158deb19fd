package plugin

import (
	"sort"
	"sync"

	"github.com/andrei-cloud/go_procgen/internal/procedural"
	"github.com/google/uuid"
)

// InstanceInfo describes a live procedural instance.
type InstanceInfo struct {
	ID     uuid.UUID
	Name   string
	Script string
	State  procedural.State
}

// Registry tracks the procedural instances between Init and Cleanup.
type Registry struct {
	instances map[uuid.UUID]*procedural.Instance
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[uuid.UUID]*procedural.Instance),
	}
}

// Register adds an instance.
func (r *Registry) Register(p *procedural.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[p.ID()] = p
}

// Remove drops an instance.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.instances, id)
}

// Get retrieves an instance by id.
func (r *Registry) Get(id uuid.UUID) (*procedural.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.instances[id]
	return p, ok
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.instances)
}

// List returns all live instances, ordered by name then id.
func (r *Registry) List() []InstanceInfo {
	r.mu.RLock()
	result := make([]InstanceInfo, 0, len(r.instances))
	for _, p := range r.instances {
		result = append(result, InstanceInfo{
			ID:     p.ID(),
			Name:   p.Name(),
			Script: p.ScriptPath(),
			State:  p.State(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return result
}
