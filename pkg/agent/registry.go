package agent

import (
	"fmt"

	"github.com/chatsg/chatsg/pkg/registry"
)

// Registry is the thread-safe map from name to live agent (spec §4.5).
// Lookup is O(1); enumeration is unordered.
type Registry struct {
	base *registry.BaseRegistry[Agent]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Agent]()}
}

// RegisterAgent adds a by its GetInfo().Name.
func (r *Registry) RegisterAgent(a Agent) error {
	name := a.GetInfo().Name
	if err := r.base.Register(name, a); err != nil {
		return fmt.Errorf("register agent %q: %w", name, err)
	}
	return nil
}

// UnregisterAgent removes name, calling Cleanup on the removed agent.
func (r *Registry) UnregisterAgent(name string) error {
	a, ok := r.base.Get(name)
	if !ok {
		return fmt.Errorf("agent %q not registered", name)
	}
	if err := r.base.Remove(name); err != nil {
		return err
	}
	return a.Cleanup()
}

// GetAgent looks up name.
func (r *Registry) GetAgent(name string) (Agent, bool) {
	return r.base.Get(name)
}

// ListAgents returns every agent's capability descriptor, unordered.
func (r *Registry) ListAgents() []Capabilities {
	agents := r.base.List()
	caps := make([]Capabilities, 0, len(agents))
	for _, a := range agents {
		caps = append(caps, a.GetCapabilities())
	}
	return caps
}

// Names returns every registered agent name, unordered.
func (r *Registry) Names() []string {
	agents := r.base.List()
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.GetInfo().Name)
	}
	return names
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	return r.base.Count()
}

// Exists reports whether name is registered, satisfying handoff.Registered.
func (r *Registry) Exists(name string) bool {
	_, ok := r.base.Get(name)
	return ok
}
