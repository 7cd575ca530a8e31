package catalog

import (
	"fmt"
	"sync"
)

// Factory is a function that creates a new Adapter instance.
type Factory func() Adapter

// Registry manages adapter factories and active, named connections. Callers
// register one factory per driver and then connect named targets; analysis
// and removal code looks adapters up by target name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Adapter // keyed by target name
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Adapter),
	}
}

// RegisterDriver registers an adapter factory for a driver type.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Connect creates a new adapter for the given driver and connects it under
// the target name. An existing connection under the same name is closed.
func (r *Registry) Connect(target string, cfg ConnectionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[cfg.Driver]
	if !ok {
		return fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, r.availableDrivers())
	}

	adapter := factory()
	if err := adapter.Connect(cfg); err != nil {
		return fmt.Errorf("connect target %q: %w", target, err)
	}

	if existing, ok := r.active[target]; ok {
		existing.Close()
	}

	r.active[target] = adapter
	return nil
}

// Get returns the adapter for a target.
func (r *Registry) Get(target string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.active[target]
	if !ok {
		return nil, fmt.Errorf("target %q not found (available: %v)", target, r.activeTargets())
	}
	return adapter, nil
}

// Disconnect removes and closes a target's adapter.
func (r *Registry) Disconnect(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	adapter, ok := r.active[target]
	if !ok {
		return fmt.Errorf("target %q not found", target)
	}

	err := adapter.Close()
	delete(r.active, target)
	return err
}

// CloseAll closes every active adapter.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, adapter := range r.active {
		adapter.Close()
		delete(r.active, name)
	}
}

// ListTargets returns active target names.
func (r *Registry) ListTargets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeTargets()
}

func (r *Registry) availableDrivers() []string {
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	return drivers
}

func (r *Registry) activeTargets() []string {
	names := make([]string, 0, len(r.active))
	for n := range r.active {
		names = append(names, n)
	}
	return names
}
