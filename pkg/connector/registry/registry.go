// Package registry manages connector registration and instantiation.
// Each linked-in connector package registers itself from its init
// function; entrypoints pull connectors in with blank imports.
package registry

import (
	"sync"

	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/errors"
)

// Factory creates a connector instance bound to a configuration
// document.
type Factory func(cfg *core.Config) (core.Connector, error)

// Registry maps stable connector names to factories.
type Registry struct {
	connectors map[string]Factory
	mu         sync.RWMutex
}

var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Factory),
	}
}

// Register registers a connector factory under its stable name.
// Registration happens from connector package init functions, before the
// logger is configured, so it does not log.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[name]; exists {
		return errors.Newf(errors.ErrorTypeConfiguration, "connector %s already registered", name)
	}

	r.connectors[name] = factory
	return nil
}

// Create creates a connector instance for the given configuration.
func (r *Registry) Create(cfg *core.Config) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.connectors[cfg.Connector]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "connector %s not found", cfg.Connector)
	}

	connector, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "failed to create connector "+cfg.Connector)
	}
	return connector, nil
}

// List returns the names of registered connectors.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	return names
}

// Has checks whether a connector is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.connectors[name]
	return exists
}

// Global registry functions

// Register registers a connector in the global registry.
func Register(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// Create creates a connector from the global registry.
func Create(cfg *core.Config) (core.Connector, error) {
	return globalRegistry.Create(cfg)
}

// List returns registered connector names from the global registry.
func List() []string {
	return globalRegistry.List()
}

// Has checks if a connector is registered in the global registry.
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// Get returns the global registry instance.
func Get() *Registry {
	return globalRegistry
}
