// Package configs defines the config backend contract. A config backend
// stores and lists raw connector configuration documents; parsing and
// validation happen in the core.
package configs

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp-forge/grove/pkg/errors"
)

// Config is the contract all config backends implement. Listing must be
// idempotent: a repeated call returns the same set of identifiers modulo
// genuine changes in the backing store.
type Config interface {
	// List returns the identifiers of all configuration documents.
	List(ctx context.Context) ([]string, error)

	// Get returns the raw bytes of the document with the given
	// identifier, or an error of type ErrorTypeNotFound.
	Get(ctx context.Context, id string) ([]byte, error)
}

// Factory constructs a config backend, reading any backend-specific
// parameters from the environment.
type Factory func() (Config, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a config backend available under the given handler name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("config backend %q registered twice", name))
	}
	registry[name] = factory
}

// Open constructs the named config backend.
func Open(name string) (Config, error) {
	mu.RLock()
	factory, exists := registry[name]
	mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeFatal, "config backend %q not found", name)
	}

	backend, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFatal, "unable to initialize config backend "+name)
	}
	return backend, nil
}
