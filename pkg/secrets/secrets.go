// Package secrets defines the secret backend contract. Secrets are
// fetched fresh on every run, never cached, so dynamic-secret engines and
// rotation work without notification.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp-forge/grove/pkg/errors"
)

// Secret is the contract all secret backends implement.
type Secret interface {
	// Fetch returns the plain-text secret stored at the given
	// backend-specific path.
	Fetch(ctx context.Context, path string) (string, error)
}

// Factory constructs a secret backend, reading any backend-specific
// parameters from the environment.
type Factory func() (Secret, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a secret backend available under the given handler name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("secret backend %q registered twice", name))
	}
	registry[name] = factory
}

// Open constructs the named secret backend.
func Open(name string) (Secret, error) {
	mu.RLock()
	factory, exists := registry[name]
	mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeFatal, "secret backend %q not found", name)
	}

	backend, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFatal, "unable to initialize secret backend "+name)
	}
	return backend, nil
}
