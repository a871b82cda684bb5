// Package caches defines the cache backend contract used to persist
// pointers, locks, and deduplication state between runs.
package caches

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp-forge/grove/pkg/errors"
)

// Constraint expresses an optimistic concurrency requirement for Set and
// Delete operations. A nil *Constraint means unconditional.
type Constraint struct {
	// NotSet requires that no value currently exists for the key.
	NotSet bool

	// Equals requires the current value to match exactly. Ignored when
	// NotSet is true.
	Equals string
}

// Unconditional is a nil constraint, for readability at call sites.
var Unconditional *Constraint

// Cache is the contract all cache backends implement. Keys are split
// into a partition key and a sort key; backends which do not
// differentiate the two combine them in an appropriate way.
//
// Strong read-your-writes within a single process is required of
// implementations; cross-process linearizability is not.
type Cache interface {
	// Get returns the value for the given key, or an error of type
	// ErrorTypeNotFound when no value exists.
	Get(ctx context.Context, pk, sk string) (string, error)

	// Set stores the value for the given key. When a constraint is
	// provided and not satisfied, an error of type ErrorTypeConflict is
	// returned and the stored value is unchanged.
	Set(ctx context.Context, pk, sk, value string, constraint *Constraint) error

	// Delete removes the entry for the given key. When a constraint is
	// provided and not satisfied, an error of type ErrorTypeConflict is
	// returned. Deleting an absent key is not an error.
	Delete(ctx context.Context, pk, sk string, constraint *Constraint) error
}

// Factory constructs a cache backend, reading any backend-specific
// parameters from the environment.
type Factory func() (Cache, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a cache backend available under the given handler name.
// It is called from the init function of each backend package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("cache backend %q registered twice", name))
	}
	registry[name] = factory
}

// Open constructs the named cache backend.
func Open(name string) (Cache, error) {
	mu.RLock()
	factory, exists := registry[name]
	mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeFatal, "cache backend %q not found", name)
	}

	cache, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFatal, "unable to initialize cache backend "+name)
	}
	return cache, nil
}

// Names returns the registered cache backend names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
