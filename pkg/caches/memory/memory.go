// Package memory provides a volatile in-memory cache backend, primarily
// for development and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/errors"
)

// Name is the handler name this backend registers under.
const Name = "local_memory"

func init() {
	caches.Register(Name, func() (caches.Cache, error) {
		return New(), nil
	})
}

// Cache is a volatile in-memory cache for pointers and other Grove data.
type Cache struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// New constructs an empty in-memory cache.
func New() *Cache {
	return &Cache{data: make(map[string]map[string]string)}
}

// Get retrieves a value with the given PK / SK.
func (c *Cache) Get(_ context.Context, pk, sk string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.data[pk][sk]
	if !ok {
		return "", errors.New(errors.ErrorTypeNotFound, "no value found in cache")
	}
	return value, nil
}

// Set stores the value for the given key, honoring the constraint.
func (c *Cache) Set(_ context.Context, pk, sk, value string, constraint *caches.Constraint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.data[pk][sk]
	if err := check(constraint, current, exists); err != nil {
		return err
	}

	if c.data[pk] == nil {
		c.data[pk] = make(map[string]string)
	}
	c.data[pk][sk] = value
	return nil
}

// Delete removes an entry with the given PK / SK, honoring the constraint.
func (c *Cache) Delete(_ context.Context, pk, sk string, constraint *caches.Constraint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.data[pk][sk]
	if constraint != nil {
		if err := check(constraint, current, exists); err != nil {
			return err
		}
	}

	if exists {
		delete(c.data[pk], sk)
		if len(c.data[pk]) == 0 {
			delete(c.data, pk)
		}
	}
	return nil
}

func check(constraint *caches.Constraint, current string, exists bool) error {
	if constraint == nil {
		return nil
	}
	if constraint.NotSet {
		if exists {
			return errors.New(errors.ErrorTypeConflict, "a value is already set for this key")
		}
		return nil
	}
	if !exists || current != constraint.Equals {
		return errors.New(errors.ErrorTypeConflict, "cached value does not match the expected value")
	}
	return nil
}
