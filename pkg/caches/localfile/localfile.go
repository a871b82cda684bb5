// Package localfile provides a cache backend persisted to a single JSON
// file on local disk. Suitable for single-host deployments where restarts
// must not lose pointers.
package localfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "local_file"

func init() {
	caches.Register(Name, func() (caches.Cache, error) {
		path := settings.Backend("cache", Name, "path")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_CACHE_LOCAL_FILE_PATH must be set")
		}
		return New(path)
	})
}

// Cache is a file backed cache for pointers and other Grove data. All
// operations rewrite the whole file; the expected entry count is small
// (a handful of keys per connector instance).
type Cache struct {
	mu   sync.Mutex
	path string
}

// New constructs a file backed cache at the given path, creating parent
// directories as needed.
func New(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to create cache directory")
	}
	return &Cache{path: path}, nil
}

// Get retrieves a value with the given PK / SK.
func (c *Cache) Get(_ context.Context, pk, sk string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err != nil {
		return "", err
	}

	value, ok := data[pk][sk]
	if !ok {
		return "", errors.New(errors.ErrorTypeNotFound, "no value found in cache")
	}
	return value, nil
}

// Set stores the value for the given key, honoring the constraint.
func (c *Cache) Set(_ context.Context, pk, sk, value string, constraint *caches.Constraint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err != nil {
		return err
	}

	current, exists := data[pk][sk]
	if err := check(constraint, current, exists); err != nil {
		return err
	}

	if data[pk] == nil {
		data[pk] = make(map[string]string)
	}
	data[pk][sk] = value

	return c.store(data)
}

// Delete removes an entry with the given PK / SK, honoring the constraint.
func (c *Cache) Delete(_ context.Context, pk, sk string, constraint *caches.Constraint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err != nil {
		return err
	}

	current, exists := data[pk][sk]
	if constraint != nil {
		if err := check(constraint, current, exists); err != nil {
			return err
		}
	}

	if !exists {
		return nil
	}

	delete(data[pk], sk)
	if len(data[pk]) == 0 {
		delete(data, pk)
	}

	return c.store(data)
}

func (c *Cache) load() (map[string]map[string]string, error) {
	content, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return make(map[string]map[string]string), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to read cache file")
	}

	data := make(map[string]map[string]string)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &data); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "cache file is malformed")
		}
	}
	return data, nil
}

func (c *Cache) store(data map[string]map[string]string) error {
	content, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to serialize cache")
	}

	// Write then rename so a crash mid-write cannot truncate the cache.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to write cache file")
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to replace cache file")
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
