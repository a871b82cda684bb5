// Package localfile provides a config backend which reads connector
// configuration documents from a directory of JSON or YAML files.
package localfile

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp-forge/grove/pkg/configs"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "local_file"

func init() {
	configs.Register(Name, func() (configs.Config, error) {
		path := settings.Backend("config", Name, "path")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_CONFIG_LOCAL_FILE_PATH must be set")
		}
		return New(path)
	})
}

// Backend reads configuration documents from local files.
type Backend struct {
	path string
}

// New constructs a local file config backend rooted at the given
// directory.
func New(path string) (*Backend, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "configured config path is not accessible")
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "configured config path %q is not a directory", path)
	}
	return &Backend{path: path}, nil
}

// List returns the paths of all configuration documents under the
// configured directory. Identifiers are stable, sorted paths relative to
// the root.
func (b *Backend) List(_ context.Context) ([]string, error) {
	var ids []string

	err := filepath.WalkDir(b.path, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".json", ".yml", ".yaml":
			relative, err := filepath.Rel(b.path, path)
			if err != nil {
				return err
			}
			ids = append(ids, relative)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to list configuration documents")
	}

	sort.Strings(ids)
	return ids, nil
}

// Get returns the raw bytes of a configuration document.
func (b *Backend) Get(_ context.Context, id string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(b.path, id))
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "configuration document %q not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to read configuration document")
	}
	return content, nil
}
