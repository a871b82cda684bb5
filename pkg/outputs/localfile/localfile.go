// Package localfile provides an output backend which persists artifacts
// to a local directory hierarchy.
package localfile

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "local_file"

func init() {
	outputs.Register(Name, func() (outputs.Output, error) {
		path := settings.Backend("output", Name, "path")
		if path == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "GROVE_OUTPUT_LOCAL_FILE_PATH must be set")
		}
		return New(path)
	})
}

// Output persists artifacts under a local directory.
type Output struct {
	path string
}

// New constructs a local file output rooted at the given directory. The
// directory must already exist and be writable; a simple permissions
// misconfiguration should fail before any data is collected.
func New(path string) (*Output, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "configured output path is not accessible")
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "configured output path %q is not a directory", path)
	}

	probe, err := os.CreateTemp(path, ".grove-write-check-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "configured output path is not writable")
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return &Output{path: path}, nil
}

// Submit writes the artifact to disk under the supplied key.
func (o *Output) Submit(_ context.Context, key string, data []byte, _ map[string]string) error {
	target := filepath.Join(o.path, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to create output directory")
	}
	if err := os.WriteFile(target, data, 0o640); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to write artifact to disk")
	}
	return nil
}
