// Package localfile provides a secret backend which reads secrets from
// files on local disk, such as mounted Kubernetes or Nomad secrets.
package localfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/secrets"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "local_file"

func init() {
	secrets.Register(Name, func() (secrets.Secret, error) {
		return New(settings.Backend("secret", Name, "path")), nil
	})
}

// Backend reads secrets from local files.
type Backend struct {
	root string
}

// New constructs a local file secret backend. An optional root confines
// lookups to a directory; paths outside it are rejected.
func New(root string) *Backend {
	return &Backend{root: root}
}

// Fetch reads the secret at the given file path. Trailing line endings
// ("\r" and "\n") are trimmed, as secret files are commonly newline
// terminated; other whitespace is kept.
func (b *Backend) Fetch(_ context.Context, path string) (string, error) {
	if b.root != "" {
		path = filepath.Join(b.root, path)
		if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(b.root)+string(os.PathSeparator)) {
			return "", errors.Newf(errors.ErrorTypeSecret, "secret path escapes the configured root")
		}
	}

	content, err := os.ReadFile(path) //nolint:gosec
	if os.IsNotExist(err) {
		return "", errors.Newf(errors.ErrorTypeNotFound, "secret %q not found", path)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSecret, "unable to read secret file")
	}
	return strings.TrimRight(string(content), "\r\n"), nil
}
