// Package stdout provides an output backend which prints artifacts to
// standard output, one envelope per artifact. Used for development and
// for piping into downstream shippers.
package stdout

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/outputs"
)

// Name is the handler name this backend registers under.
const Name = "local_stdout"

func init() {
	outputs.Register(Name, func() (outputs.Output, error) {
		return New(os.Stdout), nil
	})
}

// Output prints artifacts as JSON envelopes to a writer.
type Output struct {
	mu     sync.Mutex
	writer io.Writer
}

// New constructs a stdout output over the given writer.
func New(writer io.Writer) *Output {
	return &Output{writer: writer}
}

// PreferRaw requests uncompressed artifacts so emitted data stays
// printable.
func (o *Output) PreferRaw() bool { return true }

// Submit prints the artifact wrapped in an envelope carrying its key and
// metadata.
func (o *Output) Submit(_ context.Context, key string, data []byte, metadata map[string]string) error {
	envelope := map[string]interface{}{
		"key":      key,
		"metadata": metadata,
		"message":  string(data),
	}

	line, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "unable to serialize artifact envelope")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.writer.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to write artifact to stdout")
	}
	return nil
}
