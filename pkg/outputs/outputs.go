// Package outputs defines the output backend contract and the shared
// NDJSON serializer used to frame batches of collected records.
package outputs

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
)

// Output is the contract all output backends implement. Submit must not
// return until the artifact is durable; the caller checkpoints the
// pointer immediately afterwards.
type Output interface {
	// Submit writes one artifact under the given key. The metadata
	// mapping is best-effort (object tags or similar); backends may
	// ignore it.
	Submit(ctx context.Context, key string, data []byte, metadata map[string]string) error
}

// RawPreferred is an optional interface for backends which want
// uncompressed artifacts when the instance does not select a framing
// explicitly, such as the stdout backend.
type RawPreferred interface {
	PreferRaw() bool
}

// Factory constructs an output backend, reading any backend-specific
// parameters from the environment.
type Factory func() (Output, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes an output backend available under the given handler
// name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("output backend %q registered twice", name))
	}
	registry[name] = factory
}

// Open constructs the named output backend.
func Open(name string) (Output, error) {
	mu.RLock()
	factory, exists := registry[name]
	mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeFatal, "output backend %q not found", name)
	}

	output, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFatal, "unable to initialize output backend "+name)
	}
	return output, nil
}

// Serialize frames a batch of records as newline-delimited JSON, one
// record per line. Records are expected to carry their provenance already
// stamped. A record which cannot be serialized fails the whole batch, so
// nothing is silently dropped; the failed batch is retried next run.
func Serialize(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer

	for i, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "unable to serialize record to JSON")
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}
