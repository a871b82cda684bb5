// Package core defines the connector contract. A connector body knows
// how to fetch one run's worth of records from a single upstream service
// and report the pointer which resumes collection on the next run.
package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/pkg/models"
)

// Run is the set of helpers handed to a connector body for one
// execution. Connectors must emit batches via Emit rather than
// accumulating the full history in memory; this bounds memory and lets
// the pipeline checkpoint incrementally.
type Run interface {
	// Configuration returns the configuration document this run is
	// bound to, with secrets resolved.
	Configuration() *Config

	// Pointer returns the current pointer: the stored value at run
	// start, advanced as batches are checkpointed.
	Pointer() string

	// Emit hands one batch to the pipeline together with the candidate
	// pointer the batch certifies. When Emit returns nil the batch is
	// durable and the pointer stored, except where deduplication or the
	// processor chain leaves nothing to write: then nothing is written
	// and the pointer is not advanced. A non-nil error means the run
	// must stop without emitting further batches.
	Emit(ctx context.Context, batch []models.Record, pointer string) error

	// Logger returns a logger scoped to this run's provenance.
	Logger() *zap.Logger
}

// Connector is the contract all connector bodies implement.
type Connector interface {
	// Name returns the stable name configuration documents reference.
	Name() string

	// Frequency returns the default interval between runs, used when
	// the configuration document does not specify one.
	Frequency() time.Duration

	// InitialPointer returns the pointer for a first run, when no
	// pointer exists in the cache. Implementations commonly return a
	// timestamp some days before now, in whatever form the upstream
	// API accepts.
	InitialPointer(now time.Time) string

	// Collect fetches one run's worth of records, emitting batches via
	// the run helpers. Cancellation is observed at batch boundaries.
	Collect(ctx context.Context, run Run) error
}
