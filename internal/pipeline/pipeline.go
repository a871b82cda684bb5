// Package pipeline implements the record pipeline: the per-run loop
// around a single connector instance. A run acquires the instance lock,
// resolves secrets, loads the pointer, collects batches, processes and
// stamps them, emits artifacts, and checkpoints the pointer after each
// durable write.
package pipeline

import (
	goerrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/logger"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/secrets"
)

// ErrLockHeld is returned when another process holds the instance lock;
// the scheduler treats it as a skip, not a failure.
var ErrLockHeld = errors.New(errors.ErrorTypeConflict, "instance lock is held by another process")

// Runner executes runs against a fixed set of backends. A single Runner
// is shared by all instances; backends are required to be safe under
// concurrent calls.
type Runner struct {
	cache        caches.Cache
	output       outputs.Output
	secrets      secrets.Secret // nil when no secret backend is configured
	runtime      map[string]string
	lockDuration time.Duration
	logger       *zap.Logger
}

// New constructs a Runner. The runtime mapping is stamped onto every
// record's provenance; the secret backend may be nil.
func New(cache caches.Cache, output outputs.Output, secretBackend secrets.Secret, runtime map[string]string, lockDuration time.Duration) *Runner {
	return &Runner{
		cache:        cache,
		output:       output,
		secrets:      secretBackend,
		runtime:      runtime,
		lockDuration: lockDuration,
		logger:       logger.Get().With(zap.String("component", "pipeline")),
	}
}

// IsSkip reports whether a run outcome indicates the run was skipped
// because another process is collecting, rather than having failed.
func IsSkip(err error) bool {
	return goerrors.Is(err, ErrLockHeld) || errors.IsType(err, errors.ErrorTypeConflict)
}
