package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/errors"
)

// lockTimeFormat is the deadline format inside running-marker values.
const lockTimeFormat = time.RFC3339Nano

// lockValue encodes the owner runtime identifier and a deadline beyond
// which another process may reclaim the instance.
func (e *run) lockValue(deadline time.Time) string {
	owner := e.runner.runtime["runtime_id"]
	if owner == "" {
		owner = e.id
	}
	return owner + "|" + deadline.UTC().Format(lockTimeFormat)
}

// lockDeadline parses the deadline from a running-marker value. A
// malformed marker is treated as expired so a corrupt value cannot wedge
// an instance forever.
func lockDeadline(value string) time.Time {
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 {
		return time.Time{}
	}

	deadline, err := time.Parse(lockTimeFormat, parts[1])
	if err != nil {
		return time.Time{}
	}
	return deadline
}

// acquireLock marks the instance as running using the cache backend's
// conditional set. The constraint is pinned to the exact value observed
// so two processes racing for an expired lock cannot both win.
func (e *run) acquireLock(ctx context.Context) error {
	now := time.Now().UTC()
	value := e.lockValue(now.Add(e.runner.lockDuration))

	current, err := e.runner.cache.Get(ctx, e.lockPK, e.cfg.Operation)
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeNotFound) {
			return errors.Wrap(err, errors.ErrorTypeBackend, "unable to read instance lock")
		}

		// No lock present; require it is still absent when we write.
		if err := e.runner.cache.Set(ctx, e.lockPK, e.cfg.Operation, value, &caches.Constraint{NotSet: true}); err != nil {
			if errors.IsType(err, errors.ErrorTypeConflict) {
				return ErrLockHeld
			}
			return errors.Wrap(err, errors.ErrorTypeBackend, "unable to acquire instance lock")
		}
		e.lock = value
		return nil
	}

	if lockDeadline(current).After(now) {
		return ErrLockHeld
	}

	// Expired lock; claim it with a constraint on the observed value.
	if err := e.runner.cache.Set(ctx, e.lockPK, e.cfg.Operation, value, &caches.Constraint{Equals: current}); err != nil {
		if errors.IsType(err, errors.ErrorTypeConflict) {
			return ErrLockHeld
		}
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to acquire instance lock")
	}
	e.lock = value
	return nil
}

// releaseLock deletes the running marker, best-effort, constrained to
// the value this run wrote so a reclaimed lock is never deleted from
// under its new owner.
func (e *run) releaseLock() {
	if e.lock == "" {
		return
	}

	// The run context may already be cancelled; the lock release gets
	// its own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := e.runner.cache.Delete(ctx, e.lockPK, e.cfg.Operation, &caches.Constraint{Equals: e.lock})
	if err != nil && !errors.IsType(err, errors.ErrorTypeConflict) {
		e.logger.Warn("failed to release instance lock", zap.Error(err))
	}
	e.lock = ""
}
