package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hashicorp-forge/grove/internal/pipeline"
	"github.com/hashicorp-forge/grove/pkg/errors"
)

// OneShot loads configuration, runs every instance once concurrently,
// and returns once all runs have finished. The returned error is non-nil
// when any instance fatally failed; skipped runs do not count as
// failures. Runs carry no deadline in this mode, only signal
// cancellation.
func (s *Scheduler) OneShot(ctx context.Context) error {
	if err := s.refreshInstances(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	pending := make([]*instance, 0, len(s.instances))
	for _, entry := range s.instances {
		pending = append(pending, entry)
	}
	s.mu.Unlock()

	if len(pending) == 0 {
		return ErrNoInstances
	}

	var group errgroup.Group
	group.SetLimit(s.opts.Workers)

	var failed bool
	for _, entry := range pending {
		group.Go(func() error {
			err := s.runner.Run(ctx, entry.cfg, entry.connector)
			if err != nil && !pipeline.IsSkip(err) {
				s.mu.Lock()
				failed = true
				s.mu.Unlock()
			}
			// Errors are logged with provenance by the pipeline; a
			// failure in one instance must not cancel the others.
			return nil
		})
	}
	_ = group.Wait()

	if failed {
		return errors.New(errors.ErrorTypeTransient, "at least one connector instance failed")
	}
	return nil
}

// Daemon runs the long-running scheduling loop until the context is
// cancelled: configuration is refreshed every Options.Refresh, and due
// instances are dispatched on a one second tick. On cancellation no new
// runs start; in-flight runs are given the shutdown grace period to
// reach a batch boundary.
func (s *Scheduler) Daemon(ctx context.Context) error {
	if err := s.refreshInstances(ctx); err != nil {
		return err
	}

	refreshed := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Dispatch concurrency is bounded by a semaphore shared across the
	// daemon's lifetime.
	slots := make(chan struct{}, s.opts.Workers)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown requested, waiting for in-flight runs",
				zap.Duration("grace", s.opts.ShutdownGrace))
			return s.drain()
		case <-ticker.C:
		}

		if time.Since(refreshed) >= s.opts.Refresh {
			if err := s.refreshInstances(ctx); err != nil {
				// Refresh failures are tolerated until the next
				// interval; the current snapshot keeps running.
				s.logger.Error("failed to refresh configuration from backend", zap.Error(err))
			}
			refreshed = time.Now()
		}

		s.dispatch(ctx, slots)
	}
}

// dispatch starts a worker for every instance which is due and not
// already running, within the concurrency bound.
func (s *Scheduler) dispatch(ctx context.Context, slots chan struct{}) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for reference, entry := range s.instances {
		if entry.running {
			continue
		}
		if !entry.lastRun.IsZero() && now.Sub(entry.lastRun) < entry.frequency() {
			continue
		}

		select {
		case slots <- struct{}{}:
		default:
			// All workers busy; the instance stays due and is picked up
			// on a later tick.
			return
		}

		entry.running = true
		entry.lastRun = now
		s.inflight.Add(1)

		go s.execute(ctx, reference, entry, slots)
	}
}

// execute runs one instance to completion and returns its slot.
func (s *Scheduler) execute(ctx context.Context, reference string, entry *instance, slots chan struct{}) {
	defer s.inflight.Done()
	defer func() { <-slots }()

	// Each run carries a deadline derived from the instance frequency
	// so a hung upstream cannot occupy a worker past its window.
	deadline := entry.frequency() - runDeadlineMargin
	if deadline < runDeadlineFloor {
		deadline = runDeadlineFloor
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := s.runner.Run(runCtx, entry.cfg, entry.connector); err != nil && !pipeline.IsSkip(err) {
		s.logger.Error("connector exited abnormally",
			zap.String("reference", reference), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The instance may have been replaced or removed while running; its
	// pointer is already persisted either way.
	if current, exists := s.instances[reference]; exists {
		current.running = false
	}
}

// drain waits for in-flight runs up to the shutdown grace period.
func (s *Scheduler) drain() error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all in-flight runs completed")
		return nil
	case <-time.After(s.opts.ShutdownGrace):
		s.logger.Warn("shutdown grace period elapsed with runs still in flight")
		return nil
	}
}
