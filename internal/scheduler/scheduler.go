// Package scheduler owns the set of connector instances and runs each on
// its own cadence. It operates in two modes: one-shot, which runs every
// instance once and exits, and daemon, which dispatches runs on a
// per-second tick and refreshes configuration periodically.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/internal/pipeline"
	"github.com/hashicorp-forge/grove/pkg/configs"
	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/connector/registry"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/logger"
	"github.com/hashicorp-forge/grove/pkg/metrics"
)

// ErrNoInstances is returned when no valid instances could be loaded at
// startup; entrypoints map it to the configuration exit code.
var ErrNoInstances = errors.New(errors.ErrorTypeConfiguration, "no valid connector instances were loaded")

// runDeadlineMargin is subtracted from an instance's frequency to form
// its run deadline in daemon mode.
const runDeadlineMargin = 5 * time.Second

// runDeadlineFloor is the minimum run deadline in daemon mode,
// protecting very frequent instances from unusably short deadlines.
const runDeadlineFloor = 30 * time.Second

// Options configures a Scheduler.
type Options struct {
	// Refresh is the interval between configuration refreshes in
	// daemon mode.
	Refresh time.Duration

	// Workers bounds the number of concurrently running instances.
	Workers int

	// ShutdownGrace is how long in-flight runs are given to reach a
	// batch boundary after a termination signal.
	ShutdownGrace time.Duration
}

// instance is the runtime binding of a configuration document to a
// connector body.
type instance struct {
	cfg       *core.Config
	connector core.Connector
	hash      string
	lastRun   time.Time
	running   bool
}

// frequency returns the instance's configured cadence, falling back to
// the connector's default.
func (i *instance) frequency() time.Duration {
	if i.cfg.Frequency > 0 {
		return time.Duration(i.cfg.Frequency) * time.Second
	}
	return i.connector.Frequency()
}

// Scheduler maintains the instance set and dispatches runs.
type Scheduler struct {
	backend configs.Config
	runner  *pipeline.Runner
	opts    Options
	logger  *zap.Logger

	mu        sync.Mutex
	instances map[string]*instance
	inflight  sync.WaitGroup
}

// New constructs a scheduler over the given config backend and pipeline
// runner.
func New(backend configs.Config, runner *pipeline.Runner, opts Options) *Scheduler {
	return &Scheduler{
		backend:   backend,
		runner:    runner,
		opts:      opts,
		logger:    logger.Get().With(zap.String("component", "scheduler")),
		instances: make(map[string]*instance),
	}
}

// loadConfigurations lists, fetches, and parses every configuration
// document. Invalid documents are skipped with an error log; others
// continue. Duplicate (connector, identity, operation) streams are
// rejected.
func (s *Scheduler) loadConfigurations(ctx context.Context) (map[string]*core.Config, error) {
	ids, err := s.backend.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to list configuration documents")
	}

	loaded := make(map[string]*core.Config, len(ids))

	for _, id := range ids {
		raw, err := s.backend.Get(ctx, id)
		if err != nil {
			s.logger.Error("unable to fetch configuration document",
				zap.String("document", id), zap.Error(err))
			continue
		}

		cfg, err := core.ParseConfig(raw)
		if err != nil {
			s.logger.Error("configuration document failed validation, skipping",
				zap.String("document", id), zap.Error(err))
			continue
		}
		if cfg.Disabled {
			continue
		}

		reference := cfg.Reference()
		if _, duplicate := loaded[reference]; duplicate {
			s.logger.Error("duplicate collection stream, skipping",
				zap.String("document", id), zap.String("reference", reference))
			continue
		}
		loaded[reference] = cfg
	}
	return loaded, nil
}

// refreshInstances diffs freshly loaded configuration against the
// current instance set: new documents are added, disappeared documents
// removed, and changed documents (by full document hash) replaced. An
// in-flight run over a removed instance completes; the instance is
// simply not rescheduled.
func (s *Scheduler) refreshInstances(ctx context.Context) error {
	loaded, err := s.loadConfigurations(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for reference, cfg := range loaded {
		current, exists := s.instances[reference]
		if exists && current.hash == cfg.Hash() {
			continue
		}

		connector, err := registry.Create(cfg)
		if err != nil {
			s.logger.Error("configuration references an unknown connector, skipping",
				zap.String("reference", reference), zap.Error(err))
			continue
		}

		next := &instance{cfg: cfg, connector: connector, hash: cfg.Hash()}
		if exists {
			// Configurations are value-like; replacement preserves only
			// the scheduling state.
			next.lastRun = current.lastRun
			next.running = current.running
			s.logger.Info("instance configuration replaced", zap.String("reference", reference))
		} else {
			s.logger.Info("instance added", zap.String("reference", reference))
		}
		s.instances[reference] = next
	}

	for reference := range s.instances {
		if _, still := loaded[reference]; !still {
			s.logger.Info("instance removed", zap.String("reference", reference))
			delete(s.instances, reference)
		}
	}

	metrics.InstancesScheduled.Set(float64(len(s.instances)))
	return nil
}
