package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/compression"
	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/metrics"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/outputs"
	"github.com/hashicorp-forge/grove/pkg/processors"
)

// run is the per-execution state for one run of one instance. It
// implements core.Run for the connector body.
type run struct {
	runner    *Runner
	cfg       *core.Config
	connector core.Connector
	chain     *processors.Chain
	comp      compression.Compressor

	id      string
	start   time.Time
	logger  *zap.Logger
	lock    string // lock value we hold, empty when not held
	lockPK  string
	pointPK string
	seenPK  string

	pointer  string // current pointer, advanced per checkpoint
	previous string // pointer at run start, stamped on every record
	part     int    // batch sequence within this run
	saved    int    // records made durable this run
	failed   bool   // set once an emit or checkpoint fails

	seen     map[string]bool // hashes seen for the run-start pointer
	newSeen  map[string]bool // hashes for the final pointer value
	seenFor  string          // pointer value newSeen applies to
	rawFrame bool
}

// Run executes one run of one instance, blocking until complete. The
// context carries the run deadline in daemon mode; cancellation is
// observed at batch boundaries.
func (r *Runner) Run(ctx context.Context, cfg *core.Config, connector core.Connector) error {
	start := time.Now().UTC()

	execution := &run{
		runner:    r,
		cfg:       cfg,
		connector: connector,
		id:        uuid.NewString(),
		start:     start,
		lockPK:    models.CacheKey(models.CacheKeyLock, connector.Name(), cfg.Identity),
		pointPK:   models.CacheKey(models.CacheKeyPointer, connector.Name(), cfg.Identity),
		seenPK:    models.CacheKey(models.CacheKeySeen, connector.Name(), cfg.Identity),
	}
	execution.logger = r.logger.With(
		zap.String("connector", connector.Name()),
		zap.String("identity", cfg.Identity),
		zap.String("operation", cfg.Operation),
		zap.String("run_id", execution.id),
	)

	metrics.RunsStarted.WithLabelValues(connector.Name(), cfg.Operation).Inc()

	err := execution.execute(ctx)

	metrics.RunDuration.WithLabelValues(connector.Name(), cfg.Operation).
		Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		execution.logger.Info("run completed",
			zap.Int("records", execution.saved),
			zap.String("pointer", execution.pointer))
	case IsSkip(err):
		metrics.RunsSkipped.WithLabelValues(connector.Name(), cfg.Operation).Inc()
		execution.logger.Warn("run skipped, connector may already be running in another location",
			zap.Error(err))
	default:
		metrics.RunsFailed.WithLabelValues(connector.Name(), cfg.Operation, string(errors.TypeOf(err))).Inc()
		execution.logger.Error("run failed",
			zap.Error(err),
			zap.String("previous_pointer", execution.previous),
			zap.Int("records", execution.saved))
	}
	return err
}

func (e *run) execute(ctx context.Context) error {
	// Acquire the instance lock before touching anything else. On
	// conflict another process is collecting and this run is skipped.
	if err := e.acquireLock(ctx); err != nil {
		return err
	}
	defer e.releaseLock()

	cfg, err := e.resolveSecrets(ctx)
	if err != nil {
		return err
	}
	e.cfg = cfg

	if e.chain, err = processors.NewChain(cfg.Processors); err != nil {
		return err
	}
	if err := e.framing(); err != nil {
		return err
	}
	if err := e.loadPointer(ctx); err != nil {
		return err
	}
	e.loadSeen(ctx)

	if err := e.connector.Collect(ctx, e); err != nil {
		// The pointer reflects the last successful checkpoint; batches
		// emitted before the failure stay durable.
		if errors.TypeOf(err) == "" {
			err = errors.Wrap(err, errors.ErrorTypeTransient, "connector was unable to collect logs")
		}
		return err
	}
	if e.failed {
		return errors.New(errors.ErrorTypeBackend, "run ended after an emit failure")
	}

	e.saveSeen(ctx)
	return nil
}

// Configuration implements core.Run.
func (e *run) Configuration() *core.Config { return e.cfg }

// Pointer implements core.Run.
func (e *run) Pointer() string { return e.pointer }

// Logger implements core.Run.
func (e *run) Logger() *zap.Logger { return e.logger }

// Emit implements core.Run: process, stamp, write, then checkpoint one
// batch certifying the given pointer.
func (e *run) Emit(ctx context.Context, batch []models.Record, pointer string) error {
	// Cancellation propagates at batch boundaries.
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "run cancelled")
	}

	// A prior emit failure abandons all subsequent batches to prevent
	// pointer skew.
	if e.failed {
		return errors.New(errors.ErrorTypeBackend, "a previous batch failed to emit, abandoning run")
	}

	entries := e.deduplicate(batch, pointer)
	if len(entries) == 0 {
		return nil
	}

	processed, err := e.chain.Apply(entries)
	if err != nil {
		e.failed = true
		return err
	}
	if len(processed) == 0 {
		return nil
	}

	// Stamping happens after processors so they may restructure records
	// without worrying about the reserved field. Records are cloned so
	// connector-owned data is never mutated.
	metadata := models.NewMetadata(e.connector.Name(), e.cfg.Identity, e.cfg.Operation, e.start, e.runner.runtime)
	metadata.Pointer = pointer
	metadata.PreviousPointer = e.previous

	stamped := make([]models.Record, 0, len(processed))
	for _, entry := range processed {
		record := entry.Clone()
		record[models.GroveMetadataKey] = metadata
		stamped = append(stamped, record)
	}
	processed = stamped

	serialized, err := outputs.Serialize(processed)
	if err != nil {
		e.failed = true
		return err
	}

	data := serialized
	extension := "json"
	if !e.rawFrame {
		if data, err = e.comp.Compress(serialized); err != nil {
			e.failed = true
			return err
		}
		extension = e.comp.Extension()
	}

	key := e.artifactKey(extension)
	tags := map[string]string{
		"connector": e.connector.Name(),
		"identity":  e.cfg.Identity,
		"operation": e.cfg.Operation,
		"run_id":    e.id,
		"part":      fmt.Sprintf("%d", e.part),
	}

	if err := e.runner.output.Submit(ctx, key, data, tags); err != nil {
		e.failed = true
		return errors.Wrap(err, errors.ErrorTypeBackend, "failed to write logs to output")
	}

	// Checkpoint strictly after the write is durable. A failure here
	// means the next run re-emits the same window: duplicates, not loss.
	if err := e.checkpoint(ctx, pointer); err != nil {
		e.failed = true
		return err
	}

	e.part++
	e.saved += len(processed)
	metrics.BatchesEmitted.WithLabelValues(e.connector.Name(), e.cfg.Operation).Inc()
	metrics.RecordsEmitted.WithLabelValues(e.connector.Name(), e.cfg.Operation).
		Add(float64(len(processed)))

	e.logger.Info("batch submitted successfully to output",
		zap.Int("part", e.part-1),
		zap.Int("records", len(processed)),
		zap.String("pointer", pointer))
	return nil
}

// resolveSecrets fetches every referenced secret fresh from the backend
// and merges the results over the inline configuration.
func (e *run) resolveSecrets(ctx context.Context) (*core.Config, error) {
	if len(e.cfg.Secrets) == 0 {
		return e.cfg, nil
	}
	if e.runner.secrets == nil {
		return nil, errors.New(errors.ErrorTypeSecret, "configuration references secrets but no secret backend is configured")
	}

	resolved := make(map[string]string, len(e.cfg.Secrets))
	for field, path := range e.cfg.Secrets {
		value, err := e.runner.secrets.Fetch(ctx, path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSecret, "unable to get secret for field "+field)
		}
		resolved[field] = value
	}
	return e.cfg.WithSecrets(resolved)
}

// loadPointer reads the stored pointer. An absent pointer means first
// run; the connector supplies an initial value and the previous pointer
// stays empty.
func (e *run) loadPointer(ctx context.Context) error {
	value, err := e.runner.cache.Get(ctx, e.pointPK, e.cfg.Operation)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			e.pointer = e.connector.InitialPointer(e.start)
			e.previous = ""
			return nil
		}
		return errors.Wrap(err, errors.ErrorTypeBackend, "unable to load pointer from cache")
	}

	e.pointer = value
	e.previous = value
	return nil
}

// checkpoint stores the new pointer and the previous pointer, then swaps
// the in-memory value last.
func (e *run) checkpoint(ctx context.Context, pointer string) error {
	if err := e.runner.cache.Set(ctx, e.pointPK, e.cfg.Operation, pointer, caches.Unconditional); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackend, "failed to save pointer to cache")
	}

	prevPK := models.CacheKey(models.CacheKeyPointerPrev, e.connector.Name(), e.cfg.Identity)
	if err := e.runner.cache.Set(ctx, prevPK, e.cfg.Operation, e.previous, caches.Unconditional); err != nil {
		e.logger.Warn("failed to save previous pointer to cache", zap.Error(err))
	}

	e.pointer = pointer
	return nil
}

// framing selects the output artifact compression for this instance.
func (e *run) framing() error {
	encoding := compression.Algorithm(e.cfg.OutputEncoding)

	if e.cfg.OutputEncoding == "" {
		if preferred, ok := e.runner.output.(outputs.RawPreferred); ok && preferred.PreferRaw() {
			e.rawFrame = true
			return nil
		}
		encoding = compression.Gzip
	}

	comp, err := compression.NewCompressor(encoding)
	if err != nil {
		return err
	}
	e.comp = comp
	return nil
}

// artifactKey forms the stable output key for the current batch. The
// layout shards by connector, identity, and date to assist downstream
// ingestion.
func (e *run) artifactKey(extension string) string {
	now := time.Now().UTC()
	return strings.Join([]string{
		"logs",
		e.connector.Name(),
		e.cfg.Identity,
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
		fmt.Sprintf("%s-%s.%d.%s", e.cfg.Operation, e.start.Format(models.DatestampFormat), e.part, extension),
	}, "/")
}

// deduplicate suppresses records already made durable by a previous run
// which certified the same pointer value. This bounds the window to the
// boundary record overlap produced by inclusive lower bounds.
func (e *run) deduplicate(batch []models.Record, pointer string) []models.Record {
	if e.newSeen == nil || e.seenFor != pointer {
		e.newSeen = make(map[string]bool, len(batch))
		e.seenFor = pointer
	}

	entries := make([]models.Record, 0, len(batch))
	for _, entry := range batch {
		hash, err := entry.Hash()
		if err != nil {
			// A record which cannot be hashed is passed through; the
			// serializer decides whether the batch survives.
			entries = append(entries, entry)
			continue
		}

		e.newSeen[hash] = true
		if e.seen[hash] {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// loadSeen restores the deduplication hashes stored by the previous run
// for the current pointer value. Malformed cache data is ignored.
func (e *run) loadSeen(ctx context.Context) {
	e.seen = make(map[string]bool)

	value, err := e.runner.cache.Get(ctx, e.seenPK, e.cfg.Operation)
	if err != nil {
		return
	}

	var hashes []string
	if err := json.Unmarshal([]byte(value), &hashes); err != nil {
		e.logger.Warn("deduplication hashes in the cache appear to be malformed, ignoring", zap.Error(err))
		return
	}
	for _, hash := range hashes {
		e.seen[hash] = true
	}
}

// saveSeen persists the hashes for the final pointer value, best-effort.
func (e *run) saveSeen(ctx context.Context) {
	if e.seenFor != e.pointer || len(e.newSeen) == 0 {
		return
	}

	hashes := make([]string, 0, len(e.newSeen))
	for hash := range e.newSeen {
		hashes = append(hashes, hash)
	}

	serialized, err := json.Marshal(hashes)
	if err != nil {
		return
	}
	if err := e.runner.cache.Set(ctx, e.seenPK, e.cfg.Operation, string(serialized), caches.Unconditional); err != nil {
		e.logger.Warn("failed to save deduplication hashes to cache", zap.Error(err))
	}
}
