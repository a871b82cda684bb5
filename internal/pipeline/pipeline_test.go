package pipeline_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/grove/internal/pipeline"
	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/caches/memory"
	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/processors"
	"github.com/hashicorp-forge/grove/pkg/testutil"
)

func init() {
	// A deliberately failing processor for batch-failure semantics.
	processors.Register("explode", func(cfg processors.Config) (processors.Processor, error) {
		return processorFunc(func(entry models.Record) ([]models.Record, error) {
			return nil, errors.New(errors.ErrorTypeProcessor, "explode always fails")
		}), nil
	})
}

type processorFunc func(entry models.Record) ([]models.Record, error)

func (f processorFunc) Process(entry models.Record) ([]models.Record, error) { return f(entry) }

// event records one backend interaction so tests can assert ordering
// between output writes and pointer checkpoints.
type event struct {
	kind string // "write" or "checkpoint"
	note string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(kind, note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: kind, note: note})
}

func (r *recorder) list() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

// recordingCache wraps the in-memory cache, noting pointer writes.
type recordingCache struct {
	caches.Cache
	rec *recorder
}

func (c *recordingCache) Set(ctx context.Context, pk, sk, value string, constraint *caches.Constraint) error {
	err := c.Cache.Set(ctx, pk, sk, value, constraint)
	if err == nil && strings.HasPrefix(pk, models.CacheKeyPointer+".") {
		c.rec.add("checkpoint", value)
	}
	return err
}

// fakeOutput captures artifacts and can be told to fail.
type fakeOutput struct {
	mu        sync.Mutex
	artifacts []artifact
	failures  int // fail this many Submit calls before succeeding
	rec       *recorder
}

type artifact struct {
	key      string
	data     []byte
	metadata map[string]string
}

func (o *fakeOutput) PreferRaw() bool { return true }

func (o *fakeOutput) Submit(_ context.Context, key string, data []byte, metadata map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.failures > 0 {
		o.failures--
		return errors.New(errors.ErrorTypeBackend, "output backend unavailable")
	}

	o.artifacts = append(o.artifacts, artifact{key: key, data: data, metadata: metadata})
	if o.rec != nil {
		o.rec.add("write", key)
	}
	return nil
}

func (o *fakeOutput) list() []artifact {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]artifact(nil), o.artifacts...)
}

// records decodes every NDJSON line across all artifacts, in order.
func (o *fakeOutput) records(t *testing.T) []models.Record {
	t.Helper()

	var all []models.Record
	for _, a := range o.list() {
		for _, line := range strings.Split(string(a.data), "\n") {
			if line == "" {
				continue
			}
			entry := models.Record{}
			require.NoError(t, json.Unmarshal([]byte(line), &entry))
			all = append(all, entry)
		}
	}
	return all
}

// fakeSecrets resolves secrets from a fixed map.
type fakeSecrets struct {
	values map[string]string
}

func (s *fakeSecrets) Fetch(_ context.Context, path string) (string, error) {
	value, ok := s.values[path]
	if !ok {
		return "", errors.Newf(errors.ErrorTypeNotFound, "secret %q not found", path)
	}
	return value, nil
}

// fakeConnector delegates collection to a function.
type fakeConnector struct {
	name    string
	initial string
	collect func(ctx context.Context, run core.Run) error
}

func (c *fakeConnector) Name() string                  { return c.name }
func (c *fakeConnector) Frequency() time.Duration      { return 60 * time.Second }
func (c *fakeConnector) InitialPointer(time.Time) string {
	return c.initial
}
func (c *fakeConnector) Collect(ctx context.Context, run core.Run) error {
	return c.collect(ctx, run)
}

func testConfig(t *testing.T, connector string) *core.Config {
	t.Helper()

	raw := fmt.Sprintf(`{"name": "test", "identity": "corp.example.com", "connector": %q, "key": "k"}`, connector)
	cfg, err := core.ParseConfig([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func runtimeContext() map[string]string {
	return map[string]string{"runtime_id": "test-runtime"}
}

// S1: cold start. Empty cache, one instance, the connector emits two
// records in one batch. The output receives one artifact with both
// records in order, and the pointer lands in the cache.
func TestRunColdStart(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "1607000000",
		collect: func(ctx context.Context, run core.Run) error {
			assert.Equal(t, "1607000000", run.Pointer())
			return run.Emit(ctx, []models.Record{
				{"id": "a", "timestamp": "1607425000"},
				{"id": "b", "timestamp": "1607425434"},
			}, "1607425434")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)
	cfg := testConfig(t, "test_connector")

	require.NoError(t, runner.Run(ctx, cfg, connector))

	artifacts := output.list()
	require.Len(t, artifacts, 1)

	emitted := output.records(t)
	require.Len(t, emitted, 2)
	assert.Equal(t, "a", emitted[0]["id"])
	assert.Equal(t, "b", emitted[1]["id"])

	pointer, err := cache.Get(ctx, models.CacheKey(models.CacheKeyPointer, "test_connector", "corp.example.com"), "all")
	require.NoError(t, err)
	assert.Equal(t, "1607425434", pointer)

	// The lock is released after the run.
	_, err = cache.Get(ctx, models.CacheKey(models.CacheKeyLock, "test_connector", "corp.example.com"), "all")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

// S2: resume. The connector is queried with the stored pointer and
// returns zero records: no output write, pointer unchanged, run
// successful.
func TestRunResumeEmpty(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	pointerPK := models.CacheKey(models.CacheKeyPointer, "test_connector", "corp.example.com")
	require.NoError(t, cache.Set(ctx, pointerPK, "all", "1607425434", caches.Unconditional))

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "unused",
		collect: func(ctx context.Context, run core.Run) error {
			assert.Equal(t, "1607425434", run.Pointer())
			return nil
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	require.NoError(t, runner.Run(ctx, testConfig(t, "test_connector"), connector))

	assert.Empty(t, output.list())

	pointer, err := cache.Get(ctx, pointerPK, "all")
	require.NoError(t, err)
	assert.Equal(t, "1607425434", pointer)
}

// S3: output failure. The run fails, the pointer stays at the previous
// value, and a subsequent run re-emits the same records.
func TestRunOutputFailure(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{failures: 1}

	pointerPK := models.CacheKey(models.CacheKeyPointer, "test_connector", "corp.example.com")
	require.NoError(t, cache.Set(ctx, pointerPK, "all", "1607425000", caches.Unconditional))

	batch := []models.Record{{"id": "a", "timestamp": "1607425434"}}
	connector := &fakeConnector{
		name: "test_connector",
		collect: func(ctx context.Context, run core.Run) error {
			return run.Emit(ctx, batch, "1607425434")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)
	cfg := testConfig(t, "test_connector")

	err := runner.Run(ctx, cfg, connector)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBackend))

	pointer, getErr := cache.Get(ctx, pointerPK, "all")
	require.NoError(t, getErr)
	assert.Equal(t, "1607425000", pointer)
	assert.Empty(t, output.list())

	// The next run with the same upstream window re-emits; duplicates
	// are allowed, loss is not.
	require.NoError(t, runner.Run(ctx, cfg, connector))

	emitted := output.records(t)
	require.Len(t, emitted, 1)
	assert.Equal(t, "a", emitted[0]["id"])

	pointer, getErr = cache.Get(ctx, pointerPK, "all")
	require.NoError(t, getErr)
	assert.Equal(t, "1607425434", pointer)
}

// Property 2: for every successful batch the output write strictly
// precedes the matching pointer checkpoint.
func TestRunEmitBeforeCheckpointOrdering(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	cache := &recordingCache{Cache: memory.New(), rec: rec}
	output := &fakeOutput{rec: rec}

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			for i := 1; i <= 3; i++ {
				batch := []models.Record{{"seq": fmt.Sprintf("%d", i)}}
				if err := run.Emit(ctx, batch, fmt.Sprintf("%d", i)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	require.NoError(t, runner.Run(ctx, testConfig(t, "test_connector"), connector))

	events := rec.list()

	// Alternating write / checkpoint pairs, write first in every pair.
	var sequence []string
	for _, e := range events {
		sequence = append(sequence, e.kind)
	}
	assert.Equal(t, []string{"write", "checkpoint", "write", "checkpoint", "write", "checkpoint"}, sequence)
}

// A connector which fails after N batches leaves batches 0..N-1 durable
// and the pointer at the last successful checkpoint.
func TestRunConnectorFailsMidway(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			if err := run.Emit(ctx, []models.Record{{"seq": "1"}}, "1"); err != nil {
				return err
			}
			if err := run.Emit(ctx, []models.Record{{"seq": "2"}}, "2"); err != nil {
				return err
			}
			return errors.New(errors.ErrorTypeTransient, "upstream went away")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	err := runner.Run(ctx, testConfig(t, "test_connector"), connector)
	require.Error(t, err)

	assert.Len(t, output.list(), 2)

	pointer, getErr := cache.Get(ctx, models.CacheKey(models.CacheKeyPointer, "test_connector", "corp.example.com"), "all")
	require.NoError(t, getErr)
	assert.Equal(t, "2", pointer)
}

// A processor failure on batch K drops that batch, fails the run, and
// leaves the pointer at the last successful checkpoint.
func TestRunProcessorFailure(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	raw := []byte(`{
		"name": "test", "identity": "corp.example.com",
		"connector": "test_connector", "key": "k",
		"processors": [{"name": "boom", "processor": "explode"}]
	}`)
	cfg, err := core.ParseConfig(raw)
	require.NoError(t, err)

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			return run.Emit(ctx, []models.Record{{"seq": "1"}}, "1")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	err = runner.Run(ctx, cfg, connector)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessor))

	assert.Empty(t, output.list())

	_, getErr := cache.Get(ctx, models.CacheKey(models.CacheKeyPointer, "test_connector", "corp.example.com"), "all")
	assert.True(t, errors.IsType(getErr, errors.ErrorTypeNotFound))
}

// S5: lock contention. With a valid lock held elsewhere the run is
// skipped, no collection happens, and the held lock survives.
func TestRunLockContention(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	lockPK := models.CacheKey(models.CacheKeyLock, "test_connector", "corp.example.com")
	held := "other-runtime|" + time.Now().UTC().Add(5*time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, cache.Set(ctx, lockPK, "all", held, caches.Unconditional))

	collected := false
	connector := &fakeConnector{
		name: "test_connector",
		collect: func(ctx context.Context, run core.Run) error {
			collected = true
			return nil
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	err := runner.Run(ctx, testConfig(t, "test_connector"), connector)
	require.Error(t, err)
	assert.True(t, pipeline.IsSkip(err))
	assert.False(t, collected)

	value, getErr := cache.Get(ctx, lockPK, "all")
	require.NoError(t, getErr)
	assert.Equal(t, held, value)
}

// Property 4: two runners sharing a cache and a single instance due to
// run perform exactly one collection between them.
func TestRunMutualExclusionAcrossRunners(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	var mu sync.Mutex
	collections := 0
	barrier := make(chan struct{})

	connector := func() core.Connector {
		return &fakeConnector{
			name:    "test_connector",
			initial: "0",
			collect: func(ctx context.Context, run core.Run) error {
				mu.Lock()
				collections++
				mu.Unlock()
				<-barrier
				return run.Emit(ctx, []models.Record{{"id": "a"}}, "1")
			},
		}
	}

	first := pipeline.New(cache, output, nil, map[string]string{"runtime_id": "proc-1"}, 300*time.Second)
	second := pipeline.New(cache, output, nil, map[string]string{"runtime_id": "proc-2"}, 300*time.Second)
	cfg := testConfig(t, "test_connector")

	results := make(chan error, 2)
	started := make(chan struct{}, 2)

	for _, runner := range []*pipeline.Runner{first, second} {
		go func() {
			started <- struct{}{}
			results <- runner.Run(ctx, cfg, connector())
		}()
	}

	<-started
	<-started

	// Wait for the lock winner to reach collection, then let it proceed.
	testutil.AssertEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return collections == 1
	}, time.Second, "one runner should win the lock and start collecting")
	close(barrier)

	outcomes := []error{<-results, <-results}

	skips := 0
	for _, err := range outcomes {
		if err == nil {
			continue
		}
		require.True(t, pipeline.IsSkip(err), err)
		skips++
	}

	assert.Equal(t, 1, skips, "exactly one process must observe a lock conflict")
	assert.Equal(t, 1, collections, "exactly one collection must run")
	assert.Len(t, output.list(), 1)
}

// An expired lock is reclaimed and the run proceeds.
func TestRunReclaimsExpiredLock(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	lockPK := models.CacheKey(models.CacheKeyLock, "test_connector", "corp.example.com")
	expired := "dead-runtime|" + time.Now().UTC().Add(-time.Minute).Format(time.RFC3339Nano)
	require.NoError(t, cache.Set(ctx, lockPK, "all", expired, caches.Unconditional))

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			return run.Emit(ctx, []models.Record{{"id": "a"}}, "1")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	require.NoError(t, runner.Run(ctx, testConfig(t, "test_connector"), connector))
	assert.Len(t, output.list(), 1)
}

// Property 6: every emitted record carries complete provenance.
func TestRunProvenance(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "1607000000",
		collect: func(ctx context.Context, run core.Run) error {
			return run.Emit(ctx, []models.Record{{"id": "a"}}, "1607425434")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)
	cfg := testConfig(t, "test_connector")

	require.NoError(t, runner.Run(ctx, cfg, connector))

	emitted := output.records(t)
	require.Len(t, emitted, 1)

	grove, ok := emitted[0][models.GroveMetadataKey].(map[string]interface{})
	require.True(t, ok, "record must carry the reserved provenance field")

	assert.Equal(t, "test_connector", grove["connector"])
	assert.Equal(t, "corp.example.com", grove["identity"])
	assert.Equal(t, "all", grove["operation"])
	assert.Equal(t, "1607425434", grove["pointer"])
	assert.Equal(t, "", grove["previous_pointer"], "previous pointer is empty on first run")
	assert.NotEmpty(t, grove["collection_time"])
	assert.Equal(t, models.Version, grove["version"])

	runtime := grove["runtime"].(map[string]interface{})
	assert.Equal(t, "test-runtime", runtime["runtime_id"])

	// On a subsequent run the previous pointer is stamped.
	require.NoError(t, runner.Run(ctx, cfg, connector))
	emitted = output.records(t)
	require.Len(t, emitted, 2)

	grove = emitted[1][models.GroveMetadataKey].(map[string]interface{})
	assert.Equal(t, "1607425434", grove["previous_pointer"])
}

// Secret references are resolved fresh each run and merged over inline
// values.
func TestRunResolvesSecrets(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	raw := []byte(`{
		"name": "test", "identity": "corp.example.com",
		"connector": "test_connector",
		"secrets": {"key": "kv/grove/api-token"}
	}`)
	cfg, err := core.ParseConfig(raw)
	require.NoError(t, err)

	var observed string
	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			observed = run.Configuration().Key
			return nil
		},
	}

	backend := &fakeSecrets{values: map[string]string{"kv/grove/api-token": "resolved-token"}}
	runner := pipeline.New(cache, output, backend, runtimeContext(), 300*time.Second)

	require.NoError(t, runner.Run(ctx, cfg, connector))
	assert.Equal(t, "resolved-token", observed)

	// The parsed configuration itself is not mutated.
	assert.Empty(t, cfg.Key)
}

// A configuration referencing secrets without a configured secret
// backend fails before collection starts.
func TestRunSecretsWithoutBackend(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	raw := []byte(`{
		"name": "test", "identity": "corp.example.com",
		"connector": "test_connector",
		"secrets": {"key": "kv/grove/api-token"}
	}`)
	cfg, err := core.ParseConfig(raw)
	require.NoError(t, err)

	connector := &fakeConnector{
		name: "test_connector",
		collect: func(ctx context.Context, run core.Run) error {
			t.Fatal("collection must not start")
			return nil
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	err = runner.Run(ctx, cfg, connector)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSecret))
}

// Records already made durable by the previous run are suppressed by the
// deduplication window.
func TestRunDeduplicationWindow(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	boundary := models.Record{"id": "a", "timestamp": "1607425434"}

	first := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			return run.Emit(ctx, []models.Record{boundary}, "1607425434")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)
	cfg := testConfig(t, "test_connector")

	require.NoError(t, runner.Run(ctx, cfg, first))
	require.Len(t, output.records(t), 1)

	// The second run re-collects the boundary record plus one new one.
	second := &fakeConnector{
		name: "test_connector",
		collect: func(ctx context.Context, run core.Run) error {
			fresh := models.Record{"id": "b", "timestamp": "1607425500"}
			return run.Emit(ctx, []models.Record{boundary.Clone(), fresh}, "1607425500")
		},
	}

	require.NoError(t, runner.Run(ctx, cfg, second))

	emitted := output.records(t)
	require.Len(t, emitted, 2)
	assert.Equal(t, "b", emitted[1]["id"])
}

// Cancellation propagates at the next batch boundary.
func TestRunCancellation(t *testing.T) {
	cache := memory.New()
	output := &fakeOutput{}

	ctx, cancel := context.WithCancel(context.Background())

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			if err := run.Emit(ctx, []models.Record{{"seq": "1"}}, "1"); err != nil {
				return err
			}
			cancel()
			return run.Emit(ctx, []models.Record{{"seq": "2"}}, "2")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	err := runner.Run(ctx, testConfig(t, "test_connector"), connector)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	// The first batch stays durable with its checkpoint.
	assert.Len(t, output.list(), 1)

	pointer, getErr := cache.Get(context.Background(), models.CacheKey(models.CacheKeyPointer, "test_connector", "corp.example.com"), "all")
	require.NoError(t, getErr)
	assert.Equal(t, "1", pointer)
}

// An instance-selected framing produces compressed artifacts with the
// matching key extension.
func TestRunOutputEncodingSelectable(t *testing.T) {
	ctx := context.Background()
	cache := memory.New()
	output := &fakeOutput{}

	raw := []byte(`{
		"name": "test", "identity": "corp.example.com",
		"connector": "test_connector", "key": "k",
		"output_encoding": "gzip"
	}`)
	cfg, err := core.ParseConfig(raw)
	require.NoError(t, err)

	connector := &fakeConnector{
		name:    "test_connector",
		initial: "0",
		collect: func(ctx context.Context, run core.Run) error {
			return run.Emit(ctx, []models.Record{{"id": "a"}}, "1")
		},
	}

	runner := pipeline.New(cache, output, nil, runtimeContext(), 300*time.Second)

	require.NoError(t, runner.Run(ctx, cfg, connector))

	artifacts := output.list()
	require.Len(t, artifacts, 1)
	assert.True(t, strings.HasSuffix(artifacts[0].key, ".json.gz"), artifacts[0].key)

	// Gzip magic bytes.
	require.GreaterOrEqual(t, len(artifacts[0].data), 2)
	assert.Equal(t, byte(0x1f), artifacts[0].data[0])
	assert.Equal(t, byte(0x8b), artifacts[0].data[1])
}
