package httpjson

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/connector/registry"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
)

type fakeRun struct {
	cfg      *core.Config
	pointer  string
	batches  [][]models.Record
	pointers []string
}

func (r *fakeRun) Configuration() *core.Config { return r.cfg }
func (r *fakeRun) Pointer() string             { return r.pointer }
func (r *fakeRun) Logger() *zap.Logger         { return zap.NewNop() }

func (r *fakeRun) Emit(_ context.Context, batch []models.Record, pointer string) error {
	r.batches = append(r.batches, batch)
	r.pointers = append(r.pointers, pointer)
	r.pointer = pointer
	return nil
}

func parse(t *testing.T, raw string) *core.Config {
	t.Helper()
	cfg, err := core.ParseConfig([]byte(raw))
	require.NoError(t, err)
	return cfg
}

func configFor(t *testing.T, url string) *core.Config {
	return parse(t, fmt.Sprintf(`{
		"name": "api", "identity": "corp.example.com",
		"connector": "http_json", "key": "token-value",
		"url": %q
	}`, url))
}

func TestRegistered(t *testing.T) {
	assert.True(t, registry.Has(Name))
}

func TestCollectPaginates(t *testing.T) {
	pages := []map[string]interface{}{
		{
			"entries": []interface{}{
				map[string]interface{}{"id": "1", "timestamp": "1607425000"},
				map[string]interface{}{"id": "2", "timestamp": "1607425100"},
			},
			"cursor": "page-2",
		},
		{
			"entries": []interface{}{
				map[string]interface{}{"id": "3", "timestamp": "1607425434"},
			},
		},
	}

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-value", r.Header.Get("Authorization"))

		if calls == 0 {
			assert.Equal(t, "1606000000", r.URL.Query().Get("since"))
			assert.Empty(t, r.URL.Query().Get("cursor"))
		} else {
			assert.Equal(t, "page-2", r.URL.Query().Get("cursor"))
		}

		body, err := json.Marshal(pages[calls])
		require.NoError(t, err)
		_, _ = w.Write(body)
		calls++
	}))
	defer server.Close()

	cfg := configFor(t, server.URL)
	connector, err := registry.Create(cfg)
	require.NoError(t, err)

	run := &fakeRun{cfg: cfg, pointer: "1606000000"}
	require.NoError(t, connector.Collect(context.Background(), run))

	require.Len(t, run.batches, 2)
	assert.Equal(t, []string{"1607425100", "1607425434"}, run.pointers)
	assert.Equal(t, 2, calls)
}

func TestCollectEmptyPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entries": []}`))
	}))
	defer server.Close()

	connector, err := registry.Create(configFor(t, server.URL))
	require.NoError(t, err)

	run := &fakeRun{cfg: configFor(t, server.URL), pointer: "1607425434"}
	require.NoError(t, connector.Collect(context.Background(), run))
	assert.Empty(t, run.batches)
}

func TestCollectMissingPointerPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"entries": [{"id": "1"}]}`))
	}))
	defer server.Close()

	connector, err := registry.Create(configFor(t, server.URL))
	require.NoError(t, err)

	run := &fakeRun{cfg: configFor(t, server.URL), pointer: "0"}
	err = connector.Collect(context.Background(), run)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestCreateRequiresURL(t *testing.T) {
	_, err := registry.Create(parse(t, `{
		"name": "api", "identity": "i", "connector": "http_json", "key": "k"
	}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestUnsupportedAuthMode(t *testing.T) {
	cfg := parse(t, `{
		"name": "api", "identity": "i", "connector": "http_json",
		"key": "k", "url": "https://api.example.com", "auth": "kerberos"
	}`)

	connector, err := registry.Create(cfg)
	require.NoError(t, err)

	run := &fakeRun{cfg: cfg, pointer: "0"}
	err = connector.Collect(context.Background(), run)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestInitialPointerLookback(t *testing.T) {
	cfg := parse(t, `{
		"name": "api", "identity": "i", "connector": "http_json",
		"key": "k", "url": "https://api.example.com", "lookback_days": 2
	}`)

	connector, err := registry.Create(cfg)
	require.NoError(t, err)

	now := time.Date(2020, 12, 8, 10, 16, 40, 0, time.UTC)
	assert.Equal(t, "2020-12-06T10:16:40Z", connector.InitialPointer(now))
}
