package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	entry := map[string]interface{}{
		"id": "00001",
		"events": map[string]interface{}{
			"operation": "create",
			"nested":    map[string]interface{}{"depth": float64(3)},
		},
	}

	tests := []struct {
		name  string
		path  string
		want  interface{}
		found bool
	}{
		{name: "top level", path: "id", want: "00001", found: true},
		{name: "nested", path: "events.operation", want: "create", found: true},
		{name: "deeply nested", path: "events.nested.depth", want: float64(3), found: true},
		{name: "absent leaf", path: "events.missing", found: false},
		{name: "absent root", path: "missing.operation", found: false},
		{name: "through scalar", path: "id.operation", found: false},
		{name: "empty path", path: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, found := Get(entry, tt.path)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.want, value)
			}
		})
	}
}

func TestSet(t *testing.T) {
	entry := map[string]interface{}{
		"id": "00001",
		"events": map[string]interface{}{
			"operation": "create",
		},
	}

	updated := Set(entry, "events.operation", "update")

	value, found := Get(updated, "events.operation")
	require.True(t, found)
	assert.Equal(t, "update", value)

	// The original entry must be untouched.
	original, _ := Get(entry, "events.operation")
	assert.Equal(t, "create", original)

	// Values off the rewritten path are shared, not copied.
	assert.Equal(t, entry["id"], updated["id"])
}

func TestSetMissingPath(t *testing.T) {
	entry := map[string]interface{}{"id": "00001"}

	updated := Set(entry, "events.operation", "update")
	assert.Equal(t, entry, updated)
}

func TestDelete(t *testing.T) {
	entry := map[string]interface{}{
		"id": "00001",
		"events": map[string]interface{}{
			"operation": "create",
			"secret":    "hunter2",
		},
	}

	updated := Delete(entry, "events.secret")

	_, found := Get(updated, "events.secret")
	assert.False(t, found)

	// Siblings survive and the original is untouched.
	value, found := Get(updated, "events.operation")
	require.True(t, found)
	assert.Equal(t, "create", value)

	_, found = Get(entry, "events.secret")
	assert.True(t, found)
}

func TestDeleteMissingPath(t *testing.T) {
	entry := map[string]interface{}{"id": "00001"}
	assert.Equal(t, entry, Delete(entry, "events.secret"))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Split("a.b.c"))
	assert.Equal(t, []string{"a", "b"}, Split(".a..b."))
	assert.Empty(t, Split(""))
}
