package processors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/processors"

	_ "github.com/hashicorp-forge/grove/pkg/processors/filterpaths"
	_ "github.com/hashicorp-forge/grove/pkg/processors/splitpath"
	_ "github.com/hashicorp-forge/grove/pkg/processors/zippaths"
)

func TestNewUnknownProcessor(t *testing.T) {
	_, err := processors.New(processors.Config{Processor: "does_not_exist"})
	assert.Error(t, err)
}

func TestChainOrderPreserved(t *testing.T) {
	chain, err := processors.NewChain([]processors.Config{
		{
			Name:      "fan out",
			Processor: "split_path",
			Fields:    map[string]interface{}{"source": "events"},
		},
	})
	require.NoError(t, err)

	batch := []models.Record{
		{
			"id": "first",
			"events": []interface{}{
				map[string]interface{}{"seq": float64(1)},
				map[string]interface{}{"seq": float64(2)},
			},
		},
		{
			"id":     "second",
			"events": []interface{}{map[string]interface{}{"seq": float64(3)}},
		},
	}

	processed, err := chain.Apply(batch)
	require.NoError(t, err)
	require.Len(t, processed, 3)

	// Elements of a split record are emitted in sequence order, ahead
	// of the next original record.
	assert.Equal(t, "first", processed[0]["id"])
	assert.Equal(t, "first", processed[1]["id"])
	assert.Equal(t, "second", processed[2]["id"])
	assert.Equal(t, map[string]interface{}{"seq": float64(1)}, processed[0]["events"])
	assert.Equal(t, map[string]interface{}{"seq": float64(2)}, processed[1]["events"])
}

// The S4 scenario: a record with nested parameter lists run through a
// split on events followed by a zip on events.parameters.
func TestChainSplitThenZip(t *testing.T) {
	chain, err := processors.NewChain([]processors.Config{
		{
			Name:      "one event per record",
			Processor: "split_path",
			Fields:    map[string]interface{}{"source": "events"},
		},
		{
			Name:      "flatten parameters",
			Processor: "zip_paths",
			Fields: map[string]interface{}{
				"source": "events.parameters",
				"key":    "name",
				"values": []interface{}{"value"},
			},
		},
	})
	require.NoError(t, err)

	batch := []models.Record{
		{
			"id": "00001",
			"events": []interface{}{
				map[string]interface{}{
					"operation": "create",
					"parameters": []interface{}{
						map[string]interface{}{"name": "username", "value": "example"},
						map[string]interface{}{"name": "ip", "value": "192.0.2.1"},
					},
				},
				map[string]interface{}{
					"operation": "update",
					"parameters": []interface{}{
						map[string]interface{}{"name": "username", "value": "other"},
					},
				},
			},
		},
	}

	processed, err := chain.Apply(batch)
	require.NoError(t, err)
	require.Len(t, processed, 2)

	first, found := processed[0]["events"].(map[string]interface{})
	require.True(t, found)
	assert.Equal(t, "create", first["operation"])
	assert.Equal(t, map[string]interface{}{
		"username": "example",
		"ip":       "192.0.2.1",
	}, first["parameters"])

	second := processed[1]["events"].(map[string]interface{})
	assert.Equal(t, "update", second["operation"])
	assert.Equal(t, map[string]interface{}{"username": "other"}, second["parameters"])
}

// Applying a fixed chain to a fixed batch twice must yield identical
// output: processors are pure.
func TestChainDeterminism(t *testing.T) {
	chain, err := processors.NewChain([]processors.Config{
		{
			Processor: "split_path",
			Fields:    map[string]interface{}{"source": "events"},
		},
	})
	require.NoError(t, err)

	batch := []models.Record{
		{
			"id": "00001",
			"events": []interface{}{
				map[string]interface{}{"operation": "create"},
				map[string]interface{}{"operation": "delete"},
			},
		},
	}

	first, err := chain.Apply(batch)
	require.NoError(t, err)
	second, err := chain.Apply(batch)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestConfigAccessors(t *testing.T) {
	cfg := processors.Config{
		Fields: map[string]interface{}{
			"source": "events",
			"values": []interface{}{"value", "multiValue"},
			"count":  float64(3),
		},
	}

	assert.Equal(t, "events", cfg.String("source"))
	assert.Equal(t, "", cfg.String("missing"))
	assert.Equal(t, []string{"value", "multiValue"}, cfg.Strings("values"))
	assert.Nil(t, cfg.Strings("source"))
}
