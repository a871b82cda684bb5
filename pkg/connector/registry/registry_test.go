package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/errors"
)

type nopConnector struct{}

func (nopConnector) Name() string                              { return "nop" }
func (nopConnector) Frequency() time.Duration                  { return time.Minute }
func (nopConnector) InitialPointer(time.Time) string           { return "" }
func (nopConnector) Collect(context.Context, core.Run) error   { return nil }

func parse(t *testing.T, connector string) *core.Config {
	t.Helper()

	cfg, err := core.ParseConfig([]byte(`{"name": "n", "identity": "i", "connector": "` + connector + `", "key": "k"}`))
	require.NoError(t, err)
	return cfg
}

func TestRegisterAndCreate(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("nop", func(cfg *core.Config) (core.Connector, error) {
		return nopConnector{}, nil
	}))

	assert.True(t, reg.Has("nop"))
	assert.Equal(t, []string{"nop"}, reg.List())

	connector, err := reg.Create(parse(t, "nop"))
	require.NoError(t, err)
	assert.Equal(t, "nop", connector.Name())
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	factory := func(cfg *core.Config) (core.Connector, error) { return nopConnector{}, nil }
	require.NoError(t, reg.Register("nop", factory))

	err := reg.Register("nop", factory)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestCreateUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create(parse(t, "missing"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}
