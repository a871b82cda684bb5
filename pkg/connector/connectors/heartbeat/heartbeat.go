// Package heartbeat provides a local test connector which generates
// synthetic heartbeat records. Useful for validating a deployment's
// backends end-to-end without upstream credentials.
package heartbeat

import (
	"context"
	"time"

	"github.com/hashicorp-forge/grove/pkg/connector/core"
	"github.com/hashicorp-forge/grove/pkg/connector/registry"
	"github.com/hashicorp-forge/grove/pkg/models"
)

// Name is the stable name configuration documents reference.
const Name = "local_heartbeat"

func init() {
	_ = registry.Register(Name, func(cfg *core.Config) (core.Connector, error) {
		return &Connector{
			count:    cfg.IntField("count", 5),
			interval: time.Duration(cfg.IntField("interval", 1)) * time.Second,
		}, nil
	})
}

// Connector generates test log entries at a configured interval.
type Connector struct {
	count    int
	interval time.Duration
}

// Name returns the connector's stable name.
func (c *Connector) Name() string { return Name }

// Frequency returns the default interval between runs.
func (c *Connector) Frequency() time.Duration { return 60 * time.Second }

// InitialPointer starts collection one week in the past.
func (c *Connector) InitialPointer(now time.Time) string {
	return now.UTC().AddDate(0, 0, -7).Format(models.DatestampFormat)
}

// Collect emits the configured number of heartbeat entries, one batch
// per entry, waiting the configured interval between batches.
func (c *Connector) Collect(ctx context.Context, run core.Run) error {
	for i := 0; i < c.count; i++ {
		if c.interval > 0 && i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.interval):
			}
		}

		timestamp := time.Now().UTC().Format(models.DatestampFormat)
		entry := models.Record{
			"type":      "heartbeat",
			"timestamp": timestamp,
		}

		if err := run.Emit(ctx, []models.Record{entry}, timestamp); err != nil {
			return err
		}
	}
	return nil
}
