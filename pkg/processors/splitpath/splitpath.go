// Package splitpath provides a processor which splits a log entry into N
// log entries by the configured dotted path. This allows fanning-out a
// single entry containing several related operations into distinct
// entries per item; fields outside the split path are not modified.
package splitpath

import (
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/paths"
	"github.com/hashicorp-forge/grove/pkg/processors"
)

// Name is the processor name referenced by configuration documents.
const Name = "split_path"

func init() {
	processors.Register(Name, func(cfg processors.Config) (processors.Processor, error) {
		source := cfg.String("source")
		if source == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "split_path requires a 'source' path")
		}
		return &Processor{source: source}, nil
	})
}

// Processor splits a log entry into N log entries by a dotted path.
type Processor struct {
	source string
}

// Process fans out the entry by the configured path. If the path is
// absent or does not resolve to a sequence the entry passes through
// unchanged.
func (p *Processor) Process(entry models.Record) ([]models.Record, error) {
	value, found := paths.Get(entry, p.source)
	if !found {
		return []models.Record{entry}, nil
	}

	children, ok := value.([]interface{})
	if !ok || len(children) < 1 {
		return []models.Record{entry}, nil
	}

	processed := make([]models.Record, 0, len(children))
	for _, child := range children {
		processed = append(processed, paths.Set(entry, p.source, child))
	}
	return processed, nil
}
