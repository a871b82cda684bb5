// Package filterpaths provides a processor which removes configured
// dotted paths from each log entry. Intended for redaction of fields
// which must not reach downstream storage.
package filterpaths

import (
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/paths"
	"github.com/hashicorp-forge/grove/pkg/processors"
)

// Name is the processor name referenced by configuration documents.
const Name = "filter_paths"

func init() {
	processors.Register(Name, func(cfg processors.Config) (processors.Processor, error) {
		sources := cfg.Strings("sources")
		if len(sources) == 0 {
			return nil, errors.New(errors.ErrorTypeConfiguration, "filter_paths requires at least one entry in 'sources'")
		}
		return &Processor{sources: sources}, nil
	})
}

// Processor removes configured dotted paths from log entries.
type Processor struct {
	sources []string
}

// Process removes each configured path. Absent paths are ignored.
func (p *Processor) Process(entry models.Record) ([]models.Record, error) {
	current := map[string]interface{}(entry)
	for _, source := range p.sources {
		current = paths.Delete(current, source)
	}
	return []models.Record{current}, nil
}
