// Package zippaths provides a processor which flattens a sequence of
// key / value objects into a single mapping. This is useful for data such
// as Google Workspace activity logs, where parameters appear as:
//
//	"parameters": [
//	    {"name": "owner", "value": "a-user@example.org"},
//	    {"name": "visibility", "value": "private"}
//	]
//
// After zipping on name / value the sequence becomes:
//
//	"parameters": {"owner": "a-user@example.org", "visibility": "private"}
package zippaths

import (
	"fmt"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/paths"
	"github.com/hashicorp-forge/grove/pkg/processors"
)

// Name is the processor name referenced by configuration documents.
const Name = "zip_paths"

func init() {
	processors.Register(Name, func(cfg processors.Config) (processors.Processor, error) {
		source := cfg.String("source")
		if source == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "zip_paths requires a 'source' path")
		}

		key := cfg.String("key")
		if key == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "zip_paths requires a 'key' path")
		}

		values := cfg.Strings("values")
		if len(values) == 0 {
			return nil, errors.New(errors.ErrorTypeConfiguration, "zip_paths requires at least one entry in 'values'")
		}

		return &Processor{source: source, key: key, values: values}, nil
	})
}

// Processor zips a sequence of key / value objects into a mapping.
type Processor struct {
	source string
	key    string
	values []string
}

// Process replaces the configured sequence with a mapping keyed by each
// element's key field, taking the first non-absent value field in
// priority order. On duplicate keys the later entry wins. If the source
// path cannot be found the entry passes through unchanged.
func (p *Processor) Process(entry models.Record) ([]models.Record, error) {
	candidate, found := paths.Get(entry, p.source)
	if !found {
		return []models.Record{entry}, nil
	}

	// Always iterate over a sequence; a lone object is mapped into one.
	children, ok := candidate.([]interface{})
	if !ok {
		children = []interface{}{candidate}
	}

	result := make(map[string]interface{})

	for _, element := range children {
		child, ok := element.(map[string]interface{})
		if !ok {
			continue
		}

		key, found := paths.Get(child, p.key)
		if !found {
			continue
		}

		var value interface{}
		for _, path := range p.values {
			if candidate, found := paths.Get(child, path); found {
				value = candidate
				break
			}
		}
		if value == nil {
			continue
		}

		result[fmt.Sprintf("%v", key)] = value
	}

	return []models.Record{paths.Set(entry, p.source, result)}, nil
}
