// Package processors defines the processor contract and the ordered
// chain applied to each batch of collected records between fetch and
// emit. Processors are pure relative to the batch: no external state, no
// blocking.
package processors

import (
	"fmt"
	"sync"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
)

// Config is the configuration for one processor in a chain. Processors
// define their own parameters beyond the name and processor fields; these
// ride in the open Fields mapping.
type Config struct {
	// Name is an arbitrary operator-chosen label for tracking.
	Name string `json:"name"`

	// Processor names the registered processor to run.
	Processor string `json:"processor"`

	// Fields carries processor-specific parameters.
	Fields map[string]interface{} `json:"-"`
}

// String returns a processor-specific string parameter from the open
// fields.
func (c Config) String(key string) string {
	value, _ := c.Fields[key].(string)
	return value
}

// Strings returns a processor-specific list-of-strings parameter from the
// open fields.
func (c Config) Strings(key string) []string {
	raw, ok := c.Fields[key].([]interface{})
	if !ok {
		return nil
	}

	values := make([]string, 0, len(raw))
	for _, element := range raw {
		if value, ok := element.(string); ok {
			values = append(values, value)
		}
	}
	return values
}

// Processor transforms a single record into zero or more records. An
// empty result drops the record; multiple results fan it out.
type Processor interface {
	// Process transforms one record. Implementations must not mutate
	// the input.
	Process(entry models.Record) ([]models.Record, error)
}

// Factory constructs a processor from its configuration.
type Factory func(cfg Config) (Processor, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a processor available under the given name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("processor %q registered twice", name))
	}
	registry[name] = factory
}

// New constructs the named processor.
func New(cfg Config) (Processor, error) {
	mu.RLock()
	factory, exists := registry[cfg.Processor]
	mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "processor %q not found", cfg.Processor)
	}
	return factory(cfg)
}

// Chain is an ordered list of processors applied to each batch.
type Chain struct {
	processors []Processor
}

// NewChain constructs a chain from an ordered list of processor
// configurations.
func NewChain(configurations []Config) (*Chain, error) {
	chain := &Chain{processors: make([]Processor, 0, len(configurations))}

	for _, cfg := range configurations {
		processor, err := New(cfg)
		if err != nil {
			return nil, err
		}
		chain.processors = append(chain.processors, processor)
	}
	return chain, nil
}

// Len returns the number of processors in the chain.
func (c *Chain) Len() int {
	return len(c.processors)
}

// Apply runs the chain over a batch in declaration order. Record order is
// preserved: outputs of an expanded record are emitted in sequence order,
// ahead of the next original record. A processor failure fails the whole
// batch.
func (c *Chain) Apply(batch []models.Record) ([]models.Record, error) {
	current := batch

	for _, processor := range c.processors {
		next := make([]models.Record, 0, len(current))
		for _, entry := range current {
			processed, err := processor.Process(entry)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeProcessor, "processor failed for batch")
			}
			next = append(next, processed...)
		}
		current = next
	}
	return current, nil
}
