package core

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/processors"
)

// Config is a parsed connector configuration document: an immutable
// description of one collection instance. Arbitrary additional fields are
// preserved in Fields and handed to the connector body unchanged, which
// is how per-connector parameters ride in.
type Config struct {
	// Name is the operator-chosen document name, unique within the
	// document set.
	Name string

	// Identity is the tenant or account handle used to scope pointers
	// and for provenance.
	Identity string

	// Connector names the connector body which implements this
	// instance.
	Connector string

	// Key is the primary credential. It may be set directly or via a
	// secret reference named "key".
	Key string

	// Operation selects a sub-API where a connector serves several.
	Operation string

	// Frequency is the interval between runs in daemon mode, in
	// seconds. Zero selects the connector's default.
	Frequency int

	// Disabled excludes the instance from scheduling.
	Disabled bool

	// Secrets maps logical field names to backend-specific lookup
	// paths.
	Secrets map[string]string

	// Encoding marks fields which are encoded and must be decoded
	// before use, as a mapping of field name to scheme. Only "base64"
	// is supported.
	Encoding map[string]string

	// OutputEncoding selects the output artifact framing for this
	// instance. It is set by the "encoding" field when given as a
	// string, or the "output_encoding" field. Empty selects the
	// default (gzip, or raw where the output backend prefers it).
	OutputEncoding string

	// Processors is the ordered transformation chain applied to each
	// batch before emit.
	Processors []processors.Config

	// Fields is the full raw document, including every field above and
	// any connector-specific extras.
	Fields map[string]interface{}

	hash string
}

// ParseConfig parses and validates a raw configuration document. JSON and
// YAML documents are accepted.
func ParseConfig(raw []byte) (*Config, error) {
	fields, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(raw)
	cfg := &Config{
		Name:      stringField(fields, "name"),
		Identity:  stringField(fields, "identity"),
		Connector: stringField(fields, "connector"),
		Key:       stringField(fields, "key"),
		Operation: stringField(fields, "operation"),
		Disabled:  boolField(fields, "disabled"),
		Secrets:   stringMapField(fields, "secrets"),
		Encoding:  stringMapField(fields, "encoding"),

		OutputEncoding: stringField(fields, "output_encoding"),
		Fields:         fields,

		hash: hex.EncodeToString(digest[:]),
	}

	if frequency, ok := fields["frequency"].(float64); ok {
		cfg.Frequency = int(frequency)
	}
	if cfg.Operation == "" {
		cfg.Operation = models.OperationDefault
	}

	// "encoding" takes two shapes: a string selects the output artifact
	// framing, while a mapping marks encoded fields to decode at load.
	if framing, ok := fields["encoding"].(string); ok && cfg.OutputEncoding == "" {
		cfg.OutputEncoding = framing
	}

	if cfg.Processors, err = parseProcessors(fields); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.decodeFields(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reference uniquely identifies the collection stream this document
// describes. The scheduler rejects documents with duplicate references.
func (c *Config) Reference() string {
	return strings.Join([]string{c.Connector, c.Identity, c.Operation}, ".")
}

// Hash is the digest of the raw document, used by the scheduler to
// detect changed documents during refresh.
func (c *Config) Hash() string {
	return c.hash
}

// Field returns a connector-specific field from the open document.
func (c *Config) Field(name string) (interface{}, bool) {
	value, ok := c.Fields[name]
	return value, ok
}

// StringField returns a connector-specific string field, or the fallback
// when absent.
func (c *Config) StringField(name, fallback string) string {
	if value, ok := c.Fields[name].(string); ok {
		return value
	}
	return fallback
}

// IntField returns a connector-specific integer field, or the fallback
// when absent. JSON numbers arrive as float64.
func (c *Config) IntField(name string, fallback int) int {
	switch value := c.Fields[name].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return fallback
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeConfiguration, "required field 'name' is missing")
	}
	if c.Identity == "" {
		return errors.New(errors.ErrorTypeConfiguration, "required field 'identity' is missing")
	}
	if c.Connector == "" {
		return errors.New(errors.ErrorTypeConfiguration, "required field 'connector' is missing")
	}
	if c.Key == "" {
		if _, ok := c.Secrets["key"]; !ok {
			return errors.New(errors.ErrorTypeConfiguration, "required field 'key' is missing and has no secret reference")
		}
	}
	return nil
}

// decodeFields decodes encoded fields at load time. Fields which will be
// provided by the secret backend are deferred until after resolution.
func (c *Config) decodeFields() error {
	for field, scheme := range c.Encoding {
		if _, deferred := c.Secrets[field]; deferred {
			continue
		}

		value, ok := c.Fields[field].(string)
		if !ok {
			continue
		}

		decoded, err := Decode(value, scheme)
		if err != nil {
			return err
		}
		c.Fields[field] = decoded
		if field == "key" {
			c.Key = decoded
		}
	}
	return nil
}

// WithSecrets returns a copy of the configuration with resolved secret
// values merged in, overwriting inline values. Deferred encodings are
// applied here, after retrieval.
func (c *Config) WithSecrets(resolved map[string]string) (*Config, error) {
	clone := *c
	clone.Fields = make(map[string]interface{}, len(c.Fields))
	for key, value := range c.Fields {
		clone.Fields[key] = value
	}

	for field, value := range resolved {
		if scheme, encoded := c.Encoding[field]; encoded {
			decoded, err := Decode(value, scheme)
			if err != nil {
				return nil, err
			}
			value = decoded
		}

		clone.Fields[field] = value
		if field == "key" {
			clone.Key = value
		}
	}
	return &clone, nil
}

// Decode decodes a value using the specified encoding scheme.
func Decode(value, scheme string) (string, error) {
	switch scheme {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeData, "unable to base64 decode data")
		}
		return string(decoded), nil
	default:
		return "", errors.Newf(errors.ErrorTypeData, "unknown encoding method %q", scheme)
	}
}

// decodeDocument unmarshals a raw document into an open map. JSON is
// tried first; YAML is the fallback.
func decodeDocument(raw []byte) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err == nil {
		return fields, nil
	}

	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "configuration document is not valid JSON or YAML")
	}

	// Normalize YAML numbers to the JSON representation so field
	// accessors behave identically for both formats.
	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "unable to normalize configuration document")
	}
	fields = make(map[string]interface{})
	if err := json.Unmarshal(normalized, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "unable to normalize configuration document")
	}
	return fields, nil
}

func parseProcessors(fields map[string]interface{}) ([]processors.Config, error) {
	raw, ok := fields["processors"].([]interface{})
	if !ok {
		return nil, nil
	}

	parsed := make([]processors.Config, 0, len(raw))
	for _, element := range raw {
		spec, ok := element.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeConfiguration, "processor specifications must be objects")
		}

		cfg := processors.Config{Fields: spec}
		cfg.Name, _ = spec["name"].(string)
		cfg.Processor, _ = spec["processor"].(string)

		if cfg.Processor == "" {
			return nil, errors.New(errors.ErrorTypeConfiguration, "processor specifications require a 'processor' name")
		}
		parsed = append(parsed, cfg)
	}
	return parsed, nil
}

func stringField(fields map[string]interface{}, name string) string {
	value, _ := fields[name].(string)
	return value
}

func boolField(fields map[string]interface{}, name string) bool {
	value, _ := fields[name].(bool)
	return value
}

func stringMapField(fields map[string]interface{}, name string) map[string]string {
	raw, ok := fields[name].(map[string]interface{})
	if !ok {
		return nil
	}

	values := make(map[string]string, len(raw))
	for key, element := range raw {
		if value, ok := element.(string); ok {
			values[key] = value
		}
	}
	return values
}
