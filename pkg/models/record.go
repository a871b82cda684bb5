// Package models provides data models and constants used throughout Grove.
package models

import (
	"crypto/md5" //nolint:gosec // used for cache key shortening, not security
	"encoding/hex"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Version is the Grove software version stamped onto collected records.
var Version = "1.0.0"

// Cache key prefixes. Every cache entry for a connector instance is
// addressed by "<prefix>.<connector>.<md5(identity)>" as the partition key
// and the operation as the sort key.
const (
	CacheKeyPointer     = "pointer"
	CacheKeyPointerPrev = "pointer_previous"
	CacheKeyLock        = "lock"
	CacheKeySeen        = "seen"
)

// OperationDefault is the operation name used where none is specified.
const OperationDefault = "all"

// DatestampFormat is the common datestamp format used for all date
// operations, including the collection_time metadata field.
const DatestampFormat = "2006-01-02T15:04:05Z"

// GroveMetadataKey is the reserved top-level field under which provenance
// is attached to every collected record.
const GroveMetadataKey = "_grove"

// Record is a provider-shaped log entry. Grove does not constrain the
// inner schema beyond reserving the GroveMetadataKey field.
type Record map[string]interface{}

// Clone returns a shallow copy of the record. Nested values are shared;
// processors which rewrite nested paths must replace, not mutate.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for key, value := range r {
		clone[key] = value
	}
	return clone
}

// Hash returns the md5 hex digest of the record's canonical JSON
// serialization, used for the deduplication window.
func (r Record) Hash() (string, error) {
	content, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	digest := md5.Sum(content) //nolint:gosec
	return hex.EncodeToString(digest[:]), nil
}

// Metadata is the provenance object stamped onto each record under
// GroveMetadataKey before emission.
type Metadata struct {
	Connector       string            `json:"connector"`
	Identity        string            `json:"identity"`
	Operation       string            `json:"operation"`
	Pointer         string            `json:"pointer"`
	PreviousPointer string            `json:"previous_pointer"`
	CollectionTime  string            `json:"collection_time"`
	Runtime         map[string]string `json:"runtime"`
	Version         string            `json:"version"`
}

// NewMetadata constructs provenance for a run started at the given time.
func NewMetadata(connector, identity, operation string, start time.Time, runtime map[string]string) Metadata {
	return Metadata{
		Connector:      connector,
		Identity:       identity,
		Operation:      operation,
		CollectionTime: start.UTC().Format(DatestampFormat),
		Runtime:        runtime,
		Version:        Version,
	}
}

// CacheKey generates the partition key which uniquely identifies a
// connector instance in the cache. The identity is hashed so that long or
// opaque identities fit length- and alphabet-restricted key-value stores.
func CacheKey(prefix, connector, identity string) string {
	digest := md5.Sum([]byte(identity)) //nolint:gosec
	return strings.Join([]string{prefix, connector, hex.EncodeToString(digest[:])}, ".")
}
