// Package paths implements dotted-path traversal over record data.
// Processors use these helpers to read and rewrite nested fields without
// mutating the input, keeping transforms pure.
package paths

import "strings"

// Split breaks a dotted path into its segments. Empty segments are
// dropped so "a..b" and ".a.b" are tolerated.
func Split(path string) []string {
	parts := strings.Split(path, ".")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// Get resolves a dotted path inside a nested map, returning the value and
// whether the full path was present.
func Get(entry map[string]interface{}, path string) (interface{}, bool) {
	segments := Split(path)
	if len(segments) == 0 {
		return nil, false
	}

	var current interface{} = entry
	for _, segment := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set returns a copy of entry with the value at the dotted path replaced.
// Maps along the path are copied so the original entry is left untouched;
// values off the path are shared. If any segment, the leaf included, is
// missing or passes through a non-map, the entry is returned unchanged;
// Set never adds a new key.
func Set(entry map[string]interface{}, path string, value interface{}) map[string]interface{} {
	segments := Split(path)
	if len(segments) == 0 {
		return entry
	}
	if _, ok := walk(entry, segments); !ok {
		return entry
	}
	return rewrite(entry, segments, value, false)
}

// Delete returns a copy of entry with the dotted path removed. As with
// Set, the original entry is not modified. A missing path returns the
// entry unchanged.
func Delete(entry map[string]interface{}, path string) map[string]interface{} {
	segments := Split(path)
	if len(segments) == 0 {
		return entry
	}
	if _, ok := walk(entry, segments); !ok {
		return entry
	}
	return rewrite(entry, segments, nil, true)
}

// walk checks whether all segments resolve through nested maps.
func walk(entry map[string]interface{}, segments []string) (interface{}, bool) {
	var current interface{} = entry
	for _, segment := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// rewrite copies maps along the path and either replaces or removes the
// leaf segment.
func rewrite(entry map[string]interface{}, segments []string, value interface{}, remove bool) map[string]interface{} {
	clone := make(map[string]interface{}, len(entry))
	for key, existing := range entry {
		clone[key] = existing
	}

	if len(segments) == 1 {
		if remove {
			delete(clone, segments[0])
		} else {
			clone[segments[0]] = value
		}
		return clone
	}

	child, ok := clone[segments[0]].(map[string]interface{})
	if !ok {
		return clone
	}
	clone[segments[0]] = rewrite(child, segments[1:], value, remove)
	return clone
}
