package fhir

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cast"

	"github.com/ehr/fhirconverter/internal/platform/fault"
)

// MergeJSON deduplicates the entries of a rendered Bundle. Entries sharing a
// resource key are deep-merged into the first occurrence, which keeps its
// position: objects merge recursively, arrays are unioned and scalars are
// overwritten by the later entry. A bundle without an entry array is
// returned unchanged.
//
// The bundle is modified in place and also returned.
func MergeJSON(bundle map[string]interface{}) (result map[string]interface{}, err error) {
	entries, ok := bundle[KeyEntry].([]interface{})
	if !ok {
		return bundle, nil
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fault.Newf(fault.JSONMergingError, "merge bundle entries: %v", r)
		}
	}()

	merged := make([]interface{}, 0, len(entries))
	index := make(map[string]int, len(entries))
	for i, entry := range entries {
		key, err := ResourceKey(entry)
		if err != nil {
			return nil, fault.Wrapf(fault.JSONMergingError, err, "entry %d", i)
		}
		if pos, seen := index[key]; seen {
			merged[pos] = mergeValue(merged[pos], entry)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, entry)
	}

	bundle[KeyEntry] = merged
	return bundle, nil
}

// ResourceKey returns the identity used to match bundle entries:
// resourceType, then _versionId and _id when present. Entries without a
// typed resource are keyed by their JSON serialization.
func ResourceKey(entry interface{}) (string, error) {
	if m, ok := entry.(map[string]interface{}); ok {
		if res, ok := m[KeyResource].(map[string]interface{}); ok {
			if rt, ok := res[KeyResourceType]; ok && rt != nil {
				key := cast.ToString(rt)
				if meta, ok := res[KeyMeta].(map[string]interface{}); ok {
					if v, ok := meta[KeyVersionID]; ok && v != nil {
						key += "_" + cast.ToString(v)
					}
				}
				if id, ok := res[KeyID]; ok && id != nil {
					key += "_" + cast.ToString(id)
				}
				return key, nil
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("serialize entry: %w", err)
	}
	return string(data), nil
}

// mergeValue merges source into target and returns the result. Null source
// values leave target untouched.
func mergeValue(target, source interface{}) interface{} {
	if source == nil {
		return target
	}

	switch src := source.(type) {
	case map[string]interface{}:
		if dst, ok := target.(map[string]interface{}); ok {
			mergeObject(dst, src)
			return dst
		}
	case []interface{}:
		if dst, ok := target.([]interface{}); ok {
			return unionArray(dst, src)
		}
	}
	return source
}

func mergeObject(target, source map[string]interface{}) {
	for key, srcVal := range source {
		if srcVal == nil {
			continue
		}
		if dstVal, exists := target[key]; exists {
			target[key] = mergeValue(dstVal, srcVal)
		} else {
			target[key] = srcVal
		}
	}
}

// unionArray appends the source elements not already deep-equal to an
// element of target. Partially overlapping objects are distinct elements.
func unionArray(target, source []interface{}) []interface{} {
	for _, s := range source {
		found := false
		for _, t := range target {
			if reflect.DeepEqual(t, s) {
				found = true
				break
			}
		}
		if !found {
			target = append(target, s)
		}
	}
	return target
}
