package docstore

import (
	"math"

	"github.com/apopov/strata/driver"
)

// tableIndex maps an indexed field to buckets of record ids keyed by
// the field's normalized value. Only comparable scalar values are
// indexed; records holding nil, containers, or no value for the field
// are left to the linear scan.
type tableIndex map[string]map[any]idSet

type idSet map[int64]struct{}

// indexKey normalizes a value into a map-safe index key. Integral
// floats collapse onto int64 so a query for 30 finds a record stored
// as 30.0. The second return is false for values that cannot key a
// bucket (nil, slices, maps).
func indexKey(v any) (any, bool) {
	switch val := driver.NormalizeValue(v).(type) {
	case nil:
		return nil, false
	case string:
		return val, true
	case bool:
		return val, true
	case int64:
		return val, true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), true
		}
		return val, true
	default:
		return nil, false
	}
}

// buildIndex constructs a fresh index over data for the given fields.
func buildIndex(data []driver.Record, fields []string) tableIndex {
	idx := make(tableIndex, len(fields))
	for _, f := range fields {
		idx[f] = make(map[any]idSet)
	}
	for _, rec := range data {
		indexRecord(idx, rec)
	}
	return idx
}

// indexRecord adds one record's indexed fields to idx.
func indexRecord(idx tableIndex, rec driver.Record) {
	id, ok := driver.RecordID(rec)
	if !ok {
		return
	}
	for field, buckets := range idx {
		key, ok := indexKey(rec[field])
		if !ok {
			continue
		}
		set, ok := buckets[key]
		if !ok {
			set = make(idSet)
			buckets[key] = set
		}
		set[id] = struct{}{}
	}
}

// unindexRecord removes one record's entries from idx. Empty buckets
// are dropped so lookups of vacated values return nothing.
func unindexRecord(idx tableIndex, rec driver.Record) {
	id, ok := driver.RecordID(rec)
	if !ok {
		return
	}
	for field, buckets := range idx {
		key, ok := indexKey(rec[field])
		if !ok {
			continue
		}
		set, ok := buckets[key]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(buckets, key)
		}
	}
}

// lookup returns the id bucket for field == value. The second return
// is false when the value cannot be an index key, meaning the caller
// must fall back to a scan; a missing bucket for a keyable value is a
// definitive empty result because the index is complete per field.
func (idx tableIndex) lookup(field string, value any) (idSet, bool) {
	buckets, ok := idx[field]
	if !ok {
		return nil, false
	}
	key, ok := indexKey(value)
	if !ok {
		return nil, false
	}
	return buckets[key], true
}
