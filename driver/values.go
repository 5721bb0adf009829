package driver

import "encoding/json"

// NormalizeValue maps a value onto the canonical in-memory form shared
// by both backends: every signed and unsigned integer width becomes
// int64, float32 becomes float64, json.Number becomes int64 when the
// literal is integral and float64 otherwise, []byte becomes string,
// and containers are normalized recursively. Everything else passes
// through unchanged.
//
// Normalizing at the storage boundary is what makes a record
// round-trip stable: a record created with an int field compares equal
// to the same record reloaded from JSON or scanned from SQLite, and
// equality-index keys stay consistent across both paths.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool, string, int64, float64:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case json.Number:
		return normalizeNumber(val)
	case Record:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = NormalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = NormalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = NormalizeValue(e)
		}
		return out
	default:
		return val
	}
}

// normalizeNumber converts a json.Number to int64 when the literal has
// no fraction or exponent, float64 otherwise. Integers too large for
// int64 fall back to float64.
func normalizeNumber(n json.Number) any {
	s := string(n)
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '.' || c == 'e' || c == 'E' {
			f, err := n.Float64()
			if err != nil {
				return s
			}
			return f
		}
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return s
}

// NormalizeRecord returns a copy of rec with every value normalized
// via NormalizeValue. The input record is not modified.
func NormalizeRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = NormalizeValue(v)
	}
	return out
}

// RecordID extracts the record's id as an int64. Besides the
// normalized int64 form it accepts an integral float64, the shape a
// non-normalizing JSON decoder leaves behind. The second return is
// false when the record has no usable id.
func RecordID(rec Record) (int64, bool) {
	switch id := rec["id"].(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		if id == float64(int64(id)) {
			return int64(id), true
		}
		return 0, false
	default:
		return 0, false
	}
}
