package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// matcher reports whether a record satisfies one predicate.
type matcher func(rec driver.Record) bool

// compileMatchers turns predicates into matcher closures, rejecting
// operators outside the driver's vocabulary and malformed values up
// front so a bad spec fails before any rows are touched.
func compileMatchers(preds []query.Predicate) ([]matcher, error) {
	out := make([]matcher, 0, len(preds))
	for _, p := range preds {
		field := p.Field
		switch p.Op {
		case query.OpEq:
			want := p.Value
			out = append(out, func(rec driver.Record) bool {
				return valuesEqual(rec[field], want)
			})
		case query.OpNe:
			want := p.Value
			out = append(out, func(rec driver.Record) bool {
				return !valuesEqual(rec[field], want)
			})
		case query.OpIn:
			members, err := valueSlice(p.Value)
			if err != nil {
				return nil, fmt.Errorf("docstore: in predicate on %q: %w", field, err)
			}
			out = append(out, func(rec driver.Record) bool {
				have := rec[field]
				for _, m := range members {
					if valuesEqual(have, m) {
						return true
					}
				}
				return false
			})
		case query.OpLike:
			needle := foldText(stringify(p.Value))
			out = append(out, func(rec driver.Record) bool {
				return strings.Contains(foldText(stringify(rec[field])), needle)
			})
		case query.OpGt, query.OpLt, query.OpGe, query.OpLe:
			op := p.Op
			want := p.Value
			out = append(out, func(rec driver.Record) bool {
				c, ok := compareOrdered(rec[field], want)
				if !ok {
					return false
				}
				switch op {
				case query.OpGt:
					return c > 0
				case query.OpLt:
					return c < 0
				case query.OpGe:
					return c >= 0
				default:
					return c <= 0
				}
			})
		default:
			return nil, &driver.CapabilityError{
				Driver:  "document",
				Feature: fmt.Sprintf("operator %q", p.Op),
			}
		}
	}
	return out, nil
}

// applyWhere filters data by the predicates. Equality predicates on
// indexed fields prefilter through the index before the remaining
// predicates run as a scan.
func (s *Store) applyWhere(table string, data []driver.Record, preds []query.Predicate) ([]driver.Record, error) {
	if len(preds) == 0 {
		return data, nil
	}
	matchers, err := compileMatchers(preds)
	if err != nil {
		return nil, err
	}

	if candidates, ok := s.indexCandidates(table, preds); ok {
		narrowed := make([]driver.Record, 0, len(candidates))
		for _, rec := range data {
			if id, ok := driver.RecordID(rec); ok {
				if _, hit := candidates[id]; hit {
					narrowed = append(narrowed, rec)
				}
			}
		}
		data = narrowed
	}

	out := make([]driver.Record, 0, len(data))
scan:
	for _, rec := range data {
		for _, m := range matchers {
			if !m(rec) {
				continue scan
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// indexCandidates intersects index buckets for the equality predicates
// that can use one. The second return is false when no predicate could
// be answered from the index.
func (s *Store) indexCandidates(table string, preds []query.Predicate) (idSet, bool) {
	idx, ok := s.indexes[table]
	if !ok {
		return nil, false
	}
	var candidates idSet
	for _, p := range preds {
		if p.Op != query.OpEq {
			continue
		}
		bucket, usable := idx.lookup(p.Field, p.Value)
		if !usable {
			continue
		}
		if candidates == nil {
			candidates = make(idSet, len(bucket))
			for id := range bucket {
				candidates[id] = struct{}{}
			}
			continue
		}
		for id := range candidates {
			if _, hit := bucket[id]; !hit {
				delete(candidates, id)
			}
		}
		if len(candidates) == 0 {
			break
		}
	}
	return candidates, candidates != nil
}

// valueSlice expands an in-predicate's value into its members. A nil
// value matches nothing; any other non-slice value is a malformed
// predicate.
func valueSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("value must be a slice, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// stringify renders a value for substring matching. Nil and missing
// fields become the empty string.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(driver.NormalizeValue(v))
}

// foldText lowercases and NFC-normalizes text so "like" matching is
// case-insensitive and stable across composed and decomposed input.
func foldText(s string) string {
	return norm.NFC.String(strings.ToLower(s))
}

// numeric coerces any integer or float into a common numeric form.
func numeric(v any) (f float64, i int64, isInt, ok bool) {
	switch n := driver.NormalizeValue(v).(type) {
	case int64:
		return float64(n), n, true, true
	case float64:
		return n, 0, false, true
	default:
		return 0, 0, false, false
	}
}

// valuesEqual compares two field values after normalization. Numbers
// compare across int and float representations; containers compare
// deeply.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, ai, aInt, aNum := numeric(a)
	bf, bi, bInt, bNum := numeric(b)
	if aNum || bNum {
		if !aNum || !bNum {
			return false
		}
		if aInt && bInt {
			return ai == bi
		}
		return af == bf
	}
	switch av := driver.NormalizeValue(a).(type) {
	case string:
		bv, ok := driver.NormalizeValue(b).(string)
		return ok && av == bv
	case bool:
		bv, ok := driver.NormalizeValue(b).(bool)
		return ok && av == bv
	default:
		return reflect.DeepEqual(driver.NormalizeValue(a), driver.NormalizeValue(b))
	}
}

// compareOrdered compares two values for the range operators. Numbers
// compare with numbers and strings with strings; any other pairing is
// unordered and matches nothing.
func compareOrdered(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	af, ai, aInt, aNum := numeric(a)
	bf, bi, bInt, bNum := numeric(b)
	if aNum && bNum {
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			default:
				return 0, true
			}
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := driver.NormalizeValue(a).(string)
	bs, bok := driver.NormalizeValue(b).(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// sortRank orders values of mixed types deterministically: nil, then
// booleans, then numbers, then strings, then everything else.
func sortRank(v any) int {
	switch driver.NormalizeValue(v).(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// compareForSort is a total order over field values used by OrderBy.
func compareForSort(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		av := driver.NormalizeValue(a).(bool)
		bv := driver.NormalizeValue(b).(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case 2, 3:
		if c, ok := compareOrdered(a, b); ok {
			return c
		}
		return 0
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// sortRecords stable-sorts data by the order keys in sequence: the
// first key is primary, later keys break ties.
func sortRecords(data []driver.Record, orders []query.Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(data, func(i, j int) bool {
		for _, o := range orders {
			c := compareForSort(data[i][o.Field], data[j][o.Field])
			if c == 0 {
				continue
			}
			if o.Direction == query.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// applyBounds slices data to the spec's offset and limit.
func applyBounds(data []driver.Record, limit, offset *int) []driver.Record {
	if offset != nil {
		n := *offset
		if n < 0 {
			n = 0
		}
		if n >= len(data) {
			return data[:0]
		}
		data = data[n:]
	}
	if limit != nil {
		n := *limit
		if n < 0 {
			n = 0
		}
		if n < len(data) {
			data = data[:n]
		}
	}
	return data
}

// project builds result records holding only the selected fields. A
// selected field missing from a record is present in the output with a
// nil value, so every result row has the same shape.
func project(data []driver.Record, fields []string) []driver.Record {
	out := make([]driver.Record, len(data))
	for i, rec := range data {
		row := make(driver.Record, len(fields))
		for _, f := range fields {
			row[f] = rec[f]
		}
		out[i] = row
	}
	return out
}
