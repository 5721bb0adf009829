package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// parseWhere parses one --where expression of the form "field op value",
// e.g. "age >= 27" or "zone in north,south". The value keeps any spaces
// after the operator; the in operator takes a comma-separated list.
func parseWhere(expr string) (field string, op query.Op, value any, err error) {
	parts := strings.SplitN(strings.TrimSpace(expr), " ", 3)
	if len(parts) != 3 {
		return "", "", nil, fmt.Errorf("invalid --where %q: want \"field op value\"", expr)
	}
	field = parts[0]
	op = query.NormalizeOp(parts[1])
	raw := strings.TrimSpace(parts[2])
	if op == query.OpIn {
		items := strings.Split(raw, ",")
		vals := make([]any, 0, len(items))
		for _, item := range items {
			vals = append(vals, parseLiteral(strings.TrimSpace(item)))
		}
		return field, op, vals, nil
	}
	return field, op, parseLiteral(raw), nil
}

// parseLiteral maps a --where value onto a typed literal. Integers,
// floats, booleans, and null are recognized; quoting forces a string;
// everything else stays a string.
func parseLiteral(s string) any {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// splitFields splits a comma-separated field list, dropping empties.
func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// formatRecord renders a record as "{k=v, ...}" with sorted keys so
// text output is deterministic.
func formatRecord(rec driver.Record) string {
	if len(rec) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(rec[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatRecord(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}
