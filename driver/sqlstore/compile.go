package sqlstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// compileSelect renders a Spec as a parameterized SELECT. Values never
// appear in the statement text; identifiers are validated and quoted.
func compileSelect(spec query.Spec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	if err := driver.ValidateIdent(spec.Table); err != nil {
		return "", nil, err
	}

	projection := "*"
	if len(spec.Select) > 0 {
		cols := make([]string, len(spec.Select))
		for i, f := range spec.Select {
			if err := driver.ValidateIdent(f); err != nil {
				return "", nil, err
			}
			cols[i] = quoteIdent(f)
		}
		projection = strings.Join(cols, ", ")
	}

	parts := []string{fmt.Sprintf("SELECT %s FROM %s", projection, quoteIdent(spec.Table))}
	var args []any

	where, whereArgs, err := compileWhere(spec.Where)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		parts = append(parts, "WHERE "+where)
		args = append(args, whereArgs...)
	}

	if len(spec.Order) > 0 {
		order, err := compileOrder(spec.Order)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "ORDER BY "+order)
	}

	limit := spec.Limit
	if spec.First {
		one := 1
		limit = &one
	}
	switch {
	case limit != nil:
		parts = append(parts, "LIMIT ?")
		args = append(args, *limit)
	case spec.Offset != nil:
		// SQLite requires a LIMIT clause before OFFSET; -1 means
		// unbounded.
		parts = append(parts, "LIMIT -1")
	}
	if spec.Offset != nil {
		parts = append(parts, "OFFSET ?")
		args = append(args, *spec.Offset)
	}

	return strings.Join(parts, " "), args, nil
}

// compileCount renders a Spec's predicates as a COUNT statement.
func compileCount(spec query.Spec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	if err := driver.ValidateIdent(spec.Table); err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(spec.Table))
	where, args, err := compileWhere(spec.Where)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		stmt += " WHERE " + where
	}
	return stmt, args, nil
}

// compileUpdate renders an UPDATE over the spec's predicates. Patch
// columns are set in sorted order so the statement is deterministic.
func compileUpdate(spec query.Spec, patch driver.Record) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	if err := driver.ValidateIdent(spec.Table); err != nil {
		return "", nil, err
	}
	cols := sortedColumns(patch)
	if len(cols) == 0 {
		return "", nil, nil
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if err := driver.ValidateIdent(c); err != nil {
			return "", nil, err
		}
		sets[i] = quoteIdent(c) + " = ?"
		v, err := bindValue(patch[c])
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s", quoteIdent(spec.Table), strings.Join(sets, ", "))
	where, whereArgs, err := compileWhere(spec.Where)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		stmt += " WHERE " + where
		args = append(args, whereArgs...)
	}
	return stmt, args, nil
}

// compileDelete renders a DELETE over the spec's predicates.
func compileDelete(spec query.Spec) (string, []any, error) {
	if err := spec.Validate(); err != nil {
		return "", nil, err
	}
	if err := driver.ValidateIdent(spec.Table); err != nil {
		return "", nil, err
	}
	stmt := fmt.Sprintf("DELETE FROM %s", quoteIdent(spec.Table))
	where, args, err := compileWhere(spec.Where)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		stmt += " WHERE " + where
	}
	return stmt, args, nil
}

// compileWhere renders predicates as an AND-joined clause list.
func compileWhere(preds []query.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(preds))
	var args []any
	for _, p := range preds {
		if err := driver.ValidateIdent(p.Field); err != nil {
			return "", nil, err
		}
		col := quoteIdent(p.Field)
		switch p.Op {
		case query.OpEq:
			if p.Value == nil {
				clauses = append(clauses, col+" IS NULL")
				continue
			}
			v, err := bindValue(p.Value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, col+" = ?")
			args = append(args, v)
		case query.OpNe:
			if p.Value == nil {
				clauses = append(clauses, col+" IS NOT NULL")
				continue
			}
			v, err := bindValue(p.Value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, col+" != ?")
			args = append(args, v)
		case query.OpGt, query.OpLt, query.OpGe, query.OpLe:
			v, err := bindValue(p.Value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, p.Op))
			args = append(args, v)
		case query.OpIn:
			members, err := inMembers(p.Value)
			if err != nil {
				return "", nil, fmt.Errorf("sqlstore: in predicate on %q: %w", p.Field, err)
			}
			if len(members) == 0 {
				// Empty membership can never match.
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := strings.Repeat("?, ", len(members)-1) + "?"
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, marks))
			for _, m := range members {
				v, err := bindValue(m)
				if err != nil {
					return "", nil, err
				}
				args = append(args, v)
			}
		case query.OpLike, query.OpContains:
			clauses = append(clauses, col+` LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(likeText(p.Value))+"%")
		case query.OpStartsWith:
			clauses = append(clauses, col+` LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(likeText(p.Value))+"%")
		case query.OpEndsWith:
			clauses = append(clauses, col+` LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(likeText(p.Value)))
		default:
			return "", nil, &driver.CapabilityError{
				Driver:  "relational",
				Feature: fmt.Sprintf("operator %q", p.Op),
			}
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// compileOrder renders order keys in declaration sequence.
func compileOrder(orders []query.Order) (string, error) {
	keys := make([]string, len(orders))
	for i, o := range orders {
		if err := driver.ValidateIdent(o.Field); err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Direction == query.Desc {
			dir = "DESC"
		}
		keys[i] = quoteIdent(o.Field) + " " + dir
	}
	return strings.Join(keys, ", "), nil
}

// escapeLike escapes LIKE metacharacters so a pattern built from user
// text matches it literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// likeText renders the match value for substring operators the same
// way the document driver stringifies it.
func likeText(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(driver.NormalizeValue(v))
}

// inMembers expands an in-predicate's value into its members.
func inMembers(v any) ([]any, error) {
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

// bindValue converts a record value into a driver-bindable parameter.
// Scalars normalize onto int64/float64/string/bool; maps and slices
// serialize to JSON text, matching the TEXT affinity columnType gives
// their columns.
func bindValue(v any) (any, error) {
	switch val := driver.NormalizeValue(v).(type) {
	case nil, bool, int64, float64, string:
		return val, nil
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: encode %T parameter: %w", v, err)
		}
		return string(raw), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported parameter type %T", v)
	}
}

// sortedColumns returns patch's field names in sorted order with the
// immutable id column removed.
func sortedColumns(rec driver.Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		if c == "id" {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
