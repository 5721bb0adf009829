package strata

import (
	"context"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Query starts a fluent query against table:
//
//	rows, err := store.Query("users").
//		Where("zone", "==", "north").
//		OrderBy("age", query.Desc).
//		Limit(10).
//		Get(ctx)
//
// The builder only accumulates a query.Spec; nothing touches the
// driver until one of the terminal methods runs.
func (s *Store) Query(table string) *Builder {
	return &Builder{s: s, spec: query.New(table)}
}

// Builder accumulates a query step by step. Builders are not safe for
// concurrent use; build and execute one per query.
type Builder struct {
	s    *Store
	spec query.Spec
	err  error
}

// Where adds a predicate. The operator accepts the query.Op constants
// and their spellings, including the legacy "=" for equality.
func (b *Builder) Where(field string, op query.Op, value any) *Builder {
	b.spec = b.spec.AndWhere(field, query.NormalizeOp(string(op)), value)
	return b
}

// Filter adds an equality predicate per filters entry.
func (b *Builder) Filter(filters query.Filters) *Builder {
	for _, p := range filters.Predicates() {
		b.spec = b.spec.AndWhere(p.Field, p.Op, p.Value)
	}
	return b
}

// OrderBy appends an ordering term.
func (b *Builder) OrderBy(field string, dir query.Direction) *Builder {
	b.spec = b.spec.OrderedBy(field, dir)
	return b
}

// OrderString appends ordering terms parsed from the single-string
// form, e.g. "age desc, name". A parse error is held and returned by
// the terminal method.
func (b *Builder) OrderString(s string) *Builder {
	orders, err := query.ParseOrderList(s)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	for _, o := range orders {
		b.spec = b.spec.OrderedBy(o.Field, o.Direction)
	}
	return b
}

// Limit caps the number of returned records.
func (b *Builder) Limit(n int) *Builder {
	b.spec = b.spec.Limited(n)
	return b
}

// Offset skips the first n matching records.
func (b *Builder) Offset(n int) *Builder {
	b.spec = b.spec.Shifted(n)
	return b
}

// Select restricts returned records to the named fields.
func (b *Builder) Select(fields ...string) *Builder {
	b.spec = b.spec.Projected(fields...)
	return b
}

// Get executes the accumulated query and returns the matching
// records.
func (b *Builder) Get(ctx context.Context) ([]driver.Record, error) {
	if b.err != nil {
		return nil, b.s.fail("query", b.spec.Table, b.err)
	}
	return b.s.Read(ctx, b.spec)
}

// First executes the query capped to one record and returns it, or
// nil when nothing matches.
func (b *Builder) First(ctx context.Context) (driver.Record, error) {
	if b.err != nil {
		return nil, b.s.fail("query", b.spec.Table, b.err)
	}
	rows, err := b.s.Read(ctx, b.spec.OnlyFirst())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count returns the number of records matching the accumulated
// predicates.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	if b.err != nil {
		return 0, b.s.fail("query", b.spec.Table, b.err)
	}
	drv, _, err := b.s.handle()
	if err != nil {
		return 0, b.s.fail("count", b.spec.Table, err)
	}
	n, err := drv.Count(ctx, b.spec)
	if err != nil {
		return 0, b.s.fail("count", b.spec.Table, err)
	}
	return n, nil
}

// Exists reports whether any record matches the accumulated
// predicates.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	rec, err := b.First(ctx)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Pluck executes the query and returns the named field from each
// matching record, nil where a record lacks it.
func (b *Builder) Pluck(ctx context.Context, field string) ([]any, error) {
	rows, err := b.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[field]
	}
	return out, nil
}
