// Package driver defines the contract every storage backend satisfies.
//
// The two built-in backends (docstore and sqlstore) and any third-party
// backend expose the same Queryer surface, declare what they can do
// through Capabilities, and optionally add batch operations through
// Bulk. Callers above the contract never branch on the concrete driver.
package driver

import (
	"context"
	"fmt"

	"github.com/apopov/strata/query"
)

// Record is one stored row: field name to value. Every persisted record
// carries "id" (int64), "created_at" and "updated_at" (RFC 3339 UTC
// strings). Values are restricted to what JSON can represent.
type Record map[string]any

// Clone returns a deep copy of the record. Nested maps and slices are
// copied recursively so mutations of the copy never reach the original.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Record:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}

// Queryer is the operation surface shared by a driver and by the
// transactional handle it passes to Transaction callbacks.
//
// Transaction runs fn atomically. The Queryer handed to fn is only
// valid until fn returns; every exit path, error or panic, either
// commits or rolls back. Nested calls are allowed and behave according
// to the driver's declared NestedRollback granularity.
type Queryer interface {
	// Create inserts a record and returns its assigned id.
	Create(ctx context.Context, table string, rec Record) (int64, error)

	// Read returns the records matching spec, honoring its order,
	// pagination, projection, and First flag. No match is an empty
	// slice, not an error.
	Read(ctx context.Context, spec query.Spec) ([]Record, error)

	// Update applies patch to every record matching spec's predicates
	// and returns the number of records changed. Order and pagination
	// in spec are ignored.
	Update(ctx context.Context, spec query.Spec, patch Record) (int64, error)

	// Delete removes every record matching spec's predicates and
	// returns the number removed.
	Delete(ctx context.Context, spec query.Spec) (int64, error)

	// Count returns the number of records matching spec's predicates.
	Count(ctx context.Context, spec query.Spec) (int64, error)

	// LastID returns the highest id ever assigned in table, 0 when the
	// table does not exist yet.
	LastID(ctx context.Context, table string) (int64, error)

	// Transaction runs fn atomically.
	Transaction(ctx context.Context, fn func(Queryer) error) error
}

// Driver is a complete storage backend.
type Driver interface {
	Queryer

	// Capabilities reports what this driver supports. The result is
	// constant for the lifetime of the driver.
	Capabilities() Capabilities

	// Close releases the backend's resources. The driver is unusable
	// afterwards.
	Close() error
}

// UpsertResult reports how a batch upsert split between inserts and
// updates.
type UpsertResult struct {
	Created int64
	Updated int64
}

// Bulk is the optional batch surface. Drivers that do not implement it
// still get batch semantics from the facade via a per-record fallback
// inside a single transaction; implementing Bulk lets a driver do
// better than that.
type Bulk interface {
	// BulkInsert inserts records in order and returns their ids, also
	// in order.
	BulkInsert(ctx context.Context, table string, recs []Record) ([]int64, error)

	// BulkUpdate applies patch to the records with the given ids and
	// returns the number actually changed.
	BulkUpdate(ctx context.Context, table string, ids []int64, patch Record) (int64, error)

	// BulkDelete removes the records with the given ids and returns
	// the number actually removed.
	BulkDelete(ctx context.Context, table string, ids []int64) (int64, error)

	// Upsert inserts rec, or updates the existing record that matches
	// rec on every uniqueBy field. Every uniqueBy field must be
	// present in rec. The created_at field is insert-only: when the
	// record already exists its stored stamp is kept. Returns the
	// record's id and whether it was created.
	Upsert(ctx context.Context, table string, rec Record, uniqueBy []string) (int64, bool, error)

	// BulkUpsert upserts each record and reports how many were
	// created versus updated.
	BulkUpsert(ctx context.Context, table string, recs []Record, uniqueBy []string) (UpsertResult, error)
}

// RollbackGranularity describes how a driver unwinds nested
// transactions.
type RollbackGranularity string

const (
	// RollbackFlat means an inner failure rolls back the whole
	// transaction stack to its outermost beginning.
	RollbackFlat RollbackGranularity = "flat"

	// RollbackSavepoint means an inner failure unwinds only the
	// innermost scope, leaving outer work intact.
	RollbackSavepoint RollbackGranularity = "savepoint"
)

// Capabilities declares what a driver supports. The facade and other
// callers consult it at driver selection time instead of probing
// per call.
type Capabilities struct {
	// Operators is the set of query operators the driver accepts.
	Operators map[query.Op]bool

	// OrderBy reports whether Read honors spec ordering.
	OrderBy bool

	// LimitOffset reports whether Read honors pagination bounds.
	LimitOffset bool

	// Transactions reports whether Transaction is atomic. A driver
	// without transactions runs fn without rollback protection.
	Transactions bool

	// Returning reports whether writes can return affected rows
	// without a follow-up read. Neither built-in driver sets it; it
	// exists for third-party backends.
	Returning bool

	// NestedRollback is the driver's nesting granularity.
	NestedRollback RollbackGranularity
}

// Supports reports whether the driver accepts op.
func (c Capabilities) Supports(op query.Op) bool {
	return c.Operators[op]
}

// CheckSpec verifies that every feature spec uses is within the
// driver's capabilities. It returns a *CapabilityError naming the first
// unsupported feature.
func (c Capabilities) CheckSpec(spec query.Spec) error {
	for _, p := range spec.Where {
		if !c.Supports(p.Op) {
			return &CapabilityError{Feature: fmt.Sprintf("operator %q", p.Op)}
		}
	}
	if len(spec.Order) > 0 && !c.OrderBy {
		return &CapabilityError{Feature: "order by"}
	}
	if (spec.Limit != nil || spec.Offset != nil) && !c.LimitOffset {
		return &CapabilityError{Feature: "limit/offset"}
	}
	return nil
}
