package strata

import (
	"context"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Transaction runs fn inside one driver transaction. When fn returns
// an error or panics, every write it made is rolled back; otherwise
// the batch commits as a unit. The error is reported once at this
// boundary, so work inside fn surfaces a single report per failed
// transaction rather than one per operation.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	drv, _, err := s.handle()
	if err != nil {
		return s.fail("transaction", "", err)
	}
	err = drv.Transaction(ctx, func(q driver.Queryer) error {
		return fn(&Tx{s: s, q: q})
	})
	if err != nil {
		return s.fail("transaction", "", err)
	}
	return nil
}

// Tx is the transactional view of a Store. It mirrors the Store's
// record operations but executes them on the enclosing transaction,
// so reads see the transaction's own uncommitted writes. A Tx is only
// valid inside the fn it was handed to.
type Tx struct {
	s *Store
	q driver.Queryer
}

// Transaction runs fn in a nested scope. On drivers with savepoints
// an inner error unwinds only the nested work; flat-rollback drivers
// abort the whole outer transaction instead.
func (tx *Tx) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	return tx.q.Transaction(ctx, func(q driver.Queryer) error {
		return fn(&Tx{s: tx.s, q: q})
	})
}

// Create validates, stamps, and inserts rec, returning the stored
// record.
func (tx *Tx) Create(ctx context.Context, table string, rec driver.Record) (driver.Record, error) {
	return createRecord(ctx, tx.s, tx.q, table, rec)
}

// Find returns the record with the given id, or nil when absent.
func (tx *Tx) Find(ctx context.Context, table string, id int64) (driver.Record, error) {
	return findByID(ctx, tx.q, table, id)
}

// Read returns the records matching spec.
func (tx *Tx) Read(ctx context.Context, spec query.Spec) ([]driver.Record, error) {
	return tx.q.Read(ctx, spec)
}

// Update patches the record with the given id and reports whether a
// record changed.
func (tx *Tx) Update(ctx context.Context, table string, id int64, patch driver.Record) (bool, error) {
	return updateByID(ctx, tx.s, tx.q, table, id, patch)
}

// UpdateWhere patches every record matching spec and returns how many
// changed.
func (tx *Tx) UpdateWhere(ctx context.Context, spec query.Spec, patch driver.Record) (int64, error) {
	return updateWhere(ctx, tx.s, tx.q, spec, patch)
}

// Delete removes the record with the given id and reports whether a
// record was removed.
func (tx *Tx) Delete(ctx context.Context, table string, id int64) (bool, error) {
	n, err := tx.q.Delete(ctx, byID(table, id))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteWhere removes every record matching spec and returns how many
// were removed.
func (tx *Tx) DeleteWhere(ctx context.Context, spec query.Spec) (int64, error) {
	return tx.q.Delete(ctx, spec)
}

// All returns every record in the table.
func (tx *Tx) All(ctx context.Context, table string) ([]driver.Record, error) {
	return tx.q.Read(ctx, query.New(table))
}

// Where returns the records matching all filters.
func (tx *Tx) Where(ctx context.Context, table string, filters query.Filters) ([]driver.Record, error) {
	return tx.q.Read(ctx, query.Spec{Table: table, Where: filters.Predicates()})
}

// First returns the first record matching all filters, or nil when
// none match.
func (tx *Tx) First(ctx context.Context, table string, filters query.Filters) (driver.Record, error) {
	return firstMatch(ctx, tx.q, table, filters)
}

// Exists reports whether any record matches all filters.
func (tx *Tx) Exists(ctx context.Context, table string, filters query.Filters) (bool, error) {
	rec, err := firstMatch(ctx, tx.q, table, filters)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Count returns the number of records matching all filters.
func (tx *Tx) Count(ctx context.Context, table string, filters query.Filters) (int64, error) {
	return tx.q.Count(ctx, query.Spec{Table: table, Where: filters.Predicates()})
}

// LastID returns the table's id high-water mark as seen by this
// transaction, including ids from its own uncommitted inserts.
func (tx *Tx) LastID(ctx context.Context, table string) (int64, error) {
	return tx.q.LastID(ctx, table)
}

// FirstOrCreate returns the first record matching match, creating one
// from match plus defaults when none exists. The bool reports whether
// a record was created.
func (tx *Tx) FirstOrCreate(ctx context.Context, table string, match query.Filters, defaults driver.Record) (driver.Record, bool, error) {
	return firstOrCreate(ctx, tx.s, tx.q, table, match, defaults)
}

// BulkInsert inserts records as one batch within the transaction and
// returns their ids in input order.
func (tx *Tx) BulkInsert(ctx context.Context, table string, recs []driver.Record) ([]int64, error) {
	return bulkInsert(ctx, tx.s.timestamp(), tx.q, bulkOf(tx.q), table, recs)
}

// BulkUpdate applies patch to the records with the given ids within
// the transaction.
func (tx *Tx) BulkUpdate(ctx context.Context, table string, ids []int64, patch driver.Record) (int64, error) {
	return bulkUpdate(ctx, tx.s.timestamp(), tx.q, bulkOf(tx.q), table, ids, patch)
}

// BulkDelete removes the records with the given ids within the
// transaction.
func (tx *Tx) BulkDelete(ctx context.Context, table string, ids []int64) (int64, error) {
	return bulkDelete(ctx, tx.q, bulkOf(tx.q), table, ids)
}

// Upsert inserts or updates one record within the transaction. See
// Store.Upsert for the matching and timestamp rules.
func (tx *Tx) Upsert(ctx context.Context, table string, rec driver.Record, uniqueBy []string) (driver.Record, bool, error) {
	return upsertOne(ctx, tx.s.timestamp(), tx.q, bulkOf(tx.q), table, rec, uniqueBy)
}

// BulkUpsert upserts each record within the transaction and reports
// how many were created versus updated.
func (tx *Tx) BulkUpsert(ctx context.Context, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	return bulkUpsert(ctx, tx.s.timestamp(), tx.q, bulkOf(tx.q), table, recs, uniqueBy)
}

// bulkOf returns the queryer's native bulk support, or nil when the
// fallback path must serve.
func bulkOf(q driver.Queryer) driver.Bulk {
	b, _ := q.(driver.Bulk)
	return b
}
