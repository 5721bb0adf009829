package strata

import (
	"context"
	"fmt"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// BulkInsert inserts records as one batch and returns their ids in
// input order. Timestamps are stamped uniformly across the batch:
// updated_at always, created_at where absent. The batch goes through
// the driver's native bulk support when available, otherwise through
// single-record creates inside one transaction; the observable result
// is the same.
//
// Bulk writes skip the Validator. They exist for ingest paths where
// records were validated upstream.
func (s *Store) BulkInsert(ctx context.Context, table string, recs []driver.Record) ([]int64, error) {
	drv, bulk, err := s.handle()
	if err != nil {
		return nil, s.fail("bulk_insert", table, err)
	}
	ids, err := bulkInsert(ctx, s.timestamp(), drv, bulk, table, recs)
	if err != nil {
		return nil, s.fail("bulk_insert", table, err)
	}
	return ids, nil
}

// BulkUpdate applies patch to the records with the given ids and
// returns the number actually changed. The patch cannot touch id or
// created_at; updated_at is stamped.
func (s *Store) BulkUpdate(ctx context.Context, table string, ids []int64, patch driver.Record) (int64, error) {
	drv, bulk, err := s.handle()
	if err != nil {
		return 0, s.fail("bulk_update", table, err)
	}
	n, err := bulkUpdate(ctx, s.timestamp(), drv, bulk, table, ids, patch)
	if err != nil {
		return 0, s.fail("bulk_update", table, err)
	}
	return n, nil
}

// BulkDelete removes the records with the given ids and returns the
// number actually removed.
func (s *Store) BulkDelete(ctx context.Context, table string, ids []int64) (int64, error) {
	drv, bulk, err := s.handle()
	if err != nil {
		return 0, s.fail("bulk_delete", table, err)
	}
	n, err := bulkDelete(ctx, drv, bulk, table, ids)
	if err != nil {
		return 0, s.fail("bulk_delete", table, err)
	}
	return n, nil
}

// Upsert inserts rec or updates the record matching it on every
// uniqueBy field, and returns the stored record plus whether it was
// created. created_at is stamped where absent and survives updates;
// updated_at advances on every call.
func (s *Store) Upsert(ctx context.Context, table string, rec driver.Record, uniqueBy []string) (driver.Record, bool, error) {
	drv, bulk, err := s.handle()
	if err != nil {
		return nil, false, s.fail("upsert", table, err)
	}
	stored, created, err := upsertOne(ctx, s.timestamp(), drv, bulk, table, rec, uniqueBy)
	if err != nil {
		return nil, false, s.fail("upsert", table, err)
	}
	return stored, created, nil
}

// BulkUpsert upserts each record as one batch and reports how many
// were created versus updated.
func (s *Store) BulkUpsert(ctx context.Context, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	drv, bulk, err := s.handle()
	if err != nil {
		return driver.UpsertResult{}, s.fail("bulk_upsert", table, err)
	}
	res, err := bulkUpsert(ctx, s.timestamp(), drv, bulk, table, recs, uniqueBy)
	if err != nil {
		return driver.UpsertResult{}, s.fail("bulk_upsert", table, err)
	}
	return res, nil
}

// The cores below serve both the Store methods and their Tx mirrors.
// q is the execution surface, b its native bulk support or nil; with
// nil b the core falls back to single-record operations inside one
// transaction scope on q.

func bulkInsert(ctx context.Context, ts string, q driver.Queryer, b driver.Bulk, table string, recs []driver.Record) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	batch := stampBatch(recs, ts)
	if b != nil {
		return b.BulkInsert(ctx, table, batch)
	}
	var ids []int64
	err := q.Transaction(ctx, func(q driver.Queryer) error {
		ids = make([]int64, 0, len(batch))
		for _, rec := range batch {
			id, err := q.Create(ctx, table, rec)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func bulkUpdate(ctx context.Context, ts string, q driver.Queryer, b driver.Bulk, table string, ids []int64, patch driver.Record) (int64, error) {
	patch = driver.NormalizeRecord(patch)
	stripReserved(patch)
	if len(ids) == 0 || len(patch) == 0 {
		return 0, nil
	}
	patch["updated_at"] = ts
	if b != nil {
		return b.BulkUpdate(ctx, table, ids, patch)
	}
	return q.Update(ctx, byIDList(table, ids), patch)
}

func bulkDelete(ctx context.Context, q driver.Queryer, b driver.Bulk, table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if b != nil {
		return b.BulkDelete(ctx, table, ids)
	}
	return q.Delete(ctx, byIDList(table, ids))
}

func upsertOne(ctx context.Context, ts string, q driver.Queryer, b driver.Bulk, table string, rec driver.Record, uniqueBy []string) (driver.Record, bool, error) {
	payload := stampForWrite(rec, ts)

	var (
		id      int64
		created bool
		err     error
	)
	if b != nil {
		id, created, err = b.Upsert(ctx, table, payload, uniqueBy)
	} else {
		err = q.Transaction(ctx, func(q driver.Queryer) error {
			var err error
			id, created, err = upsertFallback(ctx, q, table, payload, uniqueBy)
			return err
		})
	}
	if err != nil {
		return nil, false, err
	}

	stored, err := findByID(ctx, q, table, id)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("strata: upsert %s: record %d not found after write", table, id)
	}
	return stored, created, nil
}

func bulkUpsert(ctx context.Context, ts string, q driver.Queryer, b driver.Bulk, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	if len(recs) == 0 {
		return driver.UpsertResult{}, nil
	}
	batch := stampBatch(recs, ts)
	if b != nil {
		return b.BulkUpsert(ctx, table, batch, uniqueBy)
	}
	var res driver.UpsertResult
	err := q.Transaction(ctx, func(q driver.Queryer) error {
		for _, rec := range batch {
			_, created, err := upsertFallback(ctx, q, table, rec, uniqueBy)
			if err != nil {
				return err
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return driver.UpsertResult{}, err
	}
	return res, nil
}

// upsertFallback matches on the unique fields, creates when absent,
// otherwise patches the first match keeping its created_at.
func upsertFallback(ctx context.Context, q driver.Queryer, table string, payload driver.Record, uniqueBy []string) (int64, bool, error) {
	if len(uniqueBy) == 0 {
		return 0, false, fmt.Errorf("strata: upsert %s: no unique fields given", table)
	}
	preds := make([]query.Predicate, len(uniqueBy))
	for i, f := range uniqueBy {
		v, ok := payload[f]
		if !ok {
			return 0, false, &driver.MissingUniqueFieldError{Table: table, Field: f}
		}
		preds[i] = query.Predicate{Field: f, Op: query.OpEq, Value: v}
	}

	rows, err := q.Read(ctx, query.Spec{Table: table, Where: preds, First: true})
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		id, err := q.Create(ctx, table, payload)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	id, ok := driver.RecordID(rows[0])
	if !ok {
		return 0, false, fmt.Errorf("strata: upsert %s: matched record has no id", table)
	}
	patch := payload.Clone()
	delete(patch, "id")
	delete(patch, "created_at")
	if _, err := q.Update(ctx, byID(table, id), patch); err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// stampForWrite normalizes a record for an insert-or-update path:
// the id is dropped, created_at kept when the caller carries one,
// updated_at always set to ts.
func stampForWrite(rec driver.Record, ts string) driver.Record {
	r := driver.NormalizeRecord(rec)
	if r == nil {
		r = driver.Record{}
	}
	delete(r, "id")
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = ts
	}
	r["updated_at"] = ts
	return r
}

func stampBatch(recs []driver.Record, ts string) []driver.Record {
	batch := make([]driver.Record, len(recs))
	for i, rec := range recs {
		batch[i] = stampForWrite(rec, ts)
	}
	return batch
}

// byIDList addresses a set of records by id.
func byIDList(table string, ids []int64) query.Spec {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return query.Spec{
		Table: table,
		Where: []query.Predicate{{Field: "id", Op: query.OpIn, Value: members}},
	}
}
