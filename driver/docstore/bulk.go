package docstore

import (
	"context"
	"fmt"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// BulkInsert inserts records in order inside one transaction scope, so
// the table persists once and either all records land or none do.
func (s *Store) BulkInsert(ctx context.Context, table string, recs []driver.Record) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var ids []int64
	err := s.transactionLocked(ctx, func(driver.Queryer) error {
		var err error
		ids, err = s.bulkInsertLocked(table, recs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) bulkInsertLocked(table string, recs []driver.Record) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(recs))
	for _, rec := range recs {
		id, err := s.createLocked(table, rec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BulkUpdate applies patch to the records with the given ids.
func (s *Store) BulkUpdate(ctx context.Context, table string, ids []int64, patch driver.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int64
	err := s.transactionLocked(ctx, func(driver.Queryer) error {
		var err error
		n, err = s.bulkUpdateLocked(table, ids, patch)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) bulkUpdateLocked(table string, ids []int64, patch driver.Record) (int64, error) {
	if len(ids) == 0 || len(patch) == 0 {
		return 0, nil
	}
	return s.updateLocked(byIDs(table, ids), patch)
}

// BulkDelete removes the records with the given ids.
func (s *Store) BulkDelete(ctx context.Context, table string, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int64
	err := s.transactionLocked(ctx, func(driver.Queryer) error {
		var err error
		n, err = s.bulkDeleteLocked(table, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) bulkDeleteLocked(table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.deleteLocked(byIDs(table, ids))
}

func byIDs(table string, ids []int64) query.Spec {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return query.Spec{
		Table: table,
		Where: []query.Predicate{{Field: "id", Op: query.OpIn, Value: members}},
	}
}

// Upsert inserts rec, or overwrites the fields of the existing record
// matching rec on every uniqueBy field.
func (s *Store) Upsert(ctx context.Context, table string, rec driver.Record, uniqueBy []string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrClosed
	}
	var (
		id      int64
		created bool
	)
	err := s.transactionLocked(ctx, func(driver.Queryer) error {
		var err error
		id, created, err = s.upsertLocked(table, rec, uniqueBy)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

func (s *Store) upsertLocked(table string, rec driver.Record, uniqueBy []string) (int64, bool, error) {
	if len(uniqueBy) == 0 {
		return 0, false, fmt.Errorf("docstore: upsert %s: no unique fields given", table)
	}
	stored := driver.NormalizeRecord(rec)
	preds := make([]query.Predicate, len(uniqueBy))
	for i, f := range uniqueBy {
		v, ok := stored[f]
		if !ok {
			return 0, false, &driver.MissingUniqueFieldError{Table: table, Field: f}
		}
		preds[i] = query.Predicate{Field: f, Op: query.OpEq, Value: v}
	}
	matchSpec := query.Spec{Table: table, Where: preds}
	existing, err := s.readLocked(matchSpec)
	if err != nil {
		return 0, false, err
	}
	if len(existing) == 0 {
		id, err := s.createLocked(table, stored)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}
	id, ok := driver.RecordID(existing[0])
	if !ok {
		return 0, false, fmt.Errorf("docstore: upsert %s: matched record has no id", table)
	}
	patch := stored.Clone()
	delete(patch, "id")
	// created_at is insert-only; the existing stamp survives updates.
	delete(patch, "created_at")
	if _, err := s.updateLocked(byIDs(table, []int64{id}), patch); err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// BulkUpsert upserts each record in order and reports how many were
// created versus updated.
func (s *Store) BulkUpsert(ctx context.Context, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return driver.UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return driver.UpsertResult{}, ErrClosed
	}
	var res driver.UpsertResult
	err := s.transactionLocked(ctx, func(driver.Queryer) error {
		var err error
		res, err = s.bulkUpsertLocked(table, recs, uniqueBy)
		return err
	})
	if err != nil {
		return driver.UpsertResult{}, err
	}
	return res, nil
}

func (s *Store) bulkUpsertLocked(table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	var res driver.UpsertResult
	for _, rec := range recs {
		_, created, err := s.upsertLocked(table, rec, uniqueBy)
		if err != nil {
			return driver.UpsertResult{}, err
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}
