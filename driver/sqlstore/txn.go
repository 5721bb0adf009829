package sqlstore

import (
	"context"
	"fmt"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Transaction runs fn inside BEGIN/COMMIT, holding the store mutex for
// the whole callback. Nested calls on the handle open savepoints, so
// an inner failure unwinds only the innermost scope while outer work
// survives. Any error or panic from fn rolls the top-level transaction
// back.
func (s *Store) Transaction(ctx context.Context, fn func(driver.Queryer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin transaction: %w", err)
	}
	// Rollback after a successful commit is a no-op; this also covers
	// panics unwinding out of fn.
	defer tx.Rollback()

	if err := fn(&txQueryer{tx: tx, depth: 0}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit transaction: %w", err)
	}
	return nil
}

// txQueryer executes operations on an open transaction. The store
// mutex is held by Transaction for the handle's whole lifetime.
type txQueryer struct {
	tx    execer
	depth int
}

func (t *txQueryer) Create(ctx context.Context, table string, rec driver.Record) (int64, error) {
	return create(ctx, t.tx, table, rec)
}

func (t *txQueryer) Read(ctx context.Context, spec query.Spec) ([]driver.Record, error) {
	return read(ctx, t.tx, spec)
}

func (t *txQueryer) Update(ctx context.Context, spec query.Spec, patch driver.Record) (int64, error) {
	return update(ctx, t.tx, spec, patch)
}

func (t *txQueryer) Delete(ctx context.Context, spec query.Spec) (int64, error) {
	return del(ctx, t.tx, spec)
}

func (t *txQueryer) Count(ctx context.Context, spec query.Spec) (int64, error) {
	return count(ctx, t.tx, spec)
}

func (t *txQueryer) LastID(ctx context.Context, table string) (int64, error) {
	return lastID(ctx, t.tx, table)
}

// Transaction opens a savepoint scope inside the current transaction.
// An error from fn rolls back to the savepoint and is returned; outer
// work stays intact.
func (t *txQueryer) Transaction(ctx context.Context, fn func(driver.Queryer) error) error {
	name := fmt.Sprintf("sp_%d", t.depth+1)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("sqlstore: savepoint %s: %w", name, err)
	}
	if err := fn(&txQueryer{tx: t.tx, depth: t.depth + 1}); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return fmt.Errorf("sqlstore: rollback to %s after %v: %w", name, err, rbErr)
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("sqlstore: release %s: %w", name, err)
	}
	return nil
}

func (t *txQueryer) BulkInsert(ctx context.Context, table string, recs []driver.Record) ([]int64, error) {
	return bulkInsert(ctx, t.tx, table, recs)
}

func (t *txQueryer) BulkUpdate(ctx context.Context, table string, ids []int64, patch driver.Record) (int64, error) {
	return bulkUpdate(ctx, t.tx, table, ids, patch)
}

func (t *txQueryer) BulkDelete(ctx context.Context, table string, ids []int64) (int64, error) {
	return bulkDelete(ctx, t.tx, table, ids)
}

func (t *txQueryer) Upsert(ctx context.Context, table string, rec driver.Record, uniqueBy []string) (int64, bool, error) {
	return upsert(ctx, t.tx, table, rec, uniqueBy)
}

func (t *txQueryer) BulkUpsert(ctx context.Context, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	return bulkUpsert(ctx, t.tx, table, recs, uniqueBy)
}
