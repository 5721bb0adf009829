package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// withTx runs fn inside its own transaction when called on the bare
// store. The bulk entry points below use it so a batch is atomic even
// outside an explicit Transaction.
func (s *Store) withTx(ctx context.Context, fn func(execer) error) error {
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
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit transaction: %w", err)
	}
	return nil
}

// BulkInsert inserts records through one prepared statement inside one
// transaction and returns their ids in input order.
func (s *Store) BulkInsert(ctx context.Context, table string, recs []driver.Record) ([]int64, error) {
	var ids []int64
	err := s.withTx(ctx, func(ex execer) error {
		var err error
		ids, err = bulkInsert(ctx, ex, table, recs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func bulkInsert(ctx context.Context, ex execer, table string, recs []driver.Record) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	// One statement covers the whole batch: the column set is the
	// union of every record's fields, missing fields bind NULL. The
	// first record seen with a field decides its column affinity.
	union := driver.Record{}
	for _, rec := range recs {
		for k, v := range rec {
			if k == "id" {
				continue
			}
			if _, seen := union[k]; !seen {
				union[k] = v
			}
		}
	}
	if err := ensureTable(ctx, ex, table, union); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(union))
	for c := range union {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if len(cols) == 0 {
		return nil, fmt.Errorf("sqlstore: bulk insert into %s: records have no fields", table)
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if err := driver.ValidateIdent(c); err != nil {
			return nil, err
		}
		quoted[i] = quoteIdent(c)
	}
	stmt, err := ex.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Repeat("?, ", len(cols)-1)+"?"))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: bulk insert into %s: %w", table, err)
	}
	defer stmt.Close()

	var last sql.Result
	for _, rec := range recs {
		args := make([]any, len(cols))
		for i, c := range cols {
			v, err := bindValue(rec[c])
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: bulk insert into %s: %w", table, err)
		}
		last = res
	}

	// AUTOINCREMENT ids are monotonic and this store allows a single
	// writer, so the batch occupies a contiguous id range ending at the
	// last insert.
	lastID, err := last.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: bulk insert into %s: %w", table, err)
	}
	ids := make([]int64, len(recs))
	first := lastID - int64(len(recs)) + 1
	for i := range ids {
		ids[i] = first + int64(i)
	}
	return ids, nil
}

// BulkUpdate applies patch to the rows with the given ids inside one
// transaction.
func (s *Store) BulkUpdate(ctx context.Context, table string, ids []int64, patch driver.Record) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(ex execer) error {
		var err error
		n, err = bulkUpdate(ctx, ex, table, ids, patch)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func bulkUpdate(ctx context.Context, ex execer, table string, ids []int64, patch driver.Record) (int64, error) {
	if len(ids) == 0 || len(patch) == 0 {
		return 0, nil
	}
	return update(ctx, ex, byIDs(table, ids), patch)
}

// BulkDelete removes the rows with the given ids inside one
// transaction.
func (s *Store) BulkDelete(ctx context.Context, table string, ids []int64) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(ex execer) error {
		var err error
		n, err = bulkDelete(ctx, ex, table, ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func bulkDelete(ctx context.Context, ex execer, table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return del(ctx, ex, byIDs(table, ids))
}

// Upsert inserts rec or updates the row matching it on every uniqueBy
// field, using a unique index as the conflict target.
func (s *Store) Upsert(ctx context.Context, table string, rec driver.Record, uniqueBy []string) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.withTx(ctx, func(ex execer) error {
		var err error
		id, created, err = upsert(ctx, ex, table, rec, uniqueBy)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

func upsert(ctx context.Context, ex execer, table string, rec driver.Record, uniqueBy []string) (int64, bool, error) {
	if len(uniqueBy) == 0 {
		return 0, false, fmt.Errorf("sqlstore: upsert %s: no unique fields given", table)
	}
	for _, f := range uniqueBy {
		if _, ok := rec[f]; !ok {
			return 0, false, &driver.MissingUniqueFieldError{Table: table, Field: f}
		}
	}
	if err := ensureTable(ctx, ex, table, rec); err != nil {
		return 0, false, err
	}
	if err := ensureUniqueIndex(ctx, ex, table, uniqueBy); err != nil {
		return 0, false, err
	}

	existedBefore, err := upsertMatchID(ctx, ex, table, rec, uniqueBy)
	if err != nil {
		return 0, false, err
	}
	if err := execUpsert(ctx, ex, table, rec, uniqueBy); err != nil {
		return 0, false, err
	}
	id, err := upsertMatchID(ctx, ex, table, rec, uniqueBy)
	if err != nil {
		return 0, false, err
	}
	if id == 0 {
		return 0, false, fmt.Errorf("sqlstore: upsert %s: row not found after write", table)
	}
	return id, existedBefore == 0, nil
}

// upsertMatchID finds the id of the row matching rec on the unique
// fields, 0 when absent.
func upsertMatchID(ctx context.Context, ex execer, table string, rec driver.Record, uniqueBy []string) (int64, error) {
	clauses := make([]string, len(uniqueBy))
	args := make([]any, 0, len(uniqueBy))
	for i, f := range uniqueBy {
		v, err := bindValue(rec[f])
		if err != nil {
			return 0, err
		}
		if v == nil {
			clauses[i] = quoteIdent(f) + " IS NULL"
			continue
		}
		clauses[i] = quoteIdent(f) + " = ?"
		args = append(args, v)
	}
	stmt := fmt.Sprintf("SELECT id FROM %s WHERE %s",
		quoteIdent(table), strings.Join(clauses, " AND "))
	var id int64
	err := ex.QueryRowContext(ctx, stmt, args...).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	default:
		return 0, fmt.Errorf("sqlstore: upsert probe on %s: %w", table, err)
	}
}

// execUpsert runs INSERT ... ON CONFLICT DO UPDATE. Every non-key
// column takes the incoming row's value on conflict; a row with no
// non-key columns keeps its id stable with a no-op assignment.
func execUpsert(ctx context.Context, ex execer, table string, rec driver.Record, uniqueBy []string) error {
	cols := sortedColumns(rec)
	if len(cols) == 0 {
		return fmt.Errorf("sqlstore: upsert into %s: record has no fields", table)
	}
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		if err := driver.ValidateIdent(c); err != nil {
			return err
		}
		quoted[i] = quoteIdent(c)
		v, err := bindValue(rec[c])
		if err != nil {
			return err
		}
		args[i] = v
	}

	keys := make(map[string]bool, len(uniqueBy))
	conflict := make([]string, len(uniqueBy))
	for i, f := range uniqueBy {
		keys[f] = true
		conflict[i] = quoteIdent(f)
	}
	var sets []string
	for _, c := range cols {
		// created_at is insert-only; the existing stamp survives
		// conflicts.
		if keys[c] || c == "created_at" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoteIdent(c), quoteIdent(c)))
	}
	if len(sets) == 0 {
		sets = []string{`"id" = "id"`}
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		quoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Repeat("?, ", len(cols)-1)+"?",
		strings.Join(conflict, ", "),
		strings.Join(sets, ", "))
	if _, err := ex.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlstore: upsert into %s: %w", table, err)
	}
	return nil
}

// BulkUpsert upserts each record inside one transaction and reports
// how many were created versus updated.
func (s *Store) BulkUpsert(ctx context.Context, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	var res driver.UpsertResult
	err := s.withTx(ctx, func(ex execer) error {
		var err error
		res, err = bulkUpsert(ctx, ex, table, recs, uniqueBy)
		return err
	})
	if err != nil {
		return driver.UpsertResult{}, err
	}
	return res, nil
}

func bulkUpsert(ctx context.Context, ex execer, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	var res driver.UpsertResult
	for _, rec := range recs {
		_, created, err := upsert(ctx, ex, table, rec, uniqueBy)
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

// byIDs builds the id-membership spec shared by the bulk paths.
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
