package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Create inserts a record, evolving the table schema to cover its
// fields, and returns the assigned id. An explicit id in the record is
// honored.
func (s *Store) Create(ctx context.Context, table string, rec driver.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return 0, err
	}
	return create(ctx, db, table, rec)
}

func create(ctx context.Context, ex execer, table string, rec driver.Record) (int64, error) {
	if err := ensureTable(ctx, ex, table, rec); err != nil {
		return 0, err
	}
	cols := sortedColumns(rec)
	if id, ok := driver.RecordID(rec); ok {
		cols = append([]string{"id"}, cols...)
		rec = rec.Clone()
		rec["id"] = id
	}
	if len(cols) == 0 {
		stmt := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(table))
		res, err := ex.ExecContext(ctx, stmt)
		if err != nil {
			return 0, fmt.Errorf("sqlstore: insert into %s: %w", table, err)
		}
		return res.LastInsertId()
	}

	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		v, err := bindValue(rec[c])
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Repeat("?, ", len(cols)-1)+"?")
	res, err := ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// Read executes a query spec and returns the matching rows.
func (s *Store) Read(ctx context.Context, spec query.Spec) ([]driver.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return nil, err
	}
	return read(ctx, db, spec)
}

func read(ctx context.Context, ex execer, spec query.Spec) ([]driver.Record, error) {
	stmt, args, err := compileSelect(spec)
	if err != nil {
		return nil, err
	}
	exists, err := tableExists(ctx, ex, spec.Table)
	if err != nil {
		return nil, err
	}
	if !exists {
		// Match the document driver: an untouched table is empty, not
		// an error.
		return []driver.Record{}, nil
	}
	rows, err := ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read %s: %w", spec.Table, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Update applies patch to every row matching the spec's predicates.
// The id column is immutable; patches touching only id change nothing.
func (s *Store) Update(ctx context.Context, spec query.Spec, patch driver.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return 0, err
	}
	return update(ctx, db, spec, patch)
}

func update(ctx context.Context, ex execer, spec query.Spec, patch driver.Record) (int64, error) {
	stmt, args, err := compileUpdate(spec, patch)
	if err != nil {
		return 0, err
	}
	if stmt == "" {
		return 0, nil
	}
	exists, err := tableExists(ctx, ex, spec.Table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	if err := ensureTable(ctx, ex, spec.Table, patch); err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: update %s: %w", spec.Table, err)
	}
	return res.RowsAffected()
}

// Delete removes every row matching the spec's predicates.
func (s *Store) Delete(ctx context.Context, spec query.Spec) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return 0, err
	}
	return del(ctx, db, spec)
}

func del(ctx context.Context, ex execer, spec query.Spec) (int64, error) {
	stmt, args, err := compileDelete(spec)
	if err != nil {
		return 0, err
	}
	exists, err := tableExists(ctx, ex, spec.Table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	res, err := ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete from %s: %w", spec.Table, err)
	}
	return res.RowsAffected()
}

// Count reports how many rows match the spec's predicates.
func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return 0, err
	}
	return count(ctx, db, spec)
}

func count(ctx context.Context, ex execer, spec query.Spec) (int64, error) {
	exists, err := tableExists(ctx, ex, spec.Table)
	if err != nil {
		return 0, err
	}
	stmt, args, err := compileCount(spec)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var n int64
	if err := ex.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count %s: %w", spec.Table, err)
	}
	return n, nil
}

// scanRecords drains rows into records. SQLite hands back []byte for
// TEXT columns; those become strings so both drivers return the same
// value types.
func scanRecords(rows *sql.Rows) ([]driver.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan: %w", err)
	}
	out := []driver.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		rec := make(driver.Record, len(cols))
		for i, c := range cols {
			rec[c] = driver.NormalizeValue(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: scan: %w", err)
	}
	return out, nil
}
