package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/apopov/strata/driver"
)

// reservedColumns are created with the table and never re-added during
// schema evolution.
var reservedColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// quoteIdent wraps an already-validated identifier in double quotes.
// Callers must run driver.ValidateIdent first; validated identifiers
// cannot contain quotes.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

func tableExists(ctx context.Context, ex execer, table string) (bool, error) {
	var name string
	err := ex.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("sqlstore: check table %s: %w", table, err)
	}
}

// ensureTable creates the table if needed and adds a column for every
// sample field it does not have yet. Column affinity is chosen from
// the sample value; later values of other types still store fine under
// SQLite's flexible typing.
func ensureTable(ctx context.Context, ex execer, table string, sample driver.Record) error {
	if err := driver.ValidateIdent(table); err != nil {
		return err
	}
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, created_at TEXT, updated_at TEXT)",
		quoteIdent(table))
	if _, err := ex.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("sqlstore: create table %s: %w", table, err)
	}
	if len(sample) == 0 {
		return nil
	}

	existing, err := tableColumns(ctx, ex, table)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(sample))
	for f := range sample {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if reservedColumns[f] || existing[f] {
			continue
		}
		if err := driver.ValidateIdent(f); err != nil {
			return err
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			quoteIdent(table), quoteIdent(f), columnType(sample[f]))
		if _, err := ex.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("sqlstore: add column %s.%s: %w", table, f, err)
		}
	}
	return nil
}

// tableColumns returns the table's current column set.
func tableColumns(ctx context.Context, ex execer, table string) (map[string]bool, error) {
	rows, err := ex.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("sqlstore: columns of %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: columns of %s: %w", table, err)
	}
	return cols, nil
}

// columnType picks the SQLite affinity for a field from its first
// observed value. Containers are stored as JSON text.
func columnType(v any) string {
	switch driver.NormalizeValue(v).(type) {
	case bool:
		return "INTEGER"
	case int64:
		return "INTEGER"
	case float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

// ensureUniqueIndex creates the unique index backing an upsert's
// conflict target. The name is derived from the table and columns so
// repeated upserts reuse the same index.
func ensureUniqueIndex(ctx context.Context, ex execer, table string, cols []string) error {
	for _, c := range cols {
		if err := driver.ValidateIdent(c); err != nil {
			return err
		}
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	name := "uniq_" + table + "__" + strings.Join(cols, "__")
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(table), strings.Join(quoted, ", "))
	if _, err := ex.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlstore: unique index on %s(%s): %w", table, strings.Join(cols, ", "), err)
	}
	return nil
}
