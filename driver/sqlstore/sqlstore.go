// Package sqlstore implements the relational storage driver on SQLite.
//
// Tables are created on first write and evolve by adding columns as
// new record fields appear; a column's affinity is chosen from the
// first value seen for the field. Queries compile to parameterized SQL
// so user values never appear in statement text. Transactions map to
// BEGIN/COMMIT with savepoints for nested scopes, giving innermost
// rollback granularity.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("sqlstore: store is closed")

// Tunables are the SQLite pragmas applied at open. Zero fields take
// the DefaultTunables values. Values outside the allowlists are
// rejected so configuration can never smuggle SQL into a PRAGMA
// statement.
type Tunables struct {
	JournalMode string
	Synchronous string
	CacheSizeKB int
	BusyTimeout int
	TempStore   string
}

func (t Tunables) withDefaults() Tunables {
	def := DefaultTunables()
	if t.JournalMode == "" {
		t.JournalMode = def.JournalMode
	}
	if t.Synchronous == "" {
		t.Synchronous = def.Synchronous
	}
	if t.CacheSizeKB == 0 {
		t.CacheSizeKB = def.CacheSizeKB
	}
	if t.BusyTimeout == 0 {
		t.BusyTimeout = def.BusyTimeout
	}
	if t.TempStore == "" {
		t.TempStore = def.TempStore
	}
	return t
}

// DefaultTunables match the behavior the driver is tested against: WAL
// journaling, NORMAL synchronous, a 64 MB page cache, a 5 second busy
// timeout, and in-memory temp storage.
func DefaultTunables() Tunables {
	return Tunables{
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		CacheSizeKB: 64000,
		BusyTimeout: 5000,
		TempStore:   "MEMORY",
	}
}

var (
	journalModes = map[string]bool{
		"DELETE": true, "TRUNCATE": true, "PERSIST": true,
		"MEMORY": true, "WAL": true, "OFF": true,
	}
	synchronousModes = map[string]bool{
		"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true,
	}
	tempStores = map[string]bool{
		"DEFAULT": true, "FILE": true, "MEMORY": true,
	}
)

func (t Tunables) validate() error {
	if t.JournalMode != "" && !journalModes[t.JournalMode] {
		return fmt.Errorf("sqlstore: invalid journal_mode %q", t.JournalMode)
	}
	if t.Synchronous != "" && !synchronousModes[t.Synchronous] {
		return fmt.Errorf("sqlstore: invalid synchronous %q", t.Synchronous)
	}
	if t.CacheSizeKB < 0 {
		return fmt.Errorf("sqlstore: negative cache size %d", t.CacheSizeKB)
	}
	if t.BusyTimeout < 0 {
		return fmt.Errorf("sqlstore: negative busy_timeout %d", t.BusyTimeout)
	}
	if t.TempStore != "" && !tempStores[t.TempStore] {
		return fmt.Errorf("sqlstore: invalid temp_store %q", t.TempStore)
	}
	return nil
}

// execer is the statement surface shared by *sql.DB and *sql.Tx, so
// one implementation of each operation serves both the standalone and
// the transactional path.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Store is the SQLite-backed driver. A single mutex serializes
// operations: standalone statements hold it per call, Transaction
// holds it for the whole callback. The connection pool is capped at
// one connection, SQLite's single-writer reality.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open creates or opens a SQLite database at path and applies the
// tunables as pragmas. Zero tunable fields fall back to
// DefaultTunables.
func Open(path string, tun Tunables) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlstore: open: empty database path")
	}
	tun = tun.withDefaults()
	if err := tun.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a second pooled connection
	// only buys SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, tun); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: apply pragmas: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path the store was opened on.
func (s *Store) Path() string {
	return s.path
}

func applyPragmas(db *sql.DB, tun Tunables) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", tun.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", tun.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = -%d", tun.CacheSizeKB),
		fmt.Sprintf("PRAGMA busy_timeout = %d", tun.BusyTimeout),
		fmt.Sprintf("PRAGMA temp_store = %s", tun.TempStore),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Capabilities reports what the relational driver supports.
func (s *Store) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		Operators: map[query.Op]bool{
			query.OpEq: true, query.OpNe: true, query.OpIn: true,
			query.OpLike: true, query.OpGt: true, query.OpLt: true,
			query.OpGe: true, query.OpLe: true,
			query.OpStartsWith: true, query.OpEndsWith: true,
			query.OpContains: true,
		},
		OrderBy:        true,
		LimitOffset:    true,
		Transactions:   true,
		Returning:      false,
		NestedRollback: driver.RollbackSavepoint,
	}
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// guard returns the database handle, or ErrClosed. Callers must hold
// mu.
func (s *Store) guard() (*sql.DB, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// verifyPragma checks that a pragma reads back the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// LastID reports the highest id ever assigned in the table, consulting
// the AUTOINCREMENT sequence so deleted maximums are not forgotten. A
// missing table is 0.
func (s *Store) LastID(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.guard()
	if err != nil {
		return 0, err
	}
	return lastID(ctx, db, table)
}

func lastID(ctx context.Context, ex execer, table string) (int64, error) {
	if err := driver.ValidateIdent(table); err != nil {
		return 0, err
	}
	exists, err := tableExists(ctx, ex, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var seq int64
	err = ex.QueryRowContext(ctx,
		"SELECT seq FROM sqlite_sequence WHERE name = ?", table).Scan(&seq)
	if err == nil {
		return seq, nil
	}
	// No sequence row yet (or no sqlite_sequence table at all): fall
	// back to the live maximum.
	var max int64
	err = ex.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", quoteIdent(table))).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: last id of %s: %w", table, err)
	}
	return max, nil
}
