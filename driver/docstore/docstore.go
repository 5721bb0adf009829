// Package docstore implements the document-oriented storage driver.
//
// Each table is a single JSON file holding a flat array of records.
// Tables are loaded lazily on first touch and kept in memory for the
// lifetime of the store; every committed write rewrites the owning
// table's file atomically (temp file, fsync, rename), so readers of
// the file always observe either the prior or the new content.
//
// The driver maintains an equality index per table: the id field is
// always indexed, and additional fields can be registered with
// IndexFields. Transactions are flat snapshots of the in-memory state;
// nested scopes share the outermost snapshot, so an inner rollback
// discards the work of the whole transaction so far.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("docstore: store is closed")

// operators supported by the matching pipeline.
var operators = map[query.Op]bool{
	query.OpEq: true, query.OpNe: true, query.OpIn: true, query.OpLike: true,
	query.OpGt: true, query.OpLt: true, query.OpGe: true, query.OpLe: true,
}

// Store is a document store rooted at a directory, one JSON file per
// table. All methods are safe for concurrent use; a single mutex
// serializes operations, and Transaction holds it for the whole
// callback so a transaction observes and produces a consistent state.
type Store struct {
	mu   sync.Mutex
	root string

	cache  map[string][]driver.Record
	lastID map[string]int64
	dirty  map[string]bool

	indexFields map[string][]string
	indexes     map[string]tableIndex

	txDepth int
	snap    *snapshot

	closed bool
}

// Open creates a Store rooted at dir, creating the directory if
// needed. Table files are created lazily on first write.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("docstore: open: empty root directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", dir, err)
	}
	return &Store{
		root:        dir,
		cache:       make(map[string][]driver.Record),
		lastID:      make(map[string]int64),
		dirty:       make(map[string]bool),
		indexFields: make(map[string][]string),
		indexes:     make(map[string]tableIndex),
	}, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string {
	return s.root
}

// Capabilities reports what the document driver supports.
func (s *Store) Capabilities() driver.Capabilities {
	ops := make(map[query.Op]bool, len(operators))
	for op := range operators {
		ops[op] = true
	}
	return driver.Capabilities{
		Operators:      ops,
		OrderBy:        true,
		LimitOffset:    true,
		Transactions:   true,
		Returning:      false,
		NestedRollback: driver.RollbackFlat,
	}
}

// IndexFields registers extra equality-indexed fields for a table. The
// id field is always indexed and need not be listed. If the table is
// already loaded its index is rebuilt immediately.
func (s *Store) IndexFields(table string, fields ...string) error {
	if err := driver.ValidateIdent(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.indexFields[table] = append([]string(nil), fields...)
	if data, ok := s.cache[table]; ok {
		s.indexes[table] = buildIndex(data, s.indexedFields(table))
	}
	return nil
}

// Close marks the store closed and drops the in-memory cache. All
// committed writes are already on disk, so there is nothing to flush.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache = nil
	s.indexes = nil
	s.snap = nil
	return nil
}

// indexedFields returns the field set indexed for table: id plus any
// registered extras, deduplicated.
func (s *Store) indexedFields(table string) []string {
	fields := []string{"id"}
	for _, f := range s.indexFields[table] {
		if f == "id" {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// tablePath validates the table name and returns its file path. The
// identifier check is what keeps table names from escaping the root
// directory.
func (s *Store) tablePath(table string) (string, error) {
	if err := driver.ValidateIdent(table); err != nil {
		return "", err
	}
	return filepath.Join(s.root, table+".json"), nil
}

// ensureLoaded returns the table's records, loading them from disk on
// first touch. A missing file is an empty table. Callers must hold mu.
func (s *Store) ensureLoaded(table string) ([]driver.Record, error) {
	if data, ok := s.cache[table]; ok {
		return data, nil
	}
	path, err := s.tablePath(table)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("docstore: load table %s: %w", table, err)
		}
		raw = nil
	}
	records, err := decodeTable(raw)
	if err != nil {
		return nil, fmt.Errorf("docstore: load table %s: %w", table, err)
	}
	var last int64
	for _, rec := range records {
		if id, ok := driver.RecordID(rec); ok && id > last {
			last = id
		}
	}
	s.cache[table] = records
	s.lastID[table] = last
	s.indexes[table] = buildIndex(records, s.indexedFields(table))
	return records, nil
}

// saveTable writes the table's current records to disk atomically and
// clears its dirty flag. Callers must hold mu.
func (s *Store) saveTable(table string) error {
	path, err := s.tablePath(table)
	if err != nil {
		return err
	}
	data, err := encodeTable(s.cache[table])
	if err != nil {
		return fmt.Errorf("docstore: save table %s: %w", table, err)
	}
	if err := writeTableFile(path, data); err != nil {
		return fmt.Errorf("docstore: save table %s: %w", table, err)
	}
	delete(s.dirty, table)
	return nil
}

// markDirty records that a table diverged from disk. Inside a
// transaction the flag defers the write to commit; outside it the
// caller saves immediately.
func (s *Store) markDirty(table string) {
	s.dirty[table] = true
}

// nextID hands out the next id for a table. Explicitly supplied ids
// advance the counter past themselves so later generated ids cannot
// collide.
func (s *Store) nextID(table string) int64 {
	s.lastID[table]++
	return s.lastID[table]
}

func (s *Store) noteExplicitID(table string, id int64) {
	if id > s.lastID[table] {
		s.lastID[table] = id
	}
}

// LastID reports the highest id ever assigned in the table, 0 when the
// table does not exist yet.
func (s *Store) LastID(ctx context.Context, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.lastIDLocked(table)
}

func (s *Store) lastIDLocked(table string) (int64, error) {
	if _, err := s.ensureLoaded(table); err != nil {
		return 0, err
	}
	return s.lastID[table], nil
}
