package docstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// snapshot captures the whole in-memory state at the outermost
// transaction begin. Restores clone from it rather than moving it, so
// one snapshot can serve several restores within the same transaction.
type snapshot struct {
	cache  map[string][]driver.Record
	lastID map[string]int64
	dirty  map[string]bool
}

func (s *Store) takeSnapshot() *snapshot {
	snap := &snapshot{
		cache:  make(map[string][]driver.Record, len(s.cache)),
		lastID: make(map[string]int64, len(s.lastID)),
		dirty:  make(map[string]bool, len(s.dirty)),
	}
	for t, data := range s.cache {
		snap.cache[t] = driver.CloneRecords(data)
	}
	for t, id := range s.lastID {
		snap.lastID[t] = id
	}
	for t, d := range s.dirty {
		snap.dirty[t] = d
	}
	return snap
}

func (s *Store) restoreSnapshot() {
	snap := s.snap
	if snap == nil {
		return
	}
	s.cache = make(map[string][]driver.Record, len(snap.cache))
	for t, data := range snap.cache {
		s.cache[t] = driver.CloneRecords(data)
	}
	s.lastID = make(map[string]int64, len(snap.lastID))
	for t, id := range snap.lastID {
		s.lastID[t] = id
	}
	s.dirty = make(map[string]bool, len(snap.dirty))
	for t, d := range snap.dirty {
		s.dirty[t] = d
	}
	s.indexes = make(map[string]tableIndex, len(s.cache))
	for t, data := range s.cache {
		s.indexes[t] = buildIndex(data, s.indexedFields(t))
	}
}

// Transaction runs fn atomically with flat rollback semantics: the
// outermost call snapshots the in-memory state, nested calls join the
// same scope, and any error or panic at any depth restores the
// snapshot, discarding the whole transaction's work so far. Dirty
// tables persist only when the outermost call returns nil.
//
// Each table file is written atomically, but a commit spanning several
// tables is not a single disk atom: a failure partway leaves the
// already-written files at their new content while memory rolls back.
func (s *Store) Transaction(ctx context.Context, fn func(driver.Queryer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.transactionLocked(ctx, fn)
}

func (s *Store) transactionLocked(ctx context.Context, fn func(driver.Queryer) error) (err error) {
	if s.txDepth == 0 {
		s.snap = s.takeSnapshot()
	}
	s.txDepth++
	defer func() {
		s.txDepth--
		outermost := s.txDepth == 0
		if r := recover(); r != nil {
			s.restoreSnapshot()
			if outermost {
				s.snap = nil
			}
			panic(r)
		}
		if err != nil {
			s.restoreSnapshot()
		} else if outermost {
			err = s.commitLocked()
		}
		if outermost {
			s.snap = nil
		}
	}()
	return fn(&txQueryer{s: s})
}

// commitLocked persists every dirty table in name order. On a write
// failure the in-memory state rolls back to the snapshot; tables saved
// before the failure keep their new file content and re-converge with
// memory on their next write.
func (s *Store) commitLocked() error {
	tables := make([]string, 0, len(s.dirty))
	for t, d := range s.dirty {
		if d {
			tables = append(tables, t)
		}
	}
	sort.Strings(tables)
	for _, t := range tables {
		if err := s.saveTable(t); err != nil {
			s.restoreSnapshot()
			return fmt.Errorf("docstore: commit: %w", err)
		}
	}
	return nil
}

// txQueryer is the Queryer handed to Transaction callbacks. The store
// mutex is held for the whole transaction, so its methods dispatch to
// the locked implementations directly.
type txQueryer struct {
	s *Store
}

func (t *txQueryer) Create(ctx context.Context, table string, rec driver.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.createLocked(table, rec)
}

func (t *txQueryer) Read(ctx context.Context, spec query.Spec) ([]driver.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.s.readLocked(spec)
}

func (t *txQueryer) Update(ctx context.Context, spec query.Spec, patch driver.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.updateLocked(spec, patch)
}

func (t *txQueryer) Delete(ctx context.Context, spec query.Spec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.deleteLocked(spec)
}

func (t *txQueryer) Count(ctx context.Context, spec query.Spec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.countLocked(spec)
}

func (t *txQueryer) LastID(ctx context.Context, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.lastIDLocked(table)
}

func (t *txQueryer) Transaction(ctx context.Context, fn func(driver.Queryer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.s.transactionLocked(ctx, fn)
}

func (t *txQueryer) BulkInsert(ctx context.Context, table string, recs []driver.Record) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.s.bulkInsertLocked(table, recs)
}

func (t *txQueryer) BulkUpdate(ctx context.Context, table string, ids []int64, patch driver.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.bulkUpdateLocked(table, ids, patch)
}

func (t *txQueryer) BulkDelete(ctx context.Context, table string, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return t.s.bulkDeleteLocked(table, ids)
}

func (t *txQueryer) Upsert(ctx context.Context, table string, rec driver.Record, uniqueBy []string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	return t.s.upsertLocked(table, rec, uniqueBy)
}

func (t *txQueryer) BulkUpsert(ctx context.Context, table string, recs []driver.Record, uniqueBy []string) (driver.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return driver.UpsertResult{}, err
	}
	return t.s.bulkUpsertLocked(table, recs, uniqueBy)
}
