package docstore

import (
	"context"
	"fmt"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Create appends a record to the table and persists it. A record
// without an id gets the next generated one; an explicit id advances
// the generator past itself. The returned id identifies the stored
// record.
func (s *Store) Create(ctx context.Context, table string, rec driver.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.createLocked(table, rec)
}

func (s *Store) createLocked(table string, rec driver.Record) (int64, error) {
	data, err := s.ensureLoaded(table)
	if err != nil {
		return 0, err
	}
	stored := driver.NormalizeRecord(rec)
	id, ok := driver.RecordID(stored)
	if !ok {
		id = s.nextID(table)
		stored["id"] = id
	} else {
		stored["id"] = id
		s.noteExplicitID(table, id)
	}
	s.cache[table] = append(data, stored)
	indexRecord(s.indexes[table], stored)
	s.markDirty(table)

	if s.txDepth == 0 {
		if err := s.saveTable(table); err != nil {
			s.cache[table] = s.cache[table][:len(data)]
			unindexRecord(s.indexes[table], stored)
			s.lastID[table] = maxLoadedID(s.cache[table])
			delete(s.dirty, table)
			return 0, err
		}
	}
	return id, nil
}

// maxLoadedID recomputes the id high-water mark from table content,
// used when a failed save rolls a generated id back.
func maxLoadedID(data []driver.Record) int64 {
	var last int64
	for _, rec := range data {
		if id, ok := driver.RecordID(rec); ok && id > last {
			last = id
		}
	}
	return last
}

// Read executes a query spec: filter, order, offset, limit,
// projection. Results are deep copies, so callers can mutate them
// freely without touching the cached table.
func (s *Store) Read(ctx context.Context, spec query.Spec) ([]driver.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.readLocked(spec)
}

func (s *Store) readLocked(spec query.Spec) ([]driver.Record, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("docstore: read: %w", err)
	}
	data, err := s.ensureLoaded(spec.Table)
	if err != nil {
		return nil, err
	}
	rows, err := s.applyWhere(spec.Table, data, spec.Where)
	if err != nil {
		return nil, err
	}
	if len(spec.Order) > 0 {
		ordered := make([]driver.Record, len(rows))
		copy(ordered, rows)
		sortRecords(ordered, spec.Order)
		rows = ordered
	}
	limit := spec.Limit
	if spec.First {
		one := 1
		limit = &one
	}
	rows = applyBounds(rows, limit, spec.Offset)
	cloned := driver.CloneRecords(rows)
	if len(spec.Select) > 0 {
		return project(cloned, spec.Select), nil
	}
	return cloned, nil
}

// Update applies the patch to every record matching the spec's
// predicates and reports how many changed. Order and bounds on the
// spec are ignored; the id field cannot be patched.
func (s *Store) Update(ctx context.Context, spec query.Spec, patch driver.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.updateLocked(spec, patch)
}

func (s *Store) updateLocked(spec query.Spec, patch driver.Record) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("docstore: update: %w", err)
	}
	if len(patch) == 0 {
		return 0, nil
	}
	data, err := s.ensureLoaded(spec.Table)
	if err != nil {
		return 0, err
	}
	targets, err := s.applyWhere(spec.Table, data, spec.Where)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, nil
	}
	applied := driver.NormalizeRecord(patch)
	delete(applied, "id")
	if len(applied) == 0 {
		return 0, nil
	}

	idx := s.indexes[spec.Table]
	before := driver.CloneRecords(targets)
	for _, rec := range targets {
		unindexRecord(idx, rec)
		for k, v := range applied {
			rec[k] = v
		}
		indexRecord(idx, rec)
	}
	s.markDirty(spec.Table)

	if s.txDepth == 0 {
		if err := s.saveTable(spec.Table); err != nil {
			for i, rec := range targets {
				unindexRecord(idx, rec)
				clearRecord(rec)
				for k, v := range before[i] {
					rec[k] = v
				}
				indexRecord(idx, rec)
			}
			delete(s.dirty, spec.Table)
			return 0, err
		}
	}
	return int64(len(targets)), nil
}

func clearRecord(rec driver.Record) {
	for k := range rec {
		delete(rec, k)
	}
}

// Delete removes every record matching the spec's predicates and
// reports how many were removed. An empty predicate list clears the
// table.
func (s *Store) Delete(ctx context.Context, spec query.Spec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.deleteLocked(spec)
}

func (s *Store) deleteLocked(spec query.Spec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("docstore: delete: %w", err)
	}
	data, err := s.ensureLoaded(spec.Table)
	if err != nil {
		return 0, err
	}
	targets, err := s.applyWhere(spec.Table, data, spec.Where)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, nil
	}

	doomed := make(map[int64]struct{}, len(targets))
	idx := s.indexes[spec.Table]
	for _, rec := range targets {
		if id, ok := driver.RecordID(rec); ok {
			doomed[id] = struct{}{}
		}
		unindexRecord(idx, rec)
	}
	kept := make([]driver.Record, 0, len(data)-len(targets))
	for _, rec := range data {
		id, ok := driver.RecordID(rec)
		if ok {
			if _, gone := doomed[id]; gone {
				continue
			}
		}
		kept = append(kept, rec)
	}
	s.cache[spec.Table] = kept
	s.markDirty(spec.Table)

	if s.txDepth == 0 {
		if err := s.saveTable(spec.Table); err != nil {
			s.cache[spec.Table] = data
			for _, rec := range targets {
				indexRecord(idx, rec)
			}
			delete(s.dirty, spec.Table)
			return 0, err
		}
	}
	return int64(len(targets)), nil
}

// Count reports how many records match the spec's predicates. Order
// and bounds are ignored. The loaded cache answers the count when the
// table is already in memory; otherwise the table loads from disk
// first.
func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.countLocked(spec)
}

func (s *Store) countLocked(spec query.Spec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("docstore: count: %w", err)
	}
	data, err := s.ensureLoaded(spec.Table)
	if err != nil {
		return 0, err
	}
	rows, err := s.applyWhere(spec.Table, data, spec.Where)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}
