package strata

import (
	"context"
	"fmt"

	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/query"
)

// Create inserts a record and returns it as stored, id and timestamps
// included. Caller-supplied id, created_at, and updated_at are
// dropped; the Validator, when configured, may transform the record or
// reject it with FieldErrors.
func (s *Store) Create(ctx context.Context, table string, rec driver.Record) (driver.Record, error) {
	q, _, err := s.handle()
	if err != nil {
		return nil, s.fail("create", table, err)
	}
	out, err := createRecord(ctx, s, q, table, rec)
	if err != nil {
		return nil, s.fail("create", table, err)
	}
	return out, nil
}

// Find returns the record with the given id, or nil when absent.
func (s *Store) Find(ctx context.Context, table string, id int64) (driver.Record, error) {
	q, _, err := s.handle()
	if err != nil {
		return nil, s.fail("find", table, err)
	}
	rec, err := findByID(ctx, q, table, id)
	if err != nil {
		return nil, s.fail("find", table, err)
	}
	return rec, nil
}

// Read returns the records matching spec.
func (s *Store) Read(ctx context.Context, spec query.Spec) ([]driver.Record, error) {
	q, _, err := s.handle()
	if err != nil {
		return nil, s.fail("read", spec.Table, err)
	}
	rows, err := q.Read(ctx, spec)
	if err != nil {
		return nil, s.fail("read", spec.Table, err)
	}
	return rows, nil
}

// Update patches the record with the given id and reports whether a
// record changed. The patch cannot touch id or created_at; updated_at
// is stamped by the store.
func (s *Store) Update(ctx context.Context, table string, id int64, patch driver.Record) (bool, error) {
	q, _, err := s.handle()
	if err != nil {
		return false, s.fail("update", table, err)
	}
	changed, err := updateByID(ctx, s, q, table, id, patch)
	if err != nil {
		return false, s.fail("update", table, err)
	}
	return changed, nil
}

// UpdateWhere patches every record matching spec's predicates and
// returns the number changed.
func (s *Store) UpdateWhere(ctx context.Context, spec query.Spec, patch driver.Record) (int64, error) {
	q, _, err := s.handle()
	if err != nil {
		return 0, s.fail("update", spec.Table, err)
	}
	n, err := updateWhere(ctx, s, q, spec, patch)
	if err != nil {
		return 0, s.fail("update", spec.Table, err)
	}
	return n, nil
}

// Delete removes the record with the given id and reports whether a
// record was removed.
func (s *Store) Delete(ctx context.Context, table string, id int64) (bool, error) {
	q, _, err := s.handle()
	if err != nil {
		return false, s.fail("delete", table, err)
	}
	n, err := q.Delete(ctx, byID(table, id))
	if err != nil {
		return false, s.fail("delete", table, err)
	}
	return n > 0, nil
}

// DeleteWhere removes every record matching spec's predicates and
// returns the number removed.
func (s *Store) DeleteWhere(ctx context.Context, spec query.Spec) (int64, error) {
	q, _, err := s.handle()
	if err != nil {
		return 0, s.fail("delete", spec.Table, err)
	}
	n, err := q.Delete(ctx, spec)
	if err != nil {
		return 0, s.fail("delete", spec.Table, err)
	}
	return n, nil
}

// All returns every record in the table.
func (s *Store) All(ctx context.Context, table string) ([]driver.Record, error) {
	return s.Read(ctx, query.New(table))
}

// Where returns the records matching the all-equality filter form.
func (s *Store) Where(ctx context.Context, table string, filters query.Filters) ([]driver.Record, error) {
	return s.Read(ctx, query.Spec{Table: table, Where: filters.Predicates()})
}

// First returns the first record matching filters, or nil when none
// does. Absence is not an error.
func (s *Store) First(ctx context.Context, table string, filters query.Filters) (driver.Record, error) {
	q, _, err := s.handle()
	if err != nil {
		return nil, s.fail("first", table, err)
	}
	rec, err := firstMatch(ctx, q, table, filters)
	if err != nil {
		return nil, s.fail("first", table, err)
	}
	return rec, nil
}

// Exists reports whether any record matches filters.
func (s *Store) Exists(ctx context.Context, table string, filters query.Filters) (bool, error) {
	rec, err := s.First(ctx, table, filters)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Count returns the number of records matching filters; nil filters
// count the whole table.
func (s *Store) Count(ctx context.Context, table string, filters query.Filters) (int64, error) {
	q, _, err := s.handle()
	if err != nil {
		return 0, s.fail("count", table, err)
	}
	n, err := q.Count(ctx, query.Spec{Table: table, Where: filters.Predicates()})
	if err != nil {
		return 0, s.fail("count", table, err)
	}
	return n, nil
}

// LastID returns the highest id ever assigned in the table.
func (s *Store) LastID(ctx context.Context, table string) (int64, error) {
	q, _, err := s.handle()
	if err != nil {
		return 0, s.fail("last_id", table, err)
	}
	id, err := q.LastID(ctx, table)
	if err != nil {
		return 0, s.fail("last_id", table, err)
	}
	return id, nil
}

// Paginate returns the page-th page (1-based) of records matching
// filters, perPage at a time. Page values below 1 read the first page;
// perPage values below 1 fall back to 10.
func (s *Store) Paginate(ctx context.Context, table string, page, perPage int, filters query.Filters) ([]driver.Record, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	spec := query.Spec{Table: table, Where: filters.Predicates()}
	spec = spec.Limited(perPage).Shifted((page - 1) * perPage)
	return s.Read(ctx, spec)
}

// Pluck returns the named field of every record matching filters, in
// result order. Records without the field contribute nil.
func (s *Store) Pluck(ctx context.Context, table, field string, filters query.Filters) ([]any, error) {
	rows, err := s.Read(ctx, query.Spec{Table: table, Where: filters.Predicates()})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[field]
	}
	return out, nil
}

// FirstOrCreate returns the first record matching match, or creates
// one from match merged with defaults. The lookup and the insert run
// in one transaction. The second result reports whether a record was
// created.
func (s *Store) FirstOrCreate(ctx context.Context, table string, match query.Filters, defaults driver.Record) (driver.Record, bool, error) {
	q, _, err := s.handle()
	if err != nil {
		return nil, false, s.fail("first_or_create", table, err)
	}
	var (
		rec     driver.Record
		created bool
	)
	err = q.Transaction(ctx, func(tq driver.Queryer) error {
		var err error
		rec, created, err = firstOrCreate(ctx, s, tq, table, match, defaults)
		return err
	})
	if err != nil {
		return nil, false, s.fail("first_or_create", table, err)
	}
	return rec, created, nil
}

// Raw returns the table's records without filtering, ordering, or
// projection. A debugging aid; the document driver serves it from its
// loaded cache.
func (s *Store) Raw(ctx context.Context, table string) ([]driver.Record, error) {
	q, _, err := s.handle()
	if err != nil {
		return nil, s.fail("raw", table, err)
	}
	rows, err := q.Read(ctx, query.New(table))
	if err != nil {
		return nil, s.fail("raw", table, err)
	}
	return rows, nil
}

// byID addresses a single record.
func byID(table string, id int64) query.Spec {
	return query.New(table).AndWhere("id", query.OpEq, id)
}

// createRecord is the write pipeline shared by Store and Tx: strip
// reserved fields, validate, stamp, persist, read back.
func createRecord(ctx context.Context, s *Store, q driver.Queryer, table string, rec driver.Record) (driver.Record, error) {
	rec = driver.NormalizeRecord(rec)
	if rec == nil {
		rec = driver.Record{}
	}
	stripReserved(rec)

	if s.validator != nil {
		out, err := s.validator.ValidateCreate(ctx, table, rec, s.probeWith(q))
		if err != nil {
			return nil, err
		}
		if out != nil {
			rec = out
			stripReserved(rec)
		}
	}

	now := s.timestamp()
	rec["created_at"] = now
	rec["updated_at"] = now

	id, err := q.Create(ctx, table, rec)
	if err != nil {
		return nil, err
	}
	stored, err := findByID(ctx, q, table, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("strata: create %s: record %d not found after insert", table, id)
	}
	return stored, nil
}

// updateByID is the patch pipeline shared by Store and Tx. A patch
// that is empty after reserved-field stripping changes nothing.
func updateByID(ctx context.Context, s *Store, q driver.Queryer, table string, id int64, patch driver.Record) (bool, error) {
	patch, err := preparePatch(ctx, s, q, table, id, patch)
	if err != nil {
		return false, err
	}
	if patch == nil {
		return false, nil
	}
	n, err := q.Update(ctx, byID(table, id), patch)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func updateWhere(ctx context.Context, s *Store, q driver.Queryer, spec query.Spec, patch driver.Record) (int64, error) {
	patch, err := preparePatch(ctx, s, q, spec.Table, 0, patch)
	if err != nil {
		return 0, err
	}
	if patch == nil {
		return 0, nil
	}
	return q.Update(ctx, spec, patch)
}

// preparePatch strips reserved fields, validates, and stamps
// updated_at. It returns nil when nothing is left to apply.
func preparePatch(ctx context.Context, s *Store, q driver.Queryer, table string, id int64, patch driver.Record) (driver.Record, error) {
	patch = driver.NormalizeRecord(patch)
	stripReserved(patch)
	if len(patch) == 0 {
		return nil, nil
	}

	if s.validator != nil {
		out, err := s.validator.ValidateUpdate(ctx, table, id, patch, s.probeWith(q))
		if err != nil {
			return nil, err
		}
		if out != nil {
			patch = out
			stripReserved(patch)
		}
		if len(patch) == 0 {
			return nil, nil
		}
	}

	patch["updated_at"] = s.timestamp()
	return patch, nil
}

func findByID(ctx context.Context, q driver.Queryer, table string, id int64) (driver.Record, error) {
	rows, err := q.Read(ctx, byID(table, id).OnlyFirst())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func firstMatch(ctx context.Context, q driver.Queryer, table string, filters query.Filters) (driver.Record, error) {
	spec := query.Spec{Table: table, Where: filters.Predicates(), First: true}
	rows, err := q.Read(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func firstOrCreate(ctx context.Context, s *Store, q driver.Queryer, table string, match query.Filters, defaults driver.Record) (driver.Record, bool, error) {
	rec, err := firstMatch(ctx, q, table, match)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, false, nil
	}

	seed := driver.Record{}
	for k, v := range match {
		seed[k] = v
	}
	for k, v := range defaults {
		seed[k] = v
	}
	created, err := createRecord(ctx, s, q, table, seed)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}
