// Package validate is a CUE-backed implementation of the
// strata.Validator hook. Each table registers Rules: a CUE schema for
// field types, constraints, and defaults, plus unique and immutable
// field lists enforced through the store. Creates unify the whole
// record against the schema and must come out concrete, so absent
// required fields reject the write and defaults land in the stored
// record. Updates unify only the fields the patch carries, with no
// concreteness requirement and no defaults applied.
package validate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/apopov/strata"
	"github.com/apopov/strata/driver"
)

// Rules describes validation for one table. Schema is CUE source whose
// top-level struct constrains each record:
//
//	name: string
//	age:  int & >=0 & <=150
//	role: *"user" | "admin"
//
// Schemas are open: fields the schema does not mention pass through
// unchanged (wrap the source in close({...}) to reject them). A field
// written as null must be allowed by its schema type, e.g. int | null.
//
// Unique names fields whose values may be held by at most one record;
// the check runs through the store's UniqueProbe, so it sees the open
// transaction when one is active. Immutable names fields an update
// patch must not carry.
//
// The reserved fields id, created_at, and updated_at are managed by
// the store and should not appear in a schema.
type Rules struct {
	Schema    string
	Unique    []string
	Immutable []string
}

// Validator validates writes against per-table Rules. Tables without a
// registration pass writes through untouched. Construct with New; the
// zero value is not usable. Safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	cctx   *cue.Context
	tables map[string]tableRules
}

type tableRules struct {
	schema    cue.Value
	hasSchema bool
	unique    []string
	immutable []string
}

// New returns a Validator with no rules registered.
func New() *Validator {
	return &Validator{
		cctx:   cuecontext.New(),
		tables: make(map[string]tableRules),
	}
}

// Register compiles rules for a table, replacing any previous
// registration for it.
func (v *Validator) Register(table string, rules Rules) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	tr := tableRules{
		unique:    append([]string(nil), rules.Unique...),
		immutable: append([]string(nil), rules.Immutable...),
	}
	if strings.TrimSpace(rules.Schema) != "" {
		schema := v.cctx.CompileString(rules.Schema, cue.Filename(table+".cue"))
		if err := schema.Err(); err != nil {
			return fmt.Errorf("validate: compile schema for %s: %w", table, err)
		}
		tr.schema = schema
		tr.hasSchema = true
	}
	v.tables[table] = tr
	return nil
}

// ValidateCreate checks a record before insert. With a schema
// registered the record must unify into a concrete value; the decoded
// result, defaults included, is what the store persists. Unique fields
// are probed with no exclusion.
func (v *Validator) ValidateCreate(ctx context.Context, table string, rec driver.Record, probe strata.UniqueProbe) (driver.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tr, ok := v.tables[table]
	if !ok {
		return rec, nil
	}
	if rec == nil {
		rec = driver.Record{}
	}

	out := rec
	if tr.hasSchema {
		unified := tr.schema.Unify(v.cctx.Encode(rec))
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			return nil, fieldErrors(err)
		}
		var decoded map[string]any
		if err := unified.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("validate: decode %s record: %w", table, err)
		}
		out = driver.NormalizeRecord(decoded)
	}

	if err := checkUnique(ctx, tr, table, out, 0, probe); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateUpdate checks a patch before it is applied. Immutable fields
// present in the patch reject it, alongside any schema conflicts on
// the carried fields. Unique fields are probed excluding id, which is
// 0 for predicate-addressed updates.
func (v *Validator) ValidateUpdate(ctx context.Context, table string, id int64, patch driver.Record, probe strata.UniqueProbe) (driver.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tr, ok := v.tables[table]
	if !ok {
		return patch, nil
	}

	fe := strata.FieldErrors{}
	for _, f := range tr.immutable {
		if _, ok := patch[f]; ok {
			fe.Add(f, "cannot be changed")
		}
	}
	if tr.hasSchema && len(patch) > 0 {
		if err := tr.schema.Unify(v.cctx.Encode(patch)).Validate(); err != nil {
			addFieldErrors(fe, err)
		}
	}
	if len(fe) > 0 {
		return nil, fe
	}

	if err := checkUnique(ctx, tr, table, patch, id, probe); err != nil {
		return nil, err
	}
	return patch, nil
}

// checkUnique probes each unique field the record carries. Probe
// failures are driver errors and propagate as-is, not as FieldErrors.
func checkUnique(ctx context.Context, tr tableRules, table string, rec driver.Record, excludeID int64, probe strata.UniqueProbe) error {
	if probe == nil || len(tr.unique) == 0 {
		return nil
	}
	fe := strata.FieldErrors{}
	for _, f := range tr.unique {
		val, ok := rec[f]
		if !ok || val == nil {
			continue
		}
		taken, err := probe(ctx, table, f, val, excludeID)
		if err != nil {
			return fmt.Errorf("validate: unique check %s.%s: %w", table, f, err)
		}
		if taken {
			fe.Add(f, "must be unique")
		}
	}
	if len(fe) > 0 {
		return fe
	}
	return nil
}

// fieldErrors converts a CUE evaluation error into FieldErrors keyed
// by the failing field's path.
func fieldErrors(err error) strata.FieldErrors {
	fe := strata.FieldErrors{}
	addFieldErrors(fe, err)
	return fe
}

func addFieldErrors(fe strata.FieldErrors, err error) {
	for _, e := range errors.Errors(err) {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "record"
		}
		format, args := e.Msg()
		fe.Add(field, fmt.Sprintf(format, args...))
	}
}
