// Package query defines the driver-independent query vocabulary.
//
// A Spec describes what to fetch: a table, a conjunction of predicates,
// an ordering, pagination bounds, and an optional projection. Drivers
// translate a Spec into their native execution strategy (SQL for the
// relational backend, an in-memory pipeline for the document backend)
// without callers ever branching on the active driver.
package query

import "strings"

// Op identifies a comparison operator inside a Predicate.
//
// The canonical spelling of equality is "==". Eq normalizes the legacy
// "=" form at construction time so drivers only ever see canonical
// operators.
type Op string

const (
	OpEq         Op = "=="
	OpNe         Op = "!="
	OpIn         Op = "in"
	OpLike       Op = "like"
	OpGt         Op = ">"
	OpLt         Op = "<"
	OpGe         Op = ">="
	OpLe         Op = "<="
	OpStartsWith Op = "startswith"
	OpEndsWith   Op = "endswith"
	OpContains   Op = "contains"
)

// NormalizeOp maps accepted operator spellings to their canonical Op.
// Unknown spellings are returned unchanged; Validate rejects them.
func NormalizeOp(op string) Op {
	s := strings.TrimSpace(strings.ToLower(op))
	if s == "=" {
		return OpEq
	}
	return Op(s)
}

// known reports whether op is part of the vocabulary. Individual drivers
// may still support only a subset of it.
func (op Op) known() bool {
	switch op {
	case OpEq, OpNe, OpIn, OpLike, OpGt, OpLt, OpGe, OpLe,
		OpStartsWith, OpEndsWith, OpContains:
		return true
	}
	return false
}

// Direction orders results ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Predicate is a single field comparison. All predicates in a Spec are
// combined with AND; there is no OR in the vocabulary.
//
// For OpIn, Value must be a slice; an empty slice matches no rows.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Order is one sort key. The first Order in a Spec is the primary key,
// later entries break ties in declaration order.
type Order struct {
	Field     string
	Direction Direction
}

// Spec is a complete query description.
//
// The zero value of Limit and Offset (nil) means "unbounded". Select
// projects the result down to the named fields; empty means all fields.
// First asks the driver for at most one row.
type Spec struct {
	Table  string
	Where  []Predicate
	Order  []Order
	Limit  *int
	Offset *int
	Select []string
	First  bool
}

// New returns a Spec targeting table.
func New(table string) Spec {
	return Spec{Table: table}
}

// AndWhere appends a predicate and returns the updated Spec.
// The operator is normalized via NormalizeOp.
//
// The receiver is not modified: the predicate list is copied before
// appending, so several specs can be derived from one base.
func (s Spec) AndWhere(field string, op Op, value any) Spec {
	where := make([]Predicate, len(s.Where), len(s.Where)+1)
	copy(where, s.Where)
	s.Where = append(where, Predicate{Field: field, Op: NormalizeOp(string(op)), Value: value})
	return s
}

// OrderedBy appends a sort key and returns the updated Spec without
// modifying the receiver.
func (s Spec) OrderedBy(field string, dir Direction) Spec {
	order := make([]Order, len(s.Order), len(s.Order)+1)
	copy(order, s.Order)
	s.Order = append(order, Order{Field: field, Direction: dir})
	return s
}

// Limited sets the row limit and returns the updated Spec.
func (s Spec) Limited(n int) Spec {
	s.Limit = &n
	return s
}

// Shifted sets the row offset and returns the updated Spec.
func (s Spec) Shifted(n int) Spec {
	s.Offset = &n
	return s
}

// Projected restricts the result to the named fields and returns the
// updated Spec.
func (s Spec) Projected(fields ...string) Spec {
	s.Select = fields
	return s
}

// OnlyFirst marks the Spec as a single-row query and returns it.
func (s Spec) OnlyFirst() Spec {
	s.First = true
	return s
}

// Eq builds the common field == value predicate.
func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEq, Value: value}
}

// Ne builds a field != value predicate.
func Ne(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpNe, Value: value}
}

// In builds a field-in-list predicate. values may be any slice type.
func In(field string, values any) Predicate {
	return Predicate{Field: field, Op: OpIn, Value: values}
}

// Like builds a case-insensitive substring predicate.
func Like(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLike, Value: value}
}

// Gt builds a field > value predicate.
func Gt(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpGt, Value: value}
}

// Lt builds a field < value predicate.
func Lt(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLt, Value: value}
}

// Ge builds a field >= value predicate.
func Ge(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpGe, Value: value}
}

// Le builds a field <= value predicate.
func Le(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLe, Value: value}
}
