package query

import "fmt"

// Validate checks a Spec for structural soundness: a table name is
// present, every predicate names a field and a known operator, every
// order key names a field and a valid direction, and pagination bounds
// are non-negative.
//
// Validate does not check driver capabilities; a structurally valid
// Spec can still be rejected by a driver that does not support one of
// its operators.
//
// Validate is a pure function with no side effects.
func (s Spec) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("query: table name is required")
	}
	for _, p := range s.Where {
		if p.Field == "" {
			return fmt.Errorf("query: predicate on table %q has an empty field", s.Table)
		}
		if !p.Op.known() {
			return fmt.Errorf("query: unknown operator %q on field %q", p.Op, p.Field)
		}
	}
	for _, o := range s.Order {
		if o.Field == "" {
			return fmt.Errorf("query: order key on table %q has an empty field", s.Table)
		}
		if o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("query: order direction %q on field %q, want asc or desc", o.Direction, o.Field)
		}
	}
	if s.Limit != nil && *s.Limit < 0 {
		return fmt.Errorf("query: negative limit %d", *s.Limit)
	}
	if s.Offset != nil && *s.Offset < 0 {
		return fmt.Errorf("query: negative offset %d", *s.Offset)
	}
	return nil
}
