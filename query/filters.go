package query

import (
	"fmt"
	"sort"
	"strings"
)

// Filters is the shorthand all-equality filter form: every key must
// equal its value. It expands to Predicates in sorted key order so a
// given Filters value always produces the same Spec.
type Filters map[string]any

// Predicates expands the map into equality predicates, keys sorted.
func (f Filters) Predicates() []Predicate {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		preds = append(preds, Eq(k, f[k]))
	}
	return preds
}

// ParseOrder parses the legacy single-string order form "field" or
// "field desc" into an Order. The direction defaults to ascending.
func ParseOrder(s string) (Order, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return Order{Field: parts[0], Direction: Asc}, nil
	case 2:
		dir := Direction(strings.ToLower(parts[1]))
		if dir != Asc && dir != Desc {
			return Order{}, fmt.Errorf("parse order %q: direction must be asc or desc", s)
		}
		return Order{Field: parts[0], Direction: dir}, nil
	default:
		return Order{}, fmt.Errorf("parse order %q: want \"field\" or \"field direction\"", s)
	}
}

// ParseOrderList parses a comma-separated list of order strings, e.g.
// "age desc, name". Empty input yields no order keys.
func ParseOrderList(s string) ([]Order, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var orders []Order
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		o, err := ParseOrder(part)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}
