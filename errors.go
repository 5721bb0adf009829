package strata

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrClosed is returned by every operation after Shutdown.
	ErrClosed = errors.New("strata: store is closed")

	// ErrSwitchRefused is returned by SwitchDriver when the active
	// configuration came from the environment and force is false. Use
	// force, or WithDriver for a scoped override.
	ErrSwitchRefused = errors.New("strata: driver switch refused: active configuration came from the environment")

	// ErrUnknownDriver is wrapped by configuration errors naming a
	// driver kind outside document and relational.
	ErrUnknownDriver = errors.New("strata: unknown driver")
)

// FieldErrors is a validation failure: field name to messages. A
// Validator returns it to reject a write before the driver is reached.
type FieldErrors map[string][]string

// Add appends a message to a field.
func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// Error lists every field's messages with fields sorted, so the text
// is stable for a given set of failures.
func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(strings.Join(fe[f], ", "))
	}
	return b.String()
}

// AsFieldErrors unwraps err to a FieldErrors if one is in the chain.
func AsFieldErrors(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
