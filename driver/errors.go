package driver

import (
	"errors"
	"fmt"
)

// ErrNotFound is reserved for callers that want to treat an absent
// record as an error. The built-in operations never return it: reads
// that match nothing yield empty results.
var ErrNotFound = errors.New("record not found")

// CapabilityError reports that a query asked the active driver for a
// feature it does not support, such as an operator outside its set.
type CapabilityError struct {
	// Driver names the rejecting driver, when known.
	Driver string

	// Feature describes the unsupported feature, e.g. `operator "like"`.
	Feature string
}

func (e *CapabilityError) Error() string {
	if e.Driver != "" {
		return fmt.Sprintf("driver %s does not support %s", e.Driver, e.Feature)
	}
	return fmt.Sprintf("driver does not support %s", e.Feature)
}

// IsCapabilityError reports whether err is or wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IdentError reports a table or column name that failed validation.
// Identifiers are validated before they are ever placed in SQL text or
// used as file names.
type IdentError struct {
	Ident string
}

func (e *IdentError) Error() string {
	return fmt.Sprintf("invalid identifier %q: must match [A-Za-z_][A-Za-z0-9_]*", e.Ident)
}

// IsIdentError reports whether err is or wraps an IdentError.
func IsIdentError(err error) bool {
	var ie *IdentError
	return errors.As(err, &ie)
}

// MissingUniqueFieldError reports an upsert record that lacks one of
// the fields the upsert is keyed on.
type MissingUniqueFieldError struct {
	Table string
	Field string
}

func (e *MissingUniqueFieldError) Error() string {
	return fmt.Sprintf("upsert into %s: record is missing unique field %q", e.Table, e.Field)
}

// IsMissingUniqueFieldError reports whether err is or wraps a
// MissingUniqueFieldError.
func IsMissingUniqueFieldError(err error) bool {
	var me *MissingUniqueFieldError
	return errors.As(err, &me)
}
