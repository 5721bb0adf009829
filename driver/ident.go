package driver

import "regexp"

// identPattern is the shared shape of every table and column name: an
// ASCII letter or underscore followed by letters, digits, or
// underscores. Both backends enforce it so a name can never smuggle
// SQL syntax or path separators.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdent returns an *IdentError unless name is a well-formed
// identifier.
func ValidateIdent(name string) error {
	if !identPattern.MatchString(name) {
		return &IdentError{Ident: name}
	}
	return nil
}

// ValidateIdents validates each name in turn, returning the first
// failure.
func ValidateIdents(names ...string) error {
	for _, n := range names {
		if err := ValidateIdent(n); err != nil {
			return err
		}
	}
	return nil
}
