package util

import "regexp"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to interpolate as a column
// or table name. Caller-supplied identifiers are validated before they
// reach SQL text; values never are, they travel as parameters.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
