// Package dialects encapsulates the SQL spellings Tabula emits: identifier
// quoting, positional placeholders, and conflict-resolution clauses. The
// builder composes statements with ? placeholders and rebinds them to the
// dialect's positional form at build time.
package dialects

// Dialect defines database-specific SQL behaviors.
type Dialect interface {
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(string) string
	// Placeholder renders the positional placeholder with the given 1-based index.
	Placeholder(int) string
	// Rebind rewrites ? placeholders into the dialect's positional form.
	Rebind(string) string
	// ConflictSQL renders an INSERT conflict-resolution suffix. A nil
	// updateColumns slice means DO NOTHING.
	ConflictSQL(conflictColumns, updateColumns []string) string
}

// Default returns the dialect Tabula speaks natively.
func Default() Dialect {
	return &Postgres{}
}
