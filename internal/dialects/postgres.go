package dialects

import (
	"fmt"
	"strconv"
	"strings"
)

// Postgres implements the PostgreSQL dialect.
type Postgres struct{}

// QuoteIdentifier quotes an identifier using double quotes.
func (d *Postgres) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns the PostgreSQL placeholder format ($1, $2, ...).
func (d *Postgres) Placeholder(index int) string {
	return "$" + strconv.Itoa(index)
}

// Rebind rewrites ? placeholders into $1..$n, left to right. Question marks
// inside single-quoted literals are left untouched.
func (d *Postgres) Rebind(sql string) string {
	var b strings.Builder
	b.Grow(len(sql) + 8)

	n := 0
	inLiteral := false
	for _, r := range sql {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			b.WriteRune(r)
		case r == '?' && !inLiteral:
			n++
			b.WriteString(d.Placeholder(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ConflictSQL generates the ON CONFLICT suffix. With nil updateColumns it
// emits DO NOTHING; otherwise DO UPDATE SET col = EXCLUDED.col for each
// update column.
func (d *Postgres) ConflictSQL(conflictColumns, updateColumns []string) string {
	if updateColumns == nil {
		if len(conflictColumns) > 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictColumns, ", "))
		}
		return " ON CONFLICT DO NOTHING"
	}

	assignments := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		assignments[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(conflictColumns, ", "),
		strings.Join(assignments, ", "),
	)
}
