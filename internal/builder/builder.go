// Package builder constructs SQL statements through a fluent, chainable
// API. A Query accumulates clauses with ? placeholders and renders them
// for the configured dialect at ToSQL time; the returned parameter list
// aligns left to right with the placeholders in the emitted text.
//
// Exactly one statement kind is active per Query. Mixing kinds (say,
// Insert after Update) poisons the query with ErrInvalidQueryState,
// reported by ToSQL rather than panicking mid-chain.
package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coregx/tabula/internal/dialects"
	"github.com/coregx/tabula/internal/errs"
)

type kind int

const (
	kindSelect kind = iota
	kindInsert
	kindUpdate
	kindDelete
)

func (k kind) String() string {
	switch k {
	case kindInsert:
		return "INSERT"
	case kindUpdate:
		return "UPDATE"
	case kindDelete:
		return "DELETE"
	default:
		return "SELECT"
	}
}

// whereClause is one WHERE entry: a rendered fragment with ? placeholders,
// its parameters, and the conjunction joining it to the previous clause.
type whereClause struct {
	conj   string
	sql    string
	params []any
}

// Query is a single SQL statement under construction. The zero kind is
// SELECT, so a fresh Query can go straight to Where and ToSQL.
type Query struct {
	dialect dialects.Dialect
	table   string
	kind    kind
	kindSet bool

	columns []string
	wheres  []whereClause
	joins   []string
	groupBy []string
	orderBy []string
	limit   *int
	offset  *int

	insertValues map[string]any
	insertCols   []string
	insertRows   [][]any
	updateValues map[string]any

	conflictColumns []string
	conflictUpdate  []string
	conflictNothing bool
	hasConflict     bool

	returning []string

	err error
}

// New starts a query against table using the default dialect.
func New(table string) *Query {
	return NewWithDialect(table, dialects.Default())
}

// NewWithDialect starts a query against table rendering for d.
func NewWithDialect(table string, d dialects.Dialect) *Query {
	return &Query{dialect: d, table: table}
}

// Table returns the table the query targets.
func (q *Query) Table() string { return q.table }

// Err returns the first error recorded while chaining, if any.
func (q *Query) Err() error { return q.err }

func (q *Query) setKind(k kind) {
	if q.err != nil {
		return
	}
	if q.kindSet && q.kind != k {
		q.err = errs.New(errs.ErrInvalidQueryState,
			fmt.Sprintf("cannot build %s: query is already building %s", k, q.kind))
		return
	}
	q.kind = k
	q.kindSet = true
}

func (q *Query) fail(kindErr error, message string) {
	if q.err == nil {
		q.err = errs.New(kindErr, message)
	}
}

// Select makes the query a SELECT over the given columns. With no
// columns it selects *.
func (q *Query) Select(columns ...string) *Query {
	q.setKind(kindSelect)
	q.columns = append(q.columns, columns...)
	return q
}

// Insert makes the query an INSERT of the given column/value payload.
// Columns emit in sorted order so identical payloads produce identical
// SQL (and hit the same prepared statement).
func (q *Query) Insert(values map[string]any) *Query {
	q.setKind(kindInsert)
	q.insertValues = values
	return q
}

// InsertRows makes the query a multi-row INSERT. Every row must have
// one value per column.
//
// Example:
//
//	builder.New("users").
//	    InsertRows([]string{"name", "email"}, [][]any{
//	        {"Alice", "alice@example.com"},
//	        {"Bob", "bob@example.com"},
//	    })
func (q *Query) InsertRows(columns []string, rows [][]any) *Query {
	q.setKind(kindInsert)
	for _, row := range rows {
		if len(row) != len(columns) {
			q.fail(errs.ErrValidation,
				fmt.Sprintf("batch insert row has %d values, want %d", len(row), len(columns)))
			return q
		}
	}
	q.insertCols = columns
	q.insertRows = rows
	return q
}

// Update makes the query an UPDATE setting the given columns. SET
// columns emit in sorted order; their parameters precede any WHERE
// parameters.
func (q *Query) Update(values map[string]any) *Query {
	q.setKind(kindUpdate)
	q.updateValues = values
	return q
}

// Delete makes the query a DELETE.
func (q *Query) Delete() *Query {
	q.setKind(kindDelete)
	return q
}

// Where adds an AND-joined condition binding one parameter.
func (q *Query) Where(column, op string, value any) *Query {
	return q.addWhere("AND", column+" "+op+" ?", value)
}

// OrWhere adds an OR-joined condition binding one parameter.
func (q *Query) OrWhere(column, op string, value any) *Query {
	return q.addWhere("OR", column+" "+op+" ?", value)
}

// WhereRaw adds a raw AND-joined fragment with its own parameters.
//
// Example:
//
//	q.WhereRaw("price * quantity > ?", 100)
func (q *Query) WhereRaw(fragment string, params ...any) *Query {
	return q.addWhere("AND", fragment, params...)
}

// OrWhereRaw adds a raw OR-joined fragment with its own parameters.
func (q *Query) OrWhereRaw(fragment string, params ...any) *Query {
	return q.addWhere("OR", fragment, params...)
}

// WhereIn expands to one placeholder per element. An empty list renders
// the always-false guard 0=1 instead of invalid SQL.
func (q *Query) WhereIn(column string, values []any) *Query {
	if len(values) == 0 {
		return q.addWhere("AND", "0=1")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return q.addWhere("AND", column+" IN ("+placeholders+")", values...)
}

// WhereNull matches NULL without binding a parameter.
func (q *Query) WhereNull(column string) *Query {
	return q.addWhere("AND", column+" IS NULL")
}

// WhereNotNull matches non-NULL without binding a parameter.
func (q *Query) WhereNotNull(column string) *Query {
	return q.addWhere("AND", column+" IS NOT NULL")
}

// Search adds a full-text condition matching term against the given
// columns via to_tsvector/plainto_tsquery.
func (q *Query) Search(term string, columns ...string) *Query {
	if len(columns) == 0 {
		return q
	}
	vector := "to_tsvector('english', " + strings.Join(columns, " || ' ' || ") + ")"
	return q.addWhere("AND", vector+" @@ plainto_tsquery('english', ?)", term)
}

// After adds a keyset-pagination bound: only rows whose column value is
// strictly beyond cursor.
func (q *Query) After(column string, cursor any) *Query {
	return q.addWhere("AND", column+" > ?", cursor)
}

func (q *Query) addWhere(conj, fragment string, params ...any) *Query {
	q.wheres = append(q.wheres, whereClause{conj: conj, sql: fragment, params: params})
	return q
}

// Join appends a plain JOIN, emitted in insertion order before WHERE.
func (q *Query) Join(table, on string) *Query {
	q.joins = append(q.joins, "JOIN "+table+" ON "+on)
	return q
}

// InnerJoin appends an INNER JOIN.
func (q *Query) InnerJoin(table, on string) *Query {
	q.joins = append(q.joins, "INNER JOIN "+table+" ON "+on)
	return q
}

// LeftJoin appends a LEFT JOIN.
func (q *Query) LeftJoin(table, on string) *Query {
	q.joins = append(q.joins, "LEFT JOIN "+table+" ON "+on)
	return q
}

// GroupBy appends grouping columns.
func (q *Query) GroupBy(columns ...string) *Query {
	q.groupBy = append(q.groupBy, columns...)
	return q
}

// OrderBy appends an ordering term. Direction is ASC or DESC
// (case-insensitive); empty defaults to ASC.
func (q *Query) OrderBy(column, direction string) *Query {
	dir := strings.ToUpper(strings.TrimSpace(direction))
	switch dir {
	case "":
		dir = "ASC"
	case "ASC", "DESC":
	default:
		q.fail(errs.ErrValidation, fmt.Sprintf("invalid order direction %q", direction))
		return q
	}
	q.orderBy = append(q.orderBy, column+" "+dir)
	return q
}

// Limit caps the row count; emitted as a trailing parameter.
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset skips rows; emitted as the last parameter, after LIMIT.
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// OnConflictDoNothing suffixes an INSERT with ON CONFLICT DO NOTHING,
// optionally scoped to the given conflict columns.
func (q *Query) OnConflictDoNothing(columns ...string) *Query {
	q.hasConflict = true
	q.conflictNothing = true
	q.conflictColumns = columns
	q.conflictUpdate = nil
	return q
}

// OnConflictDoUpdate suffixes an INSERT with ON CONFLICT DO UPDATE.
// With no update columns it updates every inserted column except the
// conflict columns.
func (q *Query) OnConflictDoUpdate(conflictColumns []string, updateColumns ...string) *Query {
	q.hasConflict = true
	q.conflictNothing = false
	q.conflictColumns = conflictColumns
	q.conflictUpdate = updateColumns
	return q
}

// Returning suffixes INSERT/UPDATE/DELETE with a RETURNING list.
func (q *Query) Returning(columns ...string) *Query {
	q.returning = append(q.returning, columns...)
	return q
}

// ToSQL renders the statement and its parameter list. Placeholders in
// the output use the dialect's positional format; the parameters align
// with them left to right.
func (q *Query) ToSQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	switch q.kind {
	case kindInsert:
		return q.buildInsert()
	case kindUpdate:
		return q.buildUpdate()
	case kindDelete:
		return q.buildDelete()
	default:
		return q.buildSelect()
	}
}

func (q *Query) buildSelect() (string, []any, error) {
	var sb strings.Builder
	var params []any

	cols := "*"
	if len(q.columns) > 0 {
		cols = strings.Join(q.columns, ", ")
	}
	sb.WriteString("SELECT " + cols + " FROM " + q.dialect.QuoteIdentifier(q.table))

	for _, j := range q.joins {
		sb.WriteString(" " + j)
	}
	params = q.appendWhere(&sb, params)

	if len(q.groupBy) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(q.groupBy, ", "))
	}
	if len(q.orderBy) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(q.orderBy, ", "))
	}
	params = q.appendLimitOffset(&sb, params)

	return q.dialect.Rebind(sb.String()), params, nil
}

func (q *Query) buildInsert() (string, []any, error) {
	if len(q.wheres) > 0 {
		return "", nil, errs.New(errs.ErrInvalidQueryState, "INSERT cannot carry WHERE clauses")
	}
	if len(q.insertRows) > 0 {
		return q.buildInsertRows()
	}
	if len(q.insertValues) == 0 {
		return "", nil, errs.New(errs.ErrValidation, "insert payload is empty")
	}

	keys := sortedKeys(q.insertValues)
	placeholders := make([]string, len(keys))
	params := make([]any, 0, len(keys))
	for i, col := range keys {
		placeholders[i] = "?"
		params = append(params, q.insertValues[col])
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + q.dialect.QuoteIdentifier(q.table) +
		" (" + strings.Join(keys, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")")
	q.appendConflict(&sb, keys)
	q.appendReturning(&sb)

	return q.dialect.Rebind(sb.String()), params, nil
}

func (q *Query) buildInsertRows() (string, []any, error) {
	if len(q.insertCols) == 0 {
		return "", nil, errs.New(errs.ErrValidation, "batch insert has no columns")
	}

	rowPlaceholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(q.insertCols)), ", ") + ")"
	values := make([]string, len(q.insertRows))
	params := make([]any, 0, len(q.insertRows)*len(q.insertCols))
	for i, row := range q.insertRows {
		values[i] = rowPlaceholders
		params = append(params, row...)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + q.dialect.QuoteIdentifier(q.table) +
		" (" + strings.Join(q.insertCols, ", ") + ") VALUES " + strings.Join(values, ", "))
	q.appendConflict(&sb, q.insertCols)
	q.appendReturning(&sb)

	return q.dialect.Rebind(sb.String()), params, nil
}

func (q *Query) buildUpdate() (string, []any, error) {
	if len(q.updateValues) == 0 {
		return "", nil, errs.New(errs.ErrValidation, "update payload is empty")
	}

	keys := sortedKeys(q.updateValues)
	assignments := make([]string, len(keys))
	params := make([]any, 0, len(keys))
	for i, col := range keys {
		assignments[i] = col + " = ?"
		params = append(params, q.updateValues[col])
	}

	var sb strings.Builder
	sb.WriteString("UPDATE " + q.dialect.QuoteIdentifier(q.table) + " SET " + strings.Join(assignments, ", "))
	params = q.appendWhere(&sb, params)
	q.appendReturning(&sb)

	return q.dialect.Rebind(sb.String()), params, nil
}

func (q *Query) buildDelete() (string, []any, error) {
	var sb strings.Builder
	var params []any

	sb.WriteString("DELETE FROM " + q.dialect.QuoteIdentifier(q.table))
	params = q.appendWhere(&sb, params)
	q.appendReturning(&sb)

	return q.dialect.Rebind(sb.String()), params, nil
}

// appendWhere emits the WHERE list in insertion order. The first
// clause's conjunction is dropped; later clauses join with their own.
func (q *Query) appendWhere(sb *strings.Builder, params []any) []any {
	if len(q.wheres) == 0 {
		return params
	}
	sb.WriteString(" WHERE ")
	for i, w := range q.wheres {
		if i > 0 {
			sb.WriteString(" " + w.conj + " ")
		}
		sb.WriteString(w.sql)
		params = append(params, w.params...)
	}
	return params
}

func (q *Query) appendLimitOffset(sb *strings.Builder, params []any) []any {
	if q.limit != nil {
		sb.WriteString(" LIMIT ?")
		params = append(params, *q.limit)
	}
	if q.offset != nil {
		sb.WriteString(" OFFSET ?")
		params = append(params, *q.offset)
	}
	return params
}

func (q *Query) appendConflict(sb *strings.Builder, insertedColumns []string) {
	if !q.hasConflict {
		return
	}
	if q.conflictNothing {
		sb.WriteString(q.dialect.ConflictSQL(q.conflictColumns, nil))
		return
	}
	update := q.conflictUpdate
	if len(update) == 0 {
		update = filterKeys(insertedColumns, q.conflictColumns)
	}
	sb.WriteString(q.dialect.ConflictSQL(q.conflictColumns, update))
}

func (q *Query) appendReturning(sb *strings.Builder) {
	if len(q.returning) > 0 {
		sb.WriteString(" RETURNING " + strings.Join(q.returning, ", "))
	}
}

// Clone returns a deep copy sharing no mutable state with q, so a base
// query can serve as a template for count and page variants.
func (q *Query) Clone() *Query {
	c := *q
	c.columns = cloneStrings(q.columns)
	c.joins = cloneStrings(q.joins)
	c.groupBy = cloneStrings(q.groupBy)
	c.orderBy = cloneStrings(q.orderBy)
	c.insertCols = cloneStrings(q.insertCols)
	c.conflictColumns = cloneStrings(q.conflictColumns)
	c.conflictUpdate = cloneStrings(q.conflictUpdate)
	c.returning = cloneStrings(q.returning)
	c.insertValues = cloneValues(q.insertValues)
	c.updateValues = cloneValues(q.updateValues)

	if q.wheres != nil {
		c.wheres = make([]whereClause, len(q.wheres))
		for i, w := range q.wheres {
			c.wheres[i] = whereClause{conj: w.conj, sql: w.sql, params: cloneParams(w.params)}
		}
	}
	if q.insertRows != nil {
		c.insertRows = make([][]any, len(q.insertRows))
		for i, row := range q.insertRows {
			c.insertRows[i] = cloneParams(row)
		}
	}
	if q.limit != nil {
		v := *q.limit
		c.limit = &v
	}
	if q.offset != nil {
		v := *q.offset
		c.offset = &v
	}
	return &c
}

// CountQuery derives a SELECT COUNT(*) variant of the query with
// ordering and paging stripped, keeping joins and filters intact.
func (q *Query) CountQuery() *Query {
	c := q.Clone()
	c.kind = kindSelect
	c.kindSet = true
	c.columns = []string{"COUNT(*)"}
	c.orderBy = nil
	c.limit = nil
	c.offset = nil
	c.returning = nil
	return c
}

// sortedKeys returns sorted map keys for deterministic SQL generation.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// filterKeys returns keys that are not in the exclude list.
func filterKeys(keys, exclude []string) []string {
	excludeSet := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excludeSet[e] = true
	}
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if !excludeSet[k] {
			filtered = append(filtered, k)
		}
	}
	return filtered
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneParams(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	copy(out, in)
	return out
}

func cloneValues(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
