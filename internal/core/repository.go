package core

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/coregx/tabula/internal/builder"
	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/mapper"
	"github.com/coregx/tabula/internal/util"
)

// Repository runs CRUD, pagination and eager loading for one entity.
// With and WithDeleted return scoped copies, so a repository can be
// shared and specialized per call site.
type Repository struct {
	client *Client
	entity *Entity
	engine *engine.Engine
	mode   driver.Mode

	relations   []string
	withDeleted bool
}

// Entity returns the entity this repository serves.
func (r *Repository) Entity() *Entity { return r.entity }

// With returns a copy that eager-loads the named relations on every
// finder, one LEFT JOIN per relation. Relation targets must be
// registered with the client.
func (r *Repository) With(relations ...string) *Repository {
	c := *r
	c.relations = append(append([]string(nil), r.relations...), relations...)
	return &c
}

// WithDeleted returns a copy whose reads include soft-deleted rows and
// whose Delete removes rows outright.
func (r *Repository) WithDeleted() *Repository {
	c := *r
	c.withDeleted = true
	return &c
}

func (r *Repository) withMode(mode driver.Mode) *Repository {
	c := *r
	c.mode = mode
	return &c
}

// Query starts a select over the entity's table, carrying the
// soft-delete filter unless WithDeleted. The result feeds Fetch,
// PaginateWith or PaginateWithAdvanced.
func (r *Repository) Query() *builder.Query {
	q := builder.New(r.entity.Table()).Select()
	r.applyScope(q)
	return q
}

// applyScope appends the soft-delete filter. The column is qualified
// once joins put more than one table in play.
func (r *Repository) applyScope(q *builder.Query) {
	col := r.entity.SoftDeleteColumn()
	if col == "" || r.withDeleted {
		return
	}
	q.WhereNull(r.qualify(col))
}

// qualify prefixes col with the table name when the query joins other
// tables and a bare name would be ambiguous.
func (r *Repository) qualify(col string) string {
	if len(r.relations) > 0 {
		return r.entity.Table() + "." + col
	}
	return col
}

// mappings resolves the demux table for the active relations: the
// unprefixed primary plus one aliased entry per eager load.
func (r *Repository) mappings() ([]mapper.Mapping, error) {
	def := r.entity.Definition()
	mappings := []mapper.Mapping{{Definition: def}}
	for _, name := range r.relations {
		rel, ok := def.Relation(name)
		if !ok {
			return nil, errs.New(errs.ErrValidation, fmt.Sprintf("unknown relation %q on table %q", name, r.entity.Table()))
		}
		target, ok := r.client.entityFor(rel.Target)
		if !ok {
			return nil, errs.New(errs.ErrValidation, fmt.Sprintf("relation %q targets unregistered table %q", name, rel.Target))
		}
		mappings = append(mappings, mapper.Mapping{
			Definition: target.Definition(),
			Prefix:     rel.Name + "__",
			Relation:   rel.Name,
		})
	}
	return mappings, nil
}

// selectQuery builds the finder query: plain SELECT * without
// relations, otherwise the table's columns plus each relation's
// columns aliased under its prefix, joined with LEFT JOIN.
func (r *Repository) selectQuery() (*builder.Query, []mapper.Mapping, error) {
	mappings, err := r.mappings()
	if err != nil {
		return nil, nil, err
	}
	table := r.entity.Table()
	q := builder.New(table)

	if len(r.relations) == 0 {
		q.Select()
		r.applyScope(q)
		return q, mappings, nil
	}

	def := r.entity.Definition()
	cols := []string{table + ".*"}
	for _, name := range r.relations {
		rel, _ := def.Relation(name)
		target, _ := r.client.entityFor(rel.Target)
		for _, f := range target.Definition().Fields() {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s__%s", rel.Target, f.Name, rel.Name, f.Name))
		}
		q.LeftJoin(rel.Target, fmt.Sprintf("%s.%s = %s.%s", table, rel.LocalKey, rel.Target, rel.ForeignKey))
	}
	q.Select(cols...)
	r.applyScope(q)
	return q, mappings, nil
}

// fetch executes q in the repository's mode and demultiplexes the rows.
func (r *Repository) fetch(ctx context.Context, q *builder.Query, mappings []mapper.Mapping) ([]*mapper.Record, error) {
	sqlText, params, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	res, err := r.engine.Execute(ctx, r.mode, sqlText, params)
	if err != nil {
		return nil, err
	}
	return mapper.MapRows(r.entity.Definition(), res.Rows, mappings), nil
}

// returning executes a write carrying a RETURNING list and maps the
// returned rows.
func (r *Repository) returning(ctx context.Context, q *builder.Query) ([]*mapper.Record, error) {
	sqlText, params, err := q.ToSQL()
	if err != nil {
		return nil, err
	}
	res, err := r.engine.Execute(ctx, r.mode, sqlText, params)
	if err != nil {
		return nil, err
	}
	return mapper.MapRows(r.entity.Definition(), res.Rows, nil), nil
}

func (r *Repository) notFound(column string, value any) error {
	return errs.New(errs.ErrNotFound, fmt.Sprintf("%s with %s=%v not found", r.entity.Table(), column, value))
}

// payloadValues normalizes a write payload. Maps pass through as-is,
// nil values included; structs flatten via their db tags with nil
// pointer fields omitted, so absent optionals fall back to column
// defaults. Every key must name a declared column.
func (r *Repository) payloadValues(payload any) (map[string]any, error) {
	var values map[string]any
	switch p := payload.(type) {
	case nil:
		return nil, errs.New(errs.ErrValidation, "nil payload")
	case map[string]any:
		values = make(map[string]any, len(p))
		for k, v := range p {
			values[k] = v
		}
	default:
		m, err := util.StructToMap(payload)
		if err != nil {
			return nil, errs.Wrap(errs.ErrValidation, err, "payload")
		}
		values = make(map[string]any, len(m))
		for k, v := range m {
			if v == nil {
				continue
			}
			values[k] = v
		}
	}
	def := r.entity.Definition()
	for col := range values {
		if !util.ValidIdentifier(col) {
			return nil, errs.New(errs.ErrValidation, fmt.Sprintf("invalid column name %q", col))
		}
		if !def.HasField(col) {
			return nil, errs.New(errs.ErrValidation, fmt.Sprintf("unknown column %q on table %q", col, r.entity.Table()))
		}
	}
	return values, nil
}

// Create inserts payload (a map or a struct with db tags) and returns
// the stored row. A zero primary key is dropped so the database
// assigns it.
func (r *Repository) Create(ctx context.Context, payload any) (*mapper.Record, error) {
	values, err := r.payloadValues(payload)
	if err != nil {
		return nil, err
	}
	if pk, ok := r.entity.Definition().Primary(); ok {
		if v, present := values[pk.Name]; present && util.IsZero(v) {
			delete(values, pk.Name)
		}
	}
	if len(values) == 0 {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("empty payload for insert into %q", r.entity.Table()))
	}

	q := builder.New(r.entity.Table()).Insert(values).Returning("*")
	recs, err := r.returning(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errs.New(errs.ErrQuery, fmt.Sprintf("insert into %q returned no row", r.entity.Table()))
	}
	return recs[0], nil
}

// Find loads one row by primary key. Soft-deleted rows are invisible
// unless WithDeleted.
func (r *Repository) Find(ctx context.Context, id any) (*mapper.Record, error) {
	pk, err := r.entity.primary()
	if err != nil {
		return nil, err
	}
	q, mappings, err := r.selectQuery()
	if err != nil {
		return nil, err
	}
	q.Where(r.qualify(pk.Name), "=", id).Limit(1)

	recs, err := r.fetch(ctx, q, mappings)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, r.notFound(pk.Name, id)
	}
	return recs[0], nil
}

// FindBy loads the first row whose column equals value.
func (r *Repository) FindBy(ctx context.Context, column string, value any) (*mapper.Record, error) {
	q, mappings, err := r.columnQuery(column, value)
	if err != nil {
		return nil, err
	}
	q.Limit(1)

	recs, err := r.fetch(ctx, q, mappings)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, r.notFound(column, value)
	}
	return recs[0], nil
}

// FindAllBy lists every row whose column equals value.
func (r *Repository) FindAllBy(ctx context.Context, column string, value any) ([]*mapper.Record, error) {
	q, mappings, err := r.columnQuery(column, value)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, q, mappings)
}

func (r *Repository) columnQuery(column string, value any) (*builder.Query, []mapper.Mapping, error) {
	if !util.ValidIdentifier(column) {
		return nil, nil, errs.New(errs.ErrValidation, fmt.Sprintf("invalid column name %q", column))
	}
	q, mappings, err := r.selectQuery()
	if err != nil {
		return nil, nil, err
	}
	q.Where(r.qualify(column), "=", value)
	return q, mappings, nil
}

// FindWhere loads the first row matching every criterion, or
// ErrNotFound.
func (r *Repository) FindWhere(ctx context.Context, criteria map[string]any) (*mapper.Record, error) {
	q, mappings, err := r.criteriaQuery(criteria)
	if err != nil {
		return nil, err
	}
	q.Limit(1)

	recs, err := r.fetch(ctx, q, mappings)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errs.New(errs.ErrNotFound, fmt.Sprintf("no %s matches the criteria", r.entity.Table()))
	}
	return recs[0], nil
}

// Where lists rows matching every criterion. A nil value matches NULL,
// a slice becomes an IN clause, anything else an equality. Criteria
// apply in column order so the generated SQL is stable.
func (r *Repository) Where(ctx context.Context, criteria map[string]any) ([]*mapper.Record, error) {
	q, mappings, err := r.criteriaQuery(criteria)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, q, mappings)
}

func (r *Repository) criteriaQuery(criteria map[string]any) (*builder.Query, []mapper.Mapping, error) {
	q, mappings, err := r.selectQuery()
	if err != nil {
		return nil, nil, err
	}
	for _, col := range sortedKeys(criteria) {
		if !util.ValidIdentifier(col) {
			return nil, nil, errs.New(errs.ErrValidation, fmt.Sprintf("invalid column name %q", col))
		}
		v := criteria[col]
		switch {
		case v == nil:
			q.WhereNull(r.qualify(col))
		default:
			if vals, ok := toValueSlice(v); ok {
				q.WhereIn(r.qualify(col), vals)
			} else {
				q.Where(r.qualify(col), "=", v)
			}
		}
	}
	return q, mappings, nil
}

// All lists every visible row.
func (r *Repository) All(ctx context.Context) ([]*mapper.Record, error) {
	q, mappings, err := r.selectQuery()
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, q, mappings)
}

// Fetch executes a custom query and maps the rows. Relation records
// materialize when the query selects the matching aliased columns.
func (r *Repository) Fetch(ctx context.Context, q *builder.Query) ([]*mapper.Record, error) {
	mappings, err := r.mappings()
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, q, mappings)
}

// Count reports how many rows are visible in the current scope.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	q := builder.New(r.entity.Table()).Select()
	if col := r.entity.SoftDeleteColumn(); col != "" && !r.withDeleted {
		q.WhereNull(col)
	}
	return r.count(ctx, q)
}

func (r *Repository) count(ctx context.Context, q *builder.Query) (int64, error) {
	sqlText, params, err := q.CountQuery().ToSQL()
	if err != nil {
		return 0, err
	}
	res, err := r.engine.Execute(ctx, r.mode, sqlText, params)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	col := "count"
	if len(res.Columns) > 0 {
		col = res.Columns[0]
	}
	n, err := strconv.ParseInt(res.Rows[0].String(col), 10, 64)
	if err != nil {
		return 0, errs.Wrap(errs.ErrQuery, err, "parse count")
	}
	return n, nil
}

// Save upserts by primary key: payloads with an absent or zero key
// insert, anything else updates the existing row.
func (r *Repository) Save(ctx context.Context, payload any) (*mapper.Record, error) {
	pk, err := r.entity.primary()
	if err != nil {
		return nil, err
	}
	values, err := r.payloadValues(payload)
	if err != nil {
		return nil, err
	}
	id, present := values[pk.Name]
	if !present || util.IsZero(id) {
		delete(values, pk.Name)
		if len(values) == 0 {
			return nil, errs.New(errs.ErrValidation, fmt.Sprintf("empty payload for insert into %q", r.entity.Table()))
		}
		q := builder.New(r.entity.Table()).Insert(values).Returning("*")
		recs, err := r.returning(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, errs.New(errs.ErrQuery, fmt.Sprintf("insert into %q returned no row", r.entity.Table()))
		}
		return recs[0], nil
	}
	delete(values, pk.Name)
	return r.Update(ctx, id, values)
}

// Update applies changes (a map or struct, primary key ignored) to the
// row with primary key id and returns the stored result. Soft-deleted
// rows are not updatable unless WithDeleted.
func (r *Repository) Update(ctx context.Context, id any, changes any) (*mapper.Record, error) {
	pk, err := r.entity.primary()
	if err != nil {
		return nil, err
	}
	values, err := r.payloadValues(changes)
	if err != nil {
		return nil, err
	}
	delete(values, pk.Name)
	if len(values) == 0 {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("empty changes for update of %q", r.entity.Table()))
	}

	q := builder.New(r.entity.Table()).Update(values).Where(pk.Name, "=", id).Returning("*")
	if col := r.entity.SoftDeleteColumn(); col != "" && !r.withDeleted {
		q.WhereNull(col)
	}
	recs, err := r.returning(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, r.notFound(pk.Name, id)
	}
	return recs[0], nil
}

// Delete removes the row with primary key id. With a soft-delete
// column it stamps the deletion time instead; WithDeleted forces a
// real DELETE. Rows already gone report ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id any) error {
	pk, err := r.entity.primary()
	if err != nil {
		return err
	}

	var q *builder.Query
	if col := r.entity.SoftDeleteColumn(); col != "" && !r.withDeleted {
		q = builder.New(r.entity.Table()).
			Update(map[string]any{col: time.Now().UTC()}).
			Where(pk.Name, "=", id).
			WhereNull(col)
	} else {
		q = builder.New(r.entity.Table()).Delete().Where(pk.Name, "=", id)
	}

	sqlText, params, err := q.ToSQL()
	if err != nil {
		return err
	}
	res, err := r.engine.Execute(ctx, r.mode, sqlText, params)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return r.notFound(pk.Name, id)
	}
	return nil
}

// Restore clears the soft-delete marker of the row with primary key id.
func (r *Repository) Restore(ctx context.Context, id any) (*mapper.Record, error) {
	col := r.entity.SoftDeleteColumn()
	if col == "" {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("table %q has no soft-delete column", r.entity.Table()))
	}
	pk, err := r.entity.primary()
	if err != nil {
		return nil, err
	}

	q := builder.New(r.entity.Table()).
		Update(map[string]any{col: nil}).
		Where(pk.Name, "=", id).
		WhereNotNull(col).
		Returning("*")
	recs, err := r.returning(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, r.notFound(pk.Name, id)
	}
	return recs[0], nil
}

// CreateAsync inserts on the async pool, resolving to the stored row.
func (r *Repository) CreateAsync(ctx context.Context, payload any) *engine.Future[*mapper.Record] {
	ar := r.withMode(driver.ModeAsync)
	return engine.Go(func() (*mapper.Record, error) {
		return ar.Create(ctx, payload)
	})
}

// FindAsync loads by primary key on the async pool.
func (r *Repository) FindAsync(ctx context.Context, id any) *engine.Future[*mapper.Record] {
	ar := r.withMode(driver.ModeAsync)
	return engine.Go(func() (*mapper.Record, error) {
		return ar.Find(ctx, id)
	})
}

// QueryAsync runs a custom query on the async pool.
func (r *Repository) QueryAsync(ctx context.Context, q *builder.Query) *engine.Future[[]*mapper.Record] {
	ar := r.withMode(driver.ModeAsync)
	return engine.Go(func() ([]*mapper.Record, error) {
		return ar.Fetch(ctx, q)
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// toValueSlice flattens slice and array values for IN clauses. Strings
// and byte slices stay scalar.
func toValueSlice(v any) ([]any, bool) {
	switch v.(type) {
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
