package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/tabula/internal/errs"
)

func mustSQL(t *testing.T, q *Query) (string, []any) {
	t.Helper()
	sql, params, err := q.ToSQL()
	require.NoError(t, err)
	return sql, params
}

func TestSelectDefaults(t *testing.T) {
	sql, params := mustSQL(t, New("users"))

	assert.Equal(t, `SELECT * FROM "users"`, sql)
	assert.Empty(t, params)
}

func TestSelectFull(t *testing.T) {
	q := New("users").
		Select("id", "email").
		Where("status", "=", "active").
		OrderBy("id", "desc").
		Limit(10).
		Offset(20)

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT id, email FROM "users" WHERE status = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, sql)
	assert.Equal(t, []any{"active", 10, 20}, params)
}

func TestWhereConjunctions(t *testing.T) {
	q := New("users").
		Where("age", ">", 18).
		OrWhere("vip", "=", true).
		Where("region", "=", "eu")

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT * FROM "users" WHERE age > $1 OR vip = $2 AND region = $3`, sql)
	assert.Equal(t, []any{18, true, "eu"}, params)
}

func TestWhereRawKeepsOwnParams(t *testing.T) {
	q := New("orders").
		WhereRaw("(price * qty) > ?", 100).
		Where("region", "=", "eu")

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT * FROM "orders" WHERE (price * qty) > $1 AND region = $2`, sql)
	assert.Equal(t, []any{100, "eu"}, params)
}

func TestWhereIn(t *testing.T) {
	q := New("users").WhereIn("id", []any{1, 2, 3})

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT * FROM "users" WHERE id IN ($1, $2, $3)`, sql)
	assert.Equal(t, []any{1, 2, 3}, params)
}

func TestWhereInEmptyList(t *testing.T) {
	sql, params := mustSQL(t, New("users").WhereIn("id", nil))

	assert.Equal(t, `SELECT * FROM "users" WHERE 0=1`, sql)
	assert.Empty(t, params, "empty IN must not bind parameters")
}

func TestWhereNullOperators(t *testing.T) {
	q := New("users").WhereNull("deleted_at").WhereNotNull("email")

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT * FROM "users" WHERE deleted_at IS NULL AND email IS NOT NULL`, sql)
	assert.Empty(t, params)
}

func TestJoinsEmitBeforeWhereInOrder(t *testing.T) {
	q := New("orders").
		LeftJoin("users u", "u.id = orders.user_id").
		InnerJoin("items i", "i.order_id = orders.id").
		Where("u.active", "=", true)

	sql, params := mustSQL(t, q)
	assert.Equal(t,
		`SELECT * FROM "orders" LEFT JOIN users u ON u.id = orders.user_id INNER JOIN items i ON i.order_id = orders.id WHERE u.active = $1`,
		sql)
	assert.Equal(t, []any{true}, params)
}

func TestGroupBy(t *testing.T) {
	q := New("employees").
		Select("dept", "COUNT(*)").
		Where("hired_at", ">", "2020-01-01").
		GroupBy("dept").
		OrderBy("dept", "")

	sql, _ := mustSQL(t, q)
	assert.Equal(t,
		`SELECT dept, COUNT(*) FROM "employees" WHERE hired_at > $1 GROUP BY dept ORDER BY dept ASC`,
		sql)
}

func TestInsertSortedColumns(t *testing.T) {
	q := New("users").Insert(map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
	})

	sql, params := mustSQL(t, q)
	assert.Equal(t, `INSERT INTO "users" (email, name) VALUES ($1, $2)`, sql)
	assert.Equal(t, []any{"ada@example.com", "Ada"}, params)
}

func TestInsertEmptyPayload(t *testing.T) {
	_, _, err := New("users").Insert(map[string]any{}).ToSQL()

	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestInsertRows(t *testing.T) {
	q := New("users").InsertRows(
		[]string{"name", "email"},
		[][]any{
			{"Alice", "alice@example.com"},
			{"Bob", "bob@example.com"},
		},
	)

	sql, params := mustSQL(t, q)
	assert.Equal(t, `INSERT INTO "users" (name, email) VALUES ($1, $2), ($3, $4)`, sql)
	assert.Equal(t, []any{"Alice", "alice@example.com", "Bob", "bob@example.com"}, params)
}

func TestInsertRowsArityMismatch(t *testing.T) {
	q := New("users").InsertRows([]string{"name", "email"}, [][]any{{"only-one"}})

	_, _, err := q.ToSQL()
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUpsert(t *testing.T) {
	payload := map[string]any{
		"email":  "ada@example.com",
		"name":   "Ada",
		"visits": 1,
	}

	tests := []struct {
		name string
		q    *Query
		want string
	}{
		{
			name: "do nothing without target",
			q:    New("users").Insert(map[string]any{"email": "a@b"}).OnConflictDoNothing(),
			want: `INSERT INTO "users" (email) VALUES ($1) ON CONFLICT DO NOTHING`,
		},
		{
			name: "do nothing with target",
			q:    New("users").Insert(map[string]any{"email": "a@b"}).OnConflictDoNothing("email"),
			want: `INSERT INTO "users" (email) VALUES ($1) ON CONFLICT (email) DO NOTHING`,
		},
		{
			name: "do update explicit columns",
			q:    New("users").Insert(payload).OnConflictDoUpdate([]string{"email"}, "name"),
			want: `INSERT INTO "users" (email, name, visits) VALUES ($1, $2, $3) ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name`,
		},
		{
			name: "do update defaults to non-conflict columns",
			q:    New("users").Insert(payload).OnConflictDoUpdate([]string{"email"}),
			want: `INSERT INTO "users" (email, name, visits) VALUES ($1, $2, $3) ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, visits = EXCLUDED.visits`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _ := mustSQL(t, tt.q)
			assert.Equal(t, tt.want, sql)
		})
	}
}

func TestReturning(t *testing.T) {
	q := New("users").
		Insert(map[string]any{"email": "ada@example.com"}).
		Returning("id", "created_at")

	sql, _ := mustSQL(t, q)
	assert.Equal(t, `INSERT INTO "users" (email) VALUES ($1) RETURNING id, created_at`, sql)
}

func TestUpdateParamOrder(t *testing.T) {
	q := New("users").
		Update(map[string]any{"name": "Bo", "age": 7}).
		Where("id", "=", 5)

	sql, params := mustSQL(t, q)
	assert.Equal(t, `UPDATE "users" SET age = $1, name = $2 WHERE id = $3`, sql)
	assert.Equal(t, []any{7, "Bo", 5}, params, "SET params must precede WHERE params")
}

func TestUpdateEmptyPayload(t *testing.T) {
	_, _, err := New("users").Update(nil).ToSQL()

	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDelete(t *testing.T) {
	sql, params := mustSQL(t, New("users").Delete().Where("id", "=", 1))
	assert.Equal(t, `DELETE FROM "users" WHERE id = $1`, sql)
	assert.Equal(t, []any{1}, params)

	sql, params = mustSQL(t, New("sessions").Delete())
	assert.Equal(t, `DELETE FROM "sessions"`, sql)
	assert.Empty(t, params)
}

func TestKindConflictIsSticky(t *testing.T) {
	q := New("users").
		Insert(map[string]any{"a": 1}).
		Update(map[string]any{"b": 2})

	_, _, err := q.ToSQL()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidQueryState)
	assert.Contains(t, err.Error(), "already building INSERT")

	// Further chaining keeps the first error.
	q.Delete()
	_, _, err = q.ToSQL()
	assert.Contains(t, err.Error(), "already building INSERT")
}

func TestInsertRejectsWhere(t *testing.T) {
	q := New("users").
		Where("id", "=", 1).
		Insert(map[string]any{"email": "a@b"})

	_, _, err := q.ToSQL()
	assert.ErrorIs(t, err, errs.ErrInvalidQueryState)
}

func TestOrderByDirectionValidation(t *testing.T) {
	_, _, err := New("users").OrderBy("id", "sideways").ToSQL()

	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSearch(t *testing.T) {
	q := New("posts").Search("gopher", "title", "body")

	sql, params := mustSQL(t, q)
	assert.Equal(t,
		`SELECT * FROM "posts" WHERE to_tsvector('english', title || ' ' || body) @@ plainto_tsquery('english', $1)`,
		sql)
	assert.Equal(t, []any{"gopher"}, params)
}

func TestCursorAfter(t *testing.T) {
	q := New("users").After("id", 100).OrderBy("id", "ASC").Limit(3)

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT * FROM "users" WHERE id > $1 ORDER BY id ASC LIMIT $2`, sql)
	assert.Equal(t, []any{100, 3}, params)
}

func TestCloneIndependence(t *testing.T) {
	base := New("users").Select("id").Where("status", "=", "active")
	clone := base.Clone()

	base.Where("extra", "=", 1).OrderBy("id", "desc").Limit(5)

	sql, params := mustSQL(t, clone)
	assert.Equal(t, `SELECT id FROM "users" WHERE status = $1`, sql)
	assert.Equal(t, []any{"active"}, params)

	baseSQL, baseParams := mustSQL(t, base)
	assert.Equal(t, `SELECT id FROM "users" WHERE status = $1 AND extra = $2 ORDER BY id DESC LIMIT $3`, baseSQL)
	assert.Len(t, baseParams, 3)
}

func TestCloneCopiesPayload(t *testing.T) {
	payload := map[string]any{"email": "a@b"}
	base := New("users").Insert(payload)
	clone := base.Clone()

	payload["name"] = "late addition"

	cloneSQL, _ := mustSQL(t, clone)
	assert.Equal(t, `INSERT INTO "users" (email) VALUES ($1)`, cloneSQL)

	baseSQL, _ := mustSQL(t, base)
	assert.Equal(t, `INSERT INTO "users" (email, name) VALUES ($1, $2)`, baseSQL)
}

func TestCountQuery(t *testing.T) {
	base := New("users").
		Select("id", "email").
		LeftJoin("teams t", "t.id = users.team_id").
		Where("status", "=", "active").
		OrderBy("id", "desc").
		Limit(10).
		Offset(5)

	sql, params := mustSQL(t, base.CountQuery())
	assert.Equal(t,
		`SELECT COUNT(*) FROM "users" LEFT JOIN teams t ON t.id = users.team_id WHERE status = $1`,
		sql)
	assert.Equal(t, []any{"active"}, params)

	// The base query keeps its paging.
	baseSQL, _ := mustSQL(t, base)
	assert.Contains(t, baseSQL, "LIMIT")
}

func TestLiteralQuestionMarkPreserved(t *testing.T) {
	q := New("notes").WhereRaw("tag = 'a?b'").Where("id", "=", 3)

	sql, params := mustSQL(t, q)
	assert.Equal(t, `SELECT * FROM "notes" WHERE tag = 'a?b' AND id = $1`, sql)
	assert.Equal(t, []any{3}, params)
}

func TestParamAlignment(t *testing.T) {
	q := New("events").
		Select("id").
		WhereRaw("(a + b) > ?", 5).
		WhereIn("kind", []any{"x", "y"}).
		OrWhere("flag", "=", true).
		Limit(10).
		Offset(4)

	sql, params := mustSQL(t, q)
	assert.Equal(t,
		`SELECT id FROM "events" WHERE (a + b) > $1 AND kind IN ($2, $3) OR flag = $4 LIMIT $5 OFFSET $6`,
		sql)
	assert.Equal(t, []any{5, "x", "y", true, 10, 4}, params)
	assert.Equal(t, len(params), strings.Count(sql, "$"),
		"every parameter must have exactly one placeholder")
}
