package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/tabula/internal/errs"
)

func TestCreateTableSQL(t *testing.T) {
	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("email", String(), Unique(), NotNull()).
		Field("bio", Text()).
		Field("team_id", Integer(), References("teams", "id")).
		Field("created_at", Timestamp(), Default("CURRENT_TIMESTAMP")).
		Field("active", Boolean(), Default(true)).
		Field("score", Float(), Default(0)).
		Field("nick", VarChar(64))

	ddl, indexes, err := CreateTableSQL(def)
	require.NoError(t, err)
	assert.Empty(t, indexes)
	assert.Equal(t,
		`CREATE TABLE "users" (`+
			`id SERIAL PRIMARY KEY, `+
			`email VARCHAR(255) UNIQUE NOT NULL, `+
			`bio TEXT, `+
			`team_id INTEGER REFERENCES teams(id), `+
			`created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP, `+
			`active BOOLEAN DEFAULT TRUE, `+
			`score DOUBLE PRECISION DEFAULT 0, `+
			`nick VARCHAR(64))`,
		ddl)
}

func TestCreateTableConstraintsAndIndexes(t *testing.T) {
	def := New("memberships").
		Field("id", Integer(), PrimaryKey()).
		Field("user_id", Integer()).
		Field("team_id", Integer()).
		UniqueTogether("user_id", "team_id").
		ForeignKey([]string{"user_id"}, "users", []string{"id"}).
		Index("team_id").
		UniqueIndex("user_id", "team_id")

	ddl, indexes, err := CreateTableSQL(def)
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TABLE "memberships" (`+
			`id SERIAL PRIMARY KEY, `+
			`user_id INTEGER, `+
			`team_id INTEGER, `+
			`UNIQUE (user_id, team_id), `+
			`FOREIGN KEY (user_id) REFERENCES users (id))`,
		ddl)
	assert.Equal(t, []string{
		`CREATE INDEX idx_memberships_team_id ON "memberships" (team_id)`,
		`CREATE UNIQUE INDEX uniq_memberships_user_id_team_id ON "memberships" (user_id, team_id)`,
	}, indexes)
}

func TestSQLTypes(t *testing.T) {
	tests := []struct {
		name string
		typ  FieldType
		want string
	}{
		{"integer", Integer(), "INTEGER"},
		{"string", String(), "VARCHAR(255)"},
		{"text", Text(), "TEXT"},
		{"timestamp", Timestamp(), "TIMESTAMP"},
		{"boolean", Boolean(), "BOOLEAN"},
		{"float", Float(), "DOUBLE PRECISION"},
		{"varchar", VarChar(40), "VARCHAR(40)"},
		{"unmapped", FieldType{Kind: FieldKind(99)}, "VARCHAR(255)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sqlType(Field{Name: "c", Type: tt.typ}))
		})
	}
}

func TestNonIntegerPrimaryKeyIsNotSerial(t *testing.T) {
	def := New("countries").Field("code", VarChar(2), PrimaryKey())

	ddl, _, err := CreateTableSQL(def)
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "countries" (code VARCHAR(2) PRIMARY KEY)`, ddl)
}

func TestDefaultLiteral(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"keyword upper", "CURRENT_TIMESTAMP", "CURRENT_TIMESTAMP"},
		{"keyword lower", "now()", "now()"},
		{"keyword mixed", "Null", "Null"},
		{"plain string", "active", "'active'"},
		{"quoted string", "o'brien", "'o''brien'"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"int", 42, "42"},
		{"float", 2.5, "2.5"},
		{"nil", nil, "NULL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultLiteral(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultLiteralUnsupportedType(t *testing.T) {
	_, err := DefaultLiteral(struct{}{})
	assert.ErrorIs(t, err, errs.ErrSchema)

	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("meta", Text(), Default([]string{"x"}))
	_, _, err = CreateTableSQL(def)
	assert.ErrorIs(t, err, errs.ErrSchema)
}

func TestDropTableSQL(t *testing.T) {
	assert.Equal(t, `DROP TABLE IF EXISTS "users"`, DropTableSQL("users", false))
	assert.Equal(t, `DROP TABLE IF EXISTS "users" CASCADE`, DropTableSQL("users", true))
}
