package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersDef() *Definition {
	return New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("email", String(), Unique(), NotNull()).
		Field("bio", Text()).
		Field("team_id", Integer(), References("teams", "id")).
		Field("created_at", Timestamp(), Default("CURRENT_TIMESTAMP")).
		Field("active", Boolean(), Default(true)).
		Field("score", Float(), Default(0)).
		Field("nick", VarChar(64))
}

// liveUsers mirrors usersDef the way information_schema reports it
// after the generated CREATE TABLE ran.
func liveUsers() []Column {
	return []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "email", DataType: "character varying(255)", Nullable: false},
		{Name: "bio", DataType: "text", Nullable: true},
		{Name: "team_id", DataType: "integer", Nullable: true},
		{Name: "created_at", DataType: "timestamp without time zone", Nullable: true, Default: "now()"},
		{Name: "active", DataType: "boolean", Nullable: true, Default: "true"},
		{Name: "score", DataType: "double precision", Nullable: true, Default: "0"},
		{Name: "nick", DataType: "character varying(64)", Nullable: true},
	}
}

func TestAlterTableSQLUnchangedSchemaIsEmpty(t *testing.T) {
	def := usersDef()

	stmts, err := AlterTableSQL(def, liveUsers())
	require.NoError(t, err)
	assert.Empty(t, stmts)

	// Nothing to apply means a second run sees the same live schema
	// and must also produce nothing.
	stmts, err = AlterTableSQL(def, liveUsers())
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func TestAlterAddsMissingColumn(t *testing.T) {
	def := usersDef().Field("age", Integer(), Default(0))

	stmts, err := AlterTableSQL(def, liveUsers())
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ADD COLUMN age INTEGER DEFAULT 0`,
	}, stmts)
}

func TestAlterRetypesDivergedColumn(t *testing.T) {
	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("bio", String())
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "bio", DataType: "text", Nullable: true},
	}

	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN bio TYPE VARCHAR(255)`,
	}, stmts)
}

func TestAlterNullability(t *testing.T) {
	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("email", String(), NotNull()).
		Field("nick", VarChar(64))
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "email", DataType: "character varying(255)", Nullable: true},
		{Name: "nick", DataType: "character varying(64)", Nullable: false},
	}

	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN email SET NOT NULL`,
		`ALTER TABLE "users" ALTER COLUMN nick DROP NOT NULL`,
	}, stmts)
}

func TestAlterPrimaryKeyKeepsNotNull(t *testing.T) {
	def := New("users").Field("id", Integer(), PrimaryKey())

	// A healthy primary key produces nothing.
	stmts, err := AlterTableSQL(def, []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
	})
	require.NoError(t, err)
	assert.Empty(t, stmts)

	// A nullable one is tightened, never the other way around.
	stmts, err = AlterTableSQL(def, []Column{
		{Name: "id", DataType: "integer", Nullable: true, Default: "nextval('users_id_seq'::regclass)"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN id SET NOT NULL`,
	}, stmts)
}

func TestAlterDefaults(t *testing.T) {
	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("active", Boolean(), Default(true)).
		Field("bio", Text())
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "active", DataType: "boolean", Nullable: true},
		{Name: "bio", DataType: "text", Nullable: true, Default: "'x'::text"},
	}

	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN active SET DEFAULT TRUE`,
		`ALTER TABLE "users" ALTER COLUMN bio DROP DEFAULT`,
	}, stmts)
}

func TestAlterLiveCastsCompareEqual(t *testing.T) {
	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("status", String(), Default("active"))
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "status", DataType: "character varying(255)", Nullable: true, Default: "'active'::character varying"},
	}

	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

func TestAlterSequenceDefaults(t *testing.T) {
	def := New("counters").
		Field("id", Integer(), PrimaryKey()).
		Field("seq", Integer(), NotNull())
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('counters_id_seq'::regclass)"},
		{Name: "seq", DataType: "integer", Nullable: false, Default: "nextval('counters_seq_seq'::regclass)"},
	}

	// A sequence default with no declared default stays untouched.
	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Empty(t, stmts)

	// An explicit declared default overrides the sequence.
	def = New("counters").
		Field("id", Integer(), PrimaryKey()).
		Field("seq", Integer(), NotNull(), Default(0))
	stmts, err = AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "counters" ALTER COLUMN seq SET DEFAULT 0`,
	}, stmts)
}

func TestAlterDropsUnknownColumnsButKeepsLifecycle(t *testing.T) {
	def := New("users").Field("id", Integer(), PrimaryKey())
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "legacy", DataType: "text", Nullable: true},
		{Name: "created_at", DataType: "timestamp without time zone", Nullable: true},
		{Name: "updated_at", DataType: "timestamp without time zone", Nullable: true},
		{Name: "deleted_at", DataType: "timestamp without time zone", Nullable: true},
	}

	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" DROP COLUMN legacy`,
	}, stmts)
}

func TestAlterStatementOrder(t *testing.T) {
	def := New("users").
		Field("id", Integer(), PrimaryKey()).
		Field("email", String(), NotNull()).
		Field("age", Integer())
	current := []Column{
		{Name: "id", DataType: "integer", Nullable: false, Default: "nextval('users_id_seq'::regclass)"},
		{Name: "email", DataType: "text", Nullable: true},
		{Name: "legacy", DataType: "text", Nullable: true},
	}

	stmts, err := AlterTableSQL(def, current)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "users" ALTER COLUMN email TYPE VARCHAR(255)`,
		`ALTER TABLE "users" ALTER COLUMN email SET NOT NULL`,
		`ALTER TABLE "users" ADD COLUMN age INTEGER`,
		`ALTER TABLE "users" DROP COLUMN legacy`,
	}, stmts)
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERIAL", "integer"},
		{"integer", "integer"},
		{"timestamp without time zone", "timestamp"},
		{"TIMESTAMP", "timestamp"},
		{"character varying(255)", "varchar(255)"},
		{"VARCHAR(255)", "varchar(255)"},
		{"double precision", "double precision"},
		{"text", "text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeType(tt.in), "normalizeType(%q)", tt.in)
	}
}
