package driver

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnInfoString(t *testing.T) {
	tests := []struct {
		name string
		info ConnInfo
		want string
	}{
		{
			name: "full",
			info: ConnInfo{
				Host:     "db.internal",
				Port:     5433,
				User:     "app",
				Password: "hunter2",
				Database: "orders",
			},
			want: "host=db.internal port=5433 dbname=orders user=app password=hunter2",
		},
		{
			name: "defaults",
			info: ConnInfo{Database: "orders"},
			want: "host=localhost port=5432 dbname=orders",
		},
		{
			name: "options sorted",
			info: ConnInfo{
				Host:     "db",
				Port:     5432,
				Database: "d",
				Options:  map[string]string{"sslmode": "disable", "application_name": "tabula"},
			},
			want: "host=db port=5432 dbname=d application_name=tabula sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestConnInfoRedacted(t *testing.T) {
	info := ConnInfo{Host: "db", Port: 5432, User: "app", Password: "hunter2", Database: "d"}

	masked := info.Redacted()
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "password=***")
	// Redacting must not mutate the original.
	assert.Contains(t, info.String(), "password=hunter2")
}

func TestParseDSN(t *testing.T) {
	info, err := ParseDSN("host=db.internal port=5433 dbname=orders user=app password=hunter2 sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, ConnInfo{
		Host:     "db.internal",
		Port:     5433,
		User:     "app",
		Password: "hunter2",
		Database: "orders",
		Options:  map[string]string{"sslmode": "disable"},
	}, info)

	// Round trip through String.
	again, err := ParseDSN(info.String())
	require.NoError(t, err)
	assert.Equal(t, info, again)

	_, err = ParseDSN("host=db port=abc")
	assert.Error(t, err)
	_, err = ParseDSN("host")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("sync")
	require.NoError(t, err)
	assert.Equal(t, ModeSync, m)

	m, err = ParseMode("ASYNC")
	require.NoError(t, err)
	assert.Equal(t, ModeAsync, m)

	_, err = ParseMode("turbo")
	assert.Error(t, err)
}

func TestEncodeParams(t *testing.T) {
	ts := time.Date(2024, 3, 9, 12, 30, 45, 0, time.UTC)

	values, err := encodeParams([]any{
		nil,
		"text",
		int64(42),
		3.14,
		true,
		ts,
		[]byte{0xde, 0xad},
		sql.NullString{},
		sql.NullString{String: "set", Valid: true},
	})
	require.NoError(t, err)
	require.Len(t, values, 9)

	assert.Nil(t, values[0], "nil encodes to NULL")
	assert.Equal(t, "text", string(values[1]))
	assert.Equal(t, "42", string(values[2]))
	assert.Equal(t, "3.14", string(values[3]))
	assert.Equal(t, "true", string(values[4]))
	assert.Equal(t, "2024-03-09 12:30:45Z", string(values[5]))
	assert.Equal(t, `\xdead`, string(values[6]))
	assert.Nil(t, values[7], "invalid NullString encodes to NULL")
	assert.Equal(t, "set", string(values[8]))
}

func TestEncodeParamsUnsupported(t *testing.T) {
	_, err := encodeParams([]any{struct{ X int }{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported parameter type")
}

func TestRowAccessors(t *testing.T) {
	row := Row{
		"name":  sql.NullString{String: "Ada", Valid: true},
		"email": sql.NullString{},
	}

	assert.Equal(t, "Ada", row.String("name"))
	assert.Equal(t, "", row.String("email"), "NULL reads as empty string")
	assert.Equal(t, "", row.String("missing"))

	assert.False(t, row.IsNull("name"))
	assert.True(t, row.IsNull("email"))
	assert.True(t, row.IsNull("missing"))

	assert.True(t, row.Has("email"), "NULL column still exists")
	assert.False(t, row.Has("missing"))

	v, ok := row.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v.String)

	assert.ElementsMatch(t, []string{"name", "email"}, row.Keys())
}

func TestPostgresDriverName(t *testing.T) {
	assert.Equal(t, "postgresql", NewPostgres().Name())
}
