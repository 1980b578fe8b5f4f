// Package driver defines the wire-level contract between Tabula and a
// relational backend. A Driver opens connections; a Conn sends SQL over the
// simple or extended protocol and reports every value as text, with nil
// standing for SQL NULL.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mode selects the execution mode a connection belongs to. Connections in
// the two modes come from independent pools and are never shared.
type Mode string

const (
	// ModeSync is the blocking execution mode.
	ModeSync Mode = "sync"
	// ModeAsync is the non-blocking execution mode.
	ModeAsync Mode = "async"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeSync:
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// ConnInfo carries everything needed to open a connection.
type ConnInfo struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Options holds extra key=value connection parameters (e.g. sslmode).
	Options map[string]string
}

// String renders the info as a key=value connection string.
// Empty fields fall back to the usual PostgreSQL defaults.
func (ci ConnInfo) String() string {
	host := ci.Host
	if host == "" {
		host = "localhost"
	}
	port := ci.Port
	if port == 0 {
		port = 5432
	}

	dsn := fmt.Sprintf("host=%s port=%d", host, port)
	if ci.Database != "" {
		dsn += " dbname=" + ci.Database
	}
	if ci.User != "" {
		dsn += " user=" + ci.User
	}
	if ci.Password != "" {
		dsn += " password=" + ci.Password
	}

	// Deterministic option order keeps the string stable for logging and tests.
	keys := make([]string, 0, len(ci.Options))
	for k := range ci.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dsn += " " + k + "=" + ci.Options[k]
	}
	return dsn
}

// ParseDSN parses a key=value connection string back into ConnInfo, the
// inverse of String. Recognized keys are host, port, user, password and
// dbname; anything else lands in Options. Quoted values are not supported.
func ParseDSN(dsn string) (ConnInfo, error) {
	var info ConnInfo
	for _, tok := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return ConnInfo{}, fmt.Errorf("malformed connection string near %q", tok)
		}
		switch key {
		case "host":
			info.Host = value
		case "port":
			p, err := strconv.Atoi(value)
			if err != nil {
				return ConnInfo{}, fmt.Errorf("invalid port %q in connection string", value)
			}
			info.Port = p
		case "user":
			info.User = value
		case "password":
			info.Password = value
		case "dbname":
			info.Database = value
		default:
			if info.Options == nil {
				info.Options = make(map[string]string)
			}
			info.Options[key] = value
		}
	}
	return info, nil
}

// Redacted renders the connection string with the password masked,
// safe for logs.
func (ci ConnInfo) Redacted() string {
	masked := ci
	if masked.Password != "" {
		masked.Password = "***"
	}
	return masked.String()
}

// Driver opens wire-level connections to a backend.
type Driver interface {
	// Name identifies the backend (e.g. "postgresql").
	Name() string
	// Connect opens a new connection. The returned Conn is not pooled;
	// pooling happens a layer above.
	Connect(ctx context.Context, info ConnInfo) (Conn, error)
}

// Conn is a single wire-level connection. A Conn supports exactly one
// in-flight query at a time; concurrent queries need distinct connections.
type Conn interface {
	// Exec sends sql over the simple protocol. A single dispatched string
	// may yield multiple results (e.g. semicolon-separated statements);
	// all of them are returned. An error anywhere fails the whole call,
	// even if earlier results in the batch succeeded.
	Exec(ctx context.Context, sql string) ([]Result, error)

	// ExecParams sends a parameterized query over the extended protocol
	// without a named prepared statement. Placeholders use $1..$n.
	ExecParams(ctx context.Context, sql string, params []any) (Result, error)

	// Prepare creates a named server-side prepared statement.
	Prepare(ctx context.Context, name, sql string) error
	// ExecPrepared executes a previously prepared statement.
	ExecPrepared(ctx context.Context, name string, params []any) (Result, error)
	// Deallocate releases a prepared statement on the server.
	Deallocate(ctx context.Context, name string) error

	// Alive reports whether the connection is still usable. It is a local
	// status check and must not perform a round trip.
	Alive() bool
	// Close terminates the connection.
	Close(ctx context.Context) error
}

// Result is one normalized query result.
type Result struct {
	// Columns lists column names in wire order; empty for command results.
	Columns []string
	// Rows holds the decoded rows; empty for command results.
	Rows []Row
	// Tag is the backend's command status tag (e.g. "INSERT 0 1").
	Tag string
	// RowsAffected is the row count parsed from the command tag.
	RowsAffected int64
}

// Row maps column names to nullable text values as decoded from the wire.
// A NULL column decodes to an invalid sql.NullString, never the text "null".
type Row map[string]sql.NullString

// String returns the value for key, or "" when absent or NULL.
func (r Row) String(key string) string {
	if v, ok := r[key]; ok && v.Valid {
		return v.String
	}
	return ""
}

// IsNull reports whether the value for key is NULL or absent.
func (r Row) IsNull(key string) bool {
	v, ok := r[key]
	return !ok || !v.Valid
}

// Has reports whether the column exists in the row, NULL or not.
func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Keys returns all column names in the row.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// Get returns the raw nullable value and whether the column exists.
func (r Row) Get(key string) (sql.NullString, bool) {
	v, ok := r[key]
	return v, ok
}
