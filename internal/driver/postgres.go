package driver

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres implements Driver over the pgx wire protocol (pgconn). It speaks
// the simple protocol for plain statements and the extended protocol for
// parameterized and prepared execution.
type Postgres struct{}

// NewPostgres returns the PostgreSQL driver.
func NewPostgres() *Postgres {
	return &Postgres{}
}

// Name identifies the backend.
func (d *Postgres) Name() string {
	return "postgresql"
}

// Connect opens a wire-level connection using a key=value conn string.
func (d *Postgres) Connect(ctx context.Context, info ConnInfo) (Conn, error) {
	pg, err := pgconn.Connect(ctx, info.String())
	if err != nil {
		return nil, err
	}
	return &postgresConn{pg: pg}, nil
}

// SafeToRetry reports whether err is known to have happened before any
// part of the statement reached the backend, making a retry safe even
// for writes. Errors that do not carry the information report false.
func SafeToRetry(err error) bool {
	return pgconn.SafeToRetry(err)
}

// postgresConn adapts *pgconn.PgConn to the Conn interface.
type postgresConn struct {
	pg *pgconn.PgConn
}

func (c *postgresConn) Exec(ctx context.Context, sql string) ([]Result, error) {
	raw, err := c.pg.Exec(ctx, sql).ReadAll()
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		// All-or-nothing: a failure in any result fails the whole call.
		if r.Err != nil {
			return nil, r.Err
		}
		results = append(results, convertResult(r))
	}
	return results, nil
}

func (c *postgresConn) ExecParams(ctx context.Context, sql string, params []any) (Result, error) {
	values, err := encodeParams(params)
	if err != nil {
		return Result{}, err
	}
	res := c.pg.ExecParams(ctx, sql, values, nil, nil, nil).Read()
	if res.Err != nil {
		return Result{}, res.Err
	}
	return convertResult(res), nil
}

func (c *postgresConn) Prepare(ctx context.Context, name, sql string) error {
	_, err := c.pg.Prepare(ctx, name, sql, nil)
	return err
}

func (c *postgresConn) ExecPrepared(ctx context.Context, name string, params []any) (Result, error) {
	values, err := encodeParams(params)
	if err != nil {
		return Result{}, err
	}
	res := c.pg.ExecPrepared(ctx, name, values, nil, nil).Read()
	if res.Err != nil {
		return Result{}, res.Err
	}
	return convertResult(res), nil
}

func (c *postgresConn) Deallocate(ctx context.Context, name string) error {
	return c.pg.Deallocate(ctx, name)
}

func (c *postgresConn) Alive() bool {
	return !c.pg.IsClosed()
}

func (c *postgresConn) Close(ctx context.Context) error {
	return c.pg.Close(ctx)
}

// convertResult normalizes a pgconn result. Values arrive in text format;
// a nil value pointer means SQL NULL and decodes to an invalid NullString.
func convertResult(r *pgconn.Result) Result {
	cols := make([]string, len(r.FieldDescriptions))
	for i, fd := range r.FieldDescriptions {
		cols[i] = fd.Name
	}

	rows := make([]Row, 0, len(r.Rows))
	for _, raw := range r.Rows {
		row := make(Row, len(cols))
		for i, v := range raw {
			if i >= len(cols) {
				break
			}
			if v == nil {
				row[cols[i]] = sql.NullString{}
			} else {
				row[cols[i]] = sql.NullString{String: string(v), Valid: true}
			}
		}
		rows = append(rows, row)
	}

	return Result{
		Columns:      cols,
		Rows:         rows,
		Tag:          r.CommandTag.String(),
		RowsAffected: r.CommandTag.RowsAffected(),
	}
}

// encodeParams renders Go values into PostgreSQL text-format parameters.
// nil encodes to NULL.
func encodeParams(params []any) ([][]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	values := make([][]byte, len(params))
	for i, p := range params {
		v, err := encodeParam(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

func encodeParam(p any) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return []byte(`\x` + hex.EncodeToString(v)), nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	case int:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int8:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int16:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int32:
		return []byte(strconv.FormatInt(int64(v), 10)), nil
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	case uint:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint8:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint16:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint32:
		return []byte(strconv.FormatUint(uint64(v), 10)), nil
	case uint64:
		return []byte(strconv.FormatUint(v, 10)), nil
	case float32:
		return []byte(strconv.FormatFloat(float64(v), 'g', -1, 32)), nil
	case float64:
		return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case time.Time:
		return []byte(v.Format("2006-01-02 15:04:05.999999999Z07:00")), nil
	case sql.NullString:
		if !v.Valid {
			return nil, nil
		}
		return []byte(v.String), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", p)
	}
}
