// Package drivertest provides an in-memory, scriptable driver.Driver for
// tests. Statements are matched by substring and answered from queued
// responses, and every call a connection sees is recorded for assertions.
package drivertest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coregx/tabula/internal/driver"
)

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
)

// Response is one scripted reply for a matching statement.
type Response struct {
	Results []driver.Result
	Err     error
}

// Rows builds a single-result response carrying a row set. Values are
// rendered the way a text-protocol backend would send them: nil becomes
// NULL, bools become "t"/"f", times use the timestamp wire layout.
func Rows(columns []string, rows ...[]any) Response {
	res := driver.Result{
		Columns: columns,
		Tag:     fmt.Sprintf("SELECT %d", len(rows)),
	}
	res.RowsAffected = int64(len(rows))
	for _, values := range rows {
		row := make(driver.Row, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col] = wireValue(values[i])
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return Response{Results: []driver.Result{res}}
}

// Tag builds a command response with no row set.
func Tag(tag string, affected int64) Response {
	return Response{Results: []driver.Result{{Tag: tag, RowsAffected: affected}}}
}

// Fail builds an error response.
func Fail(err error) Response {
	return Response{Err: err}
}

func wireValue(v any) sql.NullString {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}
	case sql.NullString:
		return x
	case bool:
		if x {
			return sql.NullString{String: "t", Valid: true}
		}
		return sql.NullString{String: "f", Valid: true}
	case time.Time:
		return sql.NullString{String: x.Format("2006-01-02 15:04:05.999999"), Valid: true}
	default:
		return sql.NullString{String: fmt.Sprint(x), Valid: true}
	}
}

// Call records one statement-level call seen by a connection.
type Call struct {
	// Conn is the ordinal of the connection the call arrived on.
	Conn int
	// Method is "Exec", "ExecParams", "Prepare", "ExecPrepared",
	// "Deallocate" or "Close".
	Method string
	// Name is the statement name for the prepared-statement methods.
	Name string
	// SQL is the statement text; for ExecPrepared it is the text the
	// statement was prepared with.
	SQL string
	// Params holds the bound parameters, if any.
	Params []any
}

// Driver is an in-memory driver.Driver. Script statements before use;
// unscripted statements succeed with an empty result.
type Driver struct {
	mu         sync.Mutex
	rules      []*rule
	conns      []*Conn
	calls      []Call
	connectErr error
}

type rule struct {
	substr string
	queue  []Response
}

// New returns an empty mock driver.
func New() *Driver {
	return &Driver{}
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "mock" }

// Script queues responses for statements containing substr. Responses
// are consumed in order and the last one is sticky, so scripting
// Fail(err), Fail(err), Rows(...) makes the third and every later match
// succeed. When several patterns match a statement the longest wins.
func (d *Driver) Script(substr string, responses ...Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rules {
		if r.substr == substr {
			r.queue = append(r.queue, responses...)
			return
		}
	}
	d.rules = append(d.rules, &rule{substr: substr, queue: responses})
}

// FailConnect makes every subsequent Connect return err. Pass nil to
// restore normal connects.
func (d *Driver) FailConnect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// Connect implements driver.Driver.
func (d *Driver) Connect(_ context.Context, _ driver.ConnInfo) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	c := &Conn{
		driver:   d,
		id:       len(d.conns),
		alive:    true,
		prepared: make(map[string]string),
	}
	d.conns = append(d.conns, c)
	return c, nil
}

// Conns returns every connection handed out so far, open or closed.
func (d *Driver) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// OpenConns counts connections that have not been closed.
func (d *Driver) OpenConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.Closed() {
			n++
		}
	}
	return n
}

// Calls returns every recorded call in arrival order.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsFor filters Calls by method name.
func (d *Driver) CallsFor(method string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (d *Driver) record(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

func (d *Driver) respond(sqlText string) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	var best *rule
	for _, r := range d.rules {
		if strings.Contains(sqlText, r.substr) && (best == nil || len(r.substr) > len(best.substr)) {
			best = r
		}
	}
	if best == nil || len(best.queue) == 0 {
		return Response{Results: []driver.Result{{}}}
	}
	resp := best.queue[0]
	if len(best.queue) > 1 {
		best.queue = best.queue[1:]
	}
	return resp
}

// Conn is a scripted connection. Tests can flip liveness with SetAlive
// to simulate a dropped server session.
type Conn struct {
	driver *Driver
	id     int

	mu       sync.Mutex
	alive    bool
	closed   bool
	prepared map[string]string
}

// ID returns the connection's ordinal, matching Call.Conn.
func (c *Conn) ID() int { return c.id }

// Exec implements driver.Conn.
func (c *Conn) Exec(_ context.Context, sqlText string) ([]driver.Result, error) {
	c.driver.record(Call{Conn: c.id, Method: "Exec", SQL: sqlText})
	resp := c.driver.respond(sqlText)
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Results, nil
}

// ExecParams implements driver.Conn.
func (c *Conn) ExecParams(_ context.Context, sqlText string, params []any) (driver.Result, error) {
	c.driver.record(Call{Conn: c.id, Method: "ExecParams", SQL: sqlText, Params: params})
	resp := c.driver.respond(sqlText)
	if resp.Err != nil {
		return driver.Result{}, resp.Err
	}
	return firstResult(resp.Results), nil
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(_ context.Context, name, sqlText string) error {
	c.driver.record(Call{Conn: c.id, Method: "Prepare", Name: name, SQL: sqlText})
	c.mu.Lock()
	c.prepared[name] = sqlText
	c.mu.Unlock()
	return nil
}

// ExecPrepared implements driver.Conn.
func (c *Conn) ExecPrepared(_ context.Context, name string, params []any) (driver.Result, error) {
	c.mu.Lock()
	sqlText, ok := c.prepared[name]
	c.mu.Unlock()
	c.driver.record(Call{Conn: c.id, Method: "ExecPrepared", Name: name, SQL: sqlText, Params: params})
	if !ok {
		return driver.Result{}, fmt.Errorf("prepared statement %q does not exist", name)
	}
	resp := c.driver.respond(sqlText)
	if resp.Err != nil {
		return driver.Result{}, resp.Err
	}
	return firstResult(resp.Results), nil
}

// Deallocate implements driver.Conn.
func (c *Conn) Deallocate(_ context.Context, name string) error {
	c.driver.record(Call{Conn: c.id, Method: "Deallocate", Name: name})
	c.mu.Lock()
	delete(c.prepared, name)
	c.mu.Unlock()
	return nil
}

// PreparedCount returns how many statements are currently prepared.
func (c *Conn) PreparedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prepared)
}

// Alive implements driver.Conn.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive && !c.closed
}

// SetAlive overrides the liveness the connection reports.
func (c *Conn) SetAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = alive
}

// Close implements driver.Conn.
func (c *Conn) Close(_ context.Context) error {
	c.driver.record(Call{Conn: c.id, Method: "Close"})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func firstResult(results []driver.Result) driver.Result {
	if len(results) > 0 {
		return results[0]
	}
	return driver.Result{}
}
