// Package engine dispatches SQL through the connection pools with
// retry, backoff, metrics, tracing and structured logging.
//
// The engine is mode-agnostic plumbing: Execute blocks the calling
// goroutine, Submit runs the same path on its own goroutine against the
// async pool and hands back a Future. Either way a connection is
// acquired for the whole operation and released on every exit path.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/logger"
	"github.com/coregx/tabula/internal/metrics"
	"github.com/coregx/tabula/internal/pool"
	"github.com/coregx/tabula/internal/tracer"
)

const (
	// DefaultRetries is how many extra attempts follow a failed one.
	DefaultRetries = 3
	// DefaultBackoffBase is the first retry delay; it doubles per retry.
	DefaultBackoffBase = 200 * time.Millisecond
)

// QueryEvent describes one finished operation, handed to the QueryHook.
type QueryEvent struct {
	// SQL is the executed statement text.
	SQL string
	// Params are the bound parameters.
	Params []any
	// Mode is the execution mode the operation ran in.
	Mode driver.Mode
	// Duration is the total wall time including retries and backoff.
	Duration time.Duration
	// RowsAffected is the affected-row count reported by the backend.
	RowsAffected int64
	// Attempts is how many attempts ran, 1 when the first succeeded.
	Attempts int
	// Error is the terminal error, nil on success.
	Error error
	// Operation is the detected statement kind (SELECT, INSERT, ...).
	Operation string
}

// QueryHook is a callback invoked after each operation, for logging,
// metrics or debugging beyond what the engine records itself.
type QueryHook func(ctx context.Context, event QueryEvent)

// Options configure an Engine. Zero fields take the package defaults.
type Options struct {
	// Retries is the number of extra attempts; negative disables retrying.
	Retries int
	// BackoffBase is the first retry delay.
	BackoffBase time.Duration
	// Database names the backend for tracing attributes (e.g. "postgresql").
	Database string
	Logger   logger.Logger
	Tracer   tracer.Tracer
	Metrics  *metrics.Metrics
	Hook     QueryHook
	// Sanitizer masks sensitive parameters before they reach the log.
	Sanitizer *logger.Sanitizer
}

// Engine executes SQL against per-mode connection pools.
type Engine struct {
	pools       map[driver.Mode]*pool.Pool
	retries     int
	backoffBase time.Duration
	database    string

	log       logger.Logger
	trace     tracer.Tracer
	metrics   *metrics.Metrics
	hook      QueryHook
	sanitizer *logger.Sanitizer
}

// New creates an engine over the given pools, one per execution mode.
func New(pools map[driver.Mode]*pool.Pool, opts Options) *Engine {
	if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	} else if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.Database == "" {
		opts.Database = "postgresql"
	}
	if opts.Logger == nil {
		opts.Logger = &logger.NoopLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = &tracer.NoopTracer{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = logger.NewSanitizer(nil)
	}
	return &Engine{
		pools:       pools,
		retries:     opts.Retries,
		backoffBase: opts.BackoffBase,
		database:    opts.Database,
		log:         opts.Logger,
		trace:       opts.Tracer,
		metrics:     opts.Metrics,
		hook:        opts.Hook,
		sanitizer:   opts.Sanitizer,
	}
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Execute runs sql in the given mode and blocks until it finishes.
// Failed attempts are retried with exponential backoff; the terminal
// error wraps ErrQuery and preserves the driver's message. The
// connection is acquired from the mode's pool and released on every
// exit path, success or not.
func (e *Engine) Execute(ctx context.Context, mode driver.Mode, sqlText string, params []any) (driver.Result, error) {
	p, ok := e.pools[mode]
	if !ok {
		return driver.Result{}, errs.New(errs.ErrConnection, fmt.Sprintf("no pool for mode %q", mode))
	}

	ctx, span := e.trace.StartSpan(ctx, "tabula.query.execute")
	defer span.End()

	start := time.Now()
	res, attempts, err := e.executeOnPool(ctx, p, sqlText, params)
	elapsed := time.Since(start)

	e.logOutcome(sqlText, params, mode, res, err, elapsed, attempts)
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:          sqlText,
		Args:         params,
		Duration:     elapsed,
		RowsAffected: res.RowsAffected,
		Error:        err,
		Database:     e.database,
		Operation:    tracer.DetectOperation(sqlText),
	})
	if e.hook != nil {
		e.hook(ctx, QueryEvent{
			SQL:          sqlText,
			Params:       params,
			Mode:         mode,
			Duration:     elapsed,
			RowsAffected: res.RowsAffected,
			Attempts:     attempts,
			Error:        err,
			Operation:    tracer.DetectOperation(sqlText),
		})
	}
	return res, err
}

// Submit dispatches sql on the async pool without blocking the caller.
// The returned future resolves exactly once, after the serving
// connection is back in its pool.
func (e *Engine) Submit(ctx context.Context, sqlText string, params []any) *Future[driver.Result] {
	f := NewFuture[driver.Result]()
	go func() {
		res, err := e.Execute(ctx, driver.ModeAsync, sqlText, params)
		f.resolve(res, err)
	}()
	return f
}

func (e *Engine) executeOnPool(ctx context.Context, p *pool.Pool, sqlText string, params []any) (driver.Result, int, error) {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return driver.Result{}, 0, err
	}
	defer p.Release(pc)
	return e.attemptLoop(ctx, pc, sqlText, params)
}

// attemptLoop runs the attempt/backoff cycle on one connection. Metrics
// count every failed attempt and exactly one success; only the
// successful attempt's duration feeds the latency total.
func (e *Engine) attemptLoop(ctx context.Context, pc *pool.PooledConn, sqlText string, params []any) (driver.Result, int, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			if err := e.backoff(ctx, attempt-1); err != nil {
				return driver.Result{}, attempt, err
			}
		}

		attemptStart := time.Now()
		res, err := e.dispatch(ctx, pc, sqlText, params)
		if err == nil {
			pc.Touch()
			e.metrics.RecordSuccess(time.Since(attemptStart))
			return res, attempt + 1, nil
		}

		lastErr = err
		e.metrics.RecordFailure()
		e.log.Warn("query attempt failed",
			"sql", sqlText,
			"attempt", attempt+1,
			"max_attempts", e.retries+1,
			"safe_to_retry", driver.SafeToRetry(err),
			"error", err)
	}
	return driver.Result{}, e.retries + 1,
		errs.Wrap(errs.ErrQuery, lastErr, fmt.Sprintf("query failed after %d attempts", e.retries+1))
}

// backoff sleeps base << n, aborting early on context cancellation.
func (e *Engine) backoff(ctx context.Context, n int) error {
	timer := time.NewTimer(e.backoffBase << n)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.ErrQuery, ctx.Err(), "cancelled during retry backoff")
	}
}

// dispatch sends one attempt over the wire. Parameterless statements go
// over the simple protocol and may carry multiple results; parameterized
// ones run as named prepared statements through the connection's cache.
func (e *Engine) dispatch(ctx context.Context, pc *pool.PooledConn, sqlText string, params []any) (driver.Result, error) {
	if len(params) == 0 {
		results, err := pc.Conn().Exec(ctx, sqlText)
		if err != nil {
			return driver.Result{}, err
		}
		return mergeResults(results), nil
	}
	return e.execPrepared(ctx, pc, sqlText, params)
}

func (e *Engine) execPrepared(ctx context.Context, pc *pool.PooledConn, sqlText string, params []any) (driver.Result, error) {
	name, ok := pc.Stmts().Get(sqlText)
	if !ok {
		name = pc.NextStatementName()
		if err := pc.Conn().Prepare(ctx, name, sqlText); err != nil {
			return driver.Result{}, err
		}
		pc.Stmts().Set(sqlText, name)
	}
	return pc.Conn().ExecPrepared(ctx, name, params)
}

// mergeResults folds a multi-statement batch into one result: rows
// accumulate across every tuples-bearing result, affected counts sum,
// and the last command tag wins.
func mergeResults(results []driver.Result) driver.Result {
	if len(results) == 1 {
		return results[0]
	}
	var merged driver.Result
	for _, r := range results {
		if len(r.Columns) > 0 && merged.Columns == nil {
			merged.Columns = r.Columns
		}
		merged.Rows = append(merged.Rows, r.Rows...)
		merged.RowsAffected += r.RowsAffected
		if r.Tag != "" {
			merged.Tag = r.Tag
		}
	}
	return merged
}

func (e *Engine) logOutcome(sqlText string, params []any, mode driver.Mode, res driver.Result, err error, elapsed time.Duration, attempts int) {
	masked := e.sanitizer.FormatParams(e.sanitizer.MaskParams(sqlText, params))

	if err != nil {
		e.log.Error("query execution failed",
			"sql", sqlText,
			"params", masked,
			"mode", string(mode),
			"duration_ms", elapsed.Milliseconds(),
			"attempts", attempts,
			"database", e.database,
			"error", err,
		)
		return
	}
	e.log.Info("query executed",
		"sql", sqlText,
		"params", masked,
		"mode", string(mode),
		"duration_ms", elapsed.Milliseconds(),
		"rows", len(res.Rows),
		"rows_affected", res.RowsAffected,
		"database", e.database,
	)
}
