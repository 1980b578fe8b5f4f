// Package tabula is a connection-pooled SQL execution layer for
// PostgreSQL with blocking and non-blocking execution modes, a fluent
// query builder, schema migration from table definitions, and an
// entity repository with soft deletes, pagination and eager loading.
package tabula

import (
	"github.com/coregx/tabula/internal/analyzer"
	"github.com/coregx/tabula/internal/builder"
	"github.com/coregx/tabula/internal/config"
	"github.com/coregx/tabula/internal/core"
	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/logger"
	"github.com/coregx/tabula/internal/mapper"
	"github.com/coregx/tabula/internal/metrics"
	"github.com/coregx/tabula/internal/pool"
	"github.com/coregx/tabula/internal/schema"
	"github.com/coregx/tabula/internal/tracer"
)

type (
	// Client owns the connection pools, the execution engine and the
	// schema manager, and hands out repositories.
	Client = core.Client
	// Option configures a Client at Open time.
	Option = core.Option
	// Entity couples a table schema with repository behavior.
	Entity = core.Entity
	// EntityOption adjusts an Entity at construction.
	EntityOption = core.EntityOption
	// Repository runs CRUD, pagination and eager loading for one entity.
	Repository = core.Repository
	// Page is one offset-paginated slice of a result set.
	Page = core.Page
	// CursorPage is one keyset-paginated slice of a result set.
	CursorPage = core.CursorPage
	// CursorMeta describes the position of a cursor page.
	CursorMeta = core.CursorMeta
	// CursorOptions control keyset pagination.
	CursorOptions = core.CursorOptions
	// Stats aggregates pool occupancy and query counters.
	Stats = core.Stats

	// Query is a fluent SQL statement under construction.
	Query = builder.Query

	// Definition describes one table.
	Definition = schema.Definition
	// Field is one column of a table definition.
	Field = schema.Field
	// FieldType is a column's logical type.
	FieldType = schema.FieldType
	// Attr decorates a field at declaration.
	Attr = schema.Attr
	// Relation links a foreign-key field to its target table.
	Relation = schema.Relation
	// SchemaManager introspects live tables and applies migrations.
	SchemaManager = schema.Manager
	// Column is one live column reported by introspection.
	Column = schema.Column

	// Record is one mapped row with typed getters and relations.
	Record = mapper.Record
	// Mapping routes prefixed result columns to a related definition.
	Mapping = mapper.Mapping

	// Config carries the connection and execution settings.
	Config = config.Config

	// ConnInfo identifies a backend to connect to.
	ConnInfo = driver.ConnInfo
	// Mode selects blocking or non-blocking execution.
	Mode = driver.Mode
	// Result is the outcome of one executed statement.
	Result = driver.Result
	// Row is one result row keyed by column name.
	Row = driver.Row
	// Driver opens wire-level connections to a backend.
	Driver = driver.Driver

	// Engine executes SQL against per-mode connection pools.
	Engine = engine.Engine
	// QueryEvent describes one executed statement to hooks.
	QueryEvent = engine.QueryEvent
	// QueryHook observes executed statements.
	QueryHook = engine.QueryHook
	// Future resolves to an asynchronous result exactly once.
	Future[T any] = engine.Future[T]

	// PoolStats reports one pool's occupancy.
	PoolStats = pool.Stats
	// QueryStats snapshots the query counters.
	QueryStats = metrics.Stats
	// Metrics records query counters shared across an engine.
	Metrics = metrics.Metrics

	// Analyzer fetches and interprets EXPLAIN plans.
	Analyzer = analyzer.Analyzer
	// QueryPlan is the condensed form of one EXPLAIN output.
	QueryPlan = analyzer.QueryPlan
	// SeqScan describes one sequential scan in a plan.
	SeqScan = analyzer.SeqScan
	// Suggestion is one actionable follow-up derived from a plan.
	Suggestion = analyzer.Suggestion
	// AuditLevel selects which operations the audit trail records.
	AuditLevel = core.AuditLevel

	// Logger is the structured logging interface.
	Logger = logger.Logger
	// Tracer records query spans.
	Tracer = tracer.Tracer
)

// Execution modes.
const (
	ModeSync  = driver.ModeSync
	ModeAsync = driver.ModeAsync
)

// Audit levels.
const (
	AuditNone   = core.AuditNone
	AuditWrites = core.AuditWrites
	AuditReads  = core.AuditReads
	AuditAll    = core.AuditAll
)

// Sentinel errors, matchable through errors.Is on anything the package
// returns.
var (
	ErrConnection        = errs.ErrConnection
	ErrQuery             = errs.ErrQuery
	ErrValidation        = errs.ErrValidation
	ErrInvalidQueryState = errs.ErrInvalidQueryState
	ErrSchema            = errs.ErrSchema
	ErrNotFound          = errs.ErrNotFound
	ErrPoolClosed        = errs.ErrPoolClosed
)

// Client construction.
var (
	Open          = core.Open
	WithLogger    = core.WithLogger
	WithTracer    = core.WithTracer
	WithDriver    = core.WithDriver
	WithMetrics   = core.WithMetrics
	WithQueryHook = core.WithQueryHook
	WithAudit     = core.WithAudit

	WithAuditUser      = core.WithAuditUser
	WithAuditRequestID = core.WithAuditRequestID
)

// Entity construction.
var (
	NewEntity            = core.NewEntity
	WithTable            = core.WithTable
	WithMode             = core.WithMode
	WithSoftDeleteColumn = core.WithSoftDeleteColumn
	WithoutSoftDelete    = core.WithoutSoftDelete
	WithConnection       = core.WithConnection
)

// Schema definition.
var (
	NewDefinition = schema.New

	// Field types
	Integer   = schema.Integer
	String    = schema.String
	Text      = schema.Text
	Timestamp = schema.Timestamp
	Boolean   = schema.Boolean
	Float     = schema.Float
	VarChar   = schema.VarChar

	// Field attributes
	PrimaryKey = schema.PrimaryKey
	Unique     = schema.Unique
	NotNull    = schema.NotNull
	Default    = schema.Default
	References = schema.References
)

// Queries, configuration, records.
var (
	NewQuery = builder.New

	LoadConfig    = config.Load
	DefaultConfig = config.Default

	ParseMode = driver.ParseMode
	ParseDSN  = driver.ParseDSN

	MapRows = mapper.MapRows

	NewSlogAdapter = logger.NewSlogAdapter
	NewMetrics     = metrics.New

	// NewMetricsCollector adapts query counters to a Prometheus
	// collector.
	NewMetricsCollector = metrics.NewCollector

	// NewAnalyzer builds a plan analyzer over a client's engine.
	NewAnalyzer       = analyzer.New
	WithSlowThreshold = analyzer.WithSlowThreshold
)

// Go runs fn in a goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	return engine.Go(fn)
}
