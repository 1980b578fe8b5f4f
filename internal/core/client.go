package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coregx/tabula/internal/config"
	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/logger"
	"github.com/coregx/tabula/internal/metrics"
	"github.com/coregx/tabula/internal/pool"
	"github.com/coregx/tabula/internal/schema"
	"github.com/coregx/tabula/internal/tracer"
)

// Option adjusts a Client at Open time.
type Option func(*Client)

// WithLogger routes the client's structured logs to log.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTracer records query spans through t.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) { c.trace = t }
}

// WithDriver substitutes the wire driver, mainly for tests.
func WithDriver(drv driver.Driver) Option {
	return func(c *Client) { c.drv = drv }
}

// WithMetrics shares an existing metrics recorder instead of creating
// a fresh one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithQueryHook invokes hook after every executed statement.
func WithQueryHook(hook engine.QueryHook) Option {
	return func(c *Client) { c.hook = hook }
}

// WithAudit records executed statements in the client's log at the
// given level. Parameter values are logged as a digest, never verbatim.
func WithAudit(level AuditLevel) Option {
	return func(c *Client) { c.audit = level }
}

// binding is the execution stack serving one connection target: a pool
// per mode plus the engine over them.
type binding struct {
	pools  map[driver.Mode]*pool.Pool
	engine *engine.Engine
}

func (b *binding) close() {
	for _, p := range b.pools {
		p.Close()
	}
}

// Client is the entry point. It owns the connection pools, the
// execution engine, the schema manager and the idle reaper, and hands
// out repositories bound to entities.
type Client struct {
	cfg     config.Config
	drv     driver.Driver
	log     logger.Logger
	trace   tracer.Tracer
	metrics *metrics.Metrics
	hook    engine.QueryHook
	audit   AuditLevel

	main    *binding
	manager *schema.Manager
	reaper  *pool.Reaper

	mu       sync.Mutex
	entities map[string]*Entity
	bindings map[*Entity]*binding
	closed   bool
}

// Open validates cfg and assembles the client: one pool per execution
// mode, the engine over them and the schema manager. When
// cfg.ReapInterval is positive a background reaper sweeps connections
// stuck past their idle timeout. No connection is opened until the
// first query.
func Open(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		entities: make(map[string]*Entity),
		bindings: make(map[*Entity]*binding),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.drv == nil {
		c.drv = driver.NewPostgres()
	}
	if c.log == nil {
		c.log = &logger.NoopLogger{}
	}
	if c.trace == nil {
		c.trace = &tracer.NoopTracer{}
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.audit > AuditNone {
		c.hook = chainHooks(newAuditHook(c.log, c.audit), c.hook)
	}

	info, err := cfg.ConnInfo()
	if err != nil {
		return nil, err
	}
	c.main = c.newBinding(cfg, info)
	c.manager = schema.NewManager(c.main.engine, c.log)

	if cfg.ReapInterval > 0 {
		pools := []*pool.Pool{c.main.pools[driver.ModeSync], c.main.pools[driver.ModeAsync]}
		c.reaper = pool.NewReaper(pools, c.log, cfg.ReapInterval)
		c.reaper.Start()
	}

	c.log.Info("client opened",
		"target", info.Redacted(),
		"mode", string(cfg.DefaultMode()),
		"max_idle", cfg.MaxIdle,
	)
	return c, nil
}

// newBinding builds the two per-mode pools and the engine over them.
// Engines of every binding share the client's metrics recorder, so
// counters aggregate across connection targets.
func (c *Client) newBinding(cfg config.Config, info driver.ConnInfo) *binding {
	pools := make(map[driver.Mode]*pool.Pool, 2)
	for _, mode := range []driver.Mode{driver.ModeSync, driver.ModeAsync} {
		pools[mode] = pool.New(c.drv, pool.Options{
			Mode:         mode,
			Info:         info,
			MaxIdle:      cfg.MaxIdle,
			IdleTimeout:  cfg.IdleTimeout,
			StmtCacheCap: cfg.StmtCacheCap,
			Logger:       c.log,
		})
	}
	eng := engine.New(pools, engine.Options{
		Retries:     engineRetries(cfg.Retries),
		BackoffBase: cfg.BackoffBase,
		Database:    c.drv.Name(),
		Logger:      c.log,
		Tracer:      c.trace,
		Metrics:     c.metrics,
		Hook:        c.hook,
	})
	return &binding{pools: pools, engine: eng}
}

// engineRetries maps the config's retry count onto engine options:
// the engine treats zero as "use the default", while an explicit zero
// in the config means no retries at all.
func engineRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// Register makes entities known to the client so eager loads can
// resolve relation targets by table name.
func (c *Client) Register(entities ...*Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		c.entities[e.Table()] = e
	}
}

// entityFor resolves a registered entity by table name.
func (c *Client) entityFor(table string) (*Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[table]
	return e, ok
}

// Repository returns the CRUD interface for e. Entities carrying their
// own connection settings get a dedicated binding, opened on first use
// and swept by the same reaper.
func (c *Client) Repository(e *Entity) (*Repository, error) {
	c.Register(e)
	b, err := c.bindingFor(e)
	if err != nil {
		return nil, err
	}
	return &Repository{
		client: c,
		entity: e,
		engine: b.engine,
		mode:   e.Mode(c.cfg.DefaultMode()),
	}, nil
}

func (c *Client) bindingFor(e *Entity) (*binding, error) {
	if e.cfg == nil {
		return c.main, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errs.New(errs.ErrPoolClosed, "client is closed")
	}
	if b, ok := c.bindings[e]; ok {
		return b, nil
	}

	if err := e.cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrValidation, err, fmt.Sprintf("connection settings for %q", e.Table()))
	}
	info, err := e.cfg.ConnInfo()
	if err != nil {
		return nil, err
	}
	b := c.newBinding(*e.cfg, info)
	c.bindings[e] = b
	if c.reaper != nil {
		c.reaper.Add(b.pools[driver.ModeSync], b.pools[driver.ModeAsync])
	}
	c.log.Debug("opened dedicated binding", "table", e.Table(), "target", info.Redacted())
	return b, nil
}

// Schema returns the migration manager.
func (c *Client) Schema() *schema.Manager { return c.manager }

// Engine exposes the main execution engine for raw statements beyond
// the repository surface.
func (c *Client) Engine() *engine.Engine { return c.main.engine }

// Metrics returns the client's query counters.
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// RegisterMetrics registers the client's counters with a Prometheus
// registry.
func (c *Client) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(metrics.NewCollector(c.metrics))
}

// Execute runs a raw statement on the main binding in the client's
// default mode.
func (c *Client) Execute(ctx context.Context, sqlText string, params ...any) (driver.Result, error) {
	return c.main.engine.Execute(ctx, c.cfg.DefaultMode(), sqlText, params)
}

// Submit runs a raw statement on the async pool without blocking.
func (c *Client) Submit(ctx context.Context, sqlText string, params ...any) *engine.Future[driver.Result] {
	return c.main.engine.Submit(ctx, sqlText, params)
}

// Ping verifies connectivity by running a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.main.engine.Execute(ctx, driver.ModeSync, "SELECT 1", nil)
	return err
}

// Migrate registers the entities and reconciles their tables: missing
// tables are created, existing ones are altered toward the schema.
// Entities with their own connection settings migrate on their own
// binding.
func (c *Client) Migrate(ctx context.Context, entities ...*Entity) error {
	c.Register(entities...)
	for _, e := range entities {
		b, err := c.bindingFor(e)
		if err != nil {
			return err
		}
		m := c.manager
		if b != c.main {
			m = schema.NewManager(b.engine, c.log)
		}
		if err := m.ApplyMigrations(ctx, e.Definition()); err != nil {
			return err
		}
	}
	return nil
}

// Stats aggregates pool occupancy and query counters.
type Stats struct {
	Pools   []pool.Stats
	Queries metrics.Stats
}

// Stats snapshots every pool the client owns plus the shared query
// counters.
func (c *Client) Stats() Stats {
	s := Stats{Queries: c.metrics.Snapshot()}
	s.Pools = append(s.Pools,
		c.main.pools[driver.ModeSync].Stats(),
		c.main.pools[driver.ModeAsync].Stats(),
	)
	c.mu.Lock()
	for _, b := range c.bindings {
		s.Pools = append(s.Pools,
			b.pools[driver.ModeSync].Stats(),
			b.pools[driver.ModeAsync].Stats(),
		)
	}
	c.mu.Unlock()
	return s
}

// Close stops the reaper and closes every pool, dedicated bindings
// included. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	bindings := make([]*binding, 0, len(c.bindings)+1)
	bindings = append(bindings, c.main)
	for _, b := range c.bindings {
		bindings = append(bindings, b)
	}
	c.mu.Unlock()

	if c.reaper != nil {
		c.reaper.Shutdown()
	}
	for _, b := range bindings {
		b.close()
	}
	c.log.Info("client closed")
	return nil
}
