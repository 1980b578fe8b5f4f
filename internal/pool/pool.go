// Package pool manages wire connections for one execution mode.
//
// A Pool keeps released connections in a bounded LIFO idle set and opens
// new ones on demand. Liveness is not checked on acquire; a connection
// proves itself on use and is discarded on release if its status check
// fails. Each pooled connection owns a prepared-statement cache that
// lives and dies with it.
package pool

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coregx/tabula/internal/cache"
	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/logger"
)

const (
	// DefaultMaxIdle is the idle-set ceiling per pool.
	DefaultMaxIdle = 10
	// DefaultIdleTimeout is how long an in-use connection may sit
	// untouched before a sweep reclaims it.
	DefaultIdleTimeout = 60 * time.Second
)

// Options configure a Pool. Zero fields take the package defaults.
type Options struct {
	Mode         driver.Mode
	Info         driver.ConnInfo
	MaxIdle      int
	IdleTimeout  time.Duration
	StmtCacheCap int
	Logger       logger.Logger
}

// Pool owns the connections of one execution mode. Pools of different
// modes never share connections or statement caches.
type Pool struct {
	mode driver.Mode
	drv  driver.Driver
	info driver.ConnInfo
	log  logger.Logger

	maxIdle      int
	idleTimeout  time.Duration
	stmtCacheCap int

	mu     sync.Mutex
	idle   []*PooledConn
	inUse  map[*PooledConn]struct{}
	closed bool
}

// New creates a pool that opens connections through drv.
func New(drv driver.Driver, opts Options) *Pool {
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = DefaultMaxIdle
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.StmtCacheCap <= 0 {
		opts.StmtCacheCap = cache.DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = &logger.NoopLogger{}
	}
	return &Pool{
		mode:         opts.Mode,
		drv:          drv,
		info:         opts.Info,
		log:          opts.Logger,
		maxIdle:      opts.MaxIdle,
		idleTimeout:  opts.IdleTimeout,
		stmtCacheCap: opts.StmtCacheCap,
		inUse:        make(map[*PooledConn]struct{}),
	}
}

// Mode returns the execution mode this pool serves.
func (p *Pool) Mode() driver.Mode { return p.mode }

// Acquire returns an idle connection or opens a new one. The returned
// connection is recorded as in use until Release.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.New(errs.ErrPoolClosed, string(p.mode)+" pool is closed")
	}
	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[pc] = struct{}{}
		p.mu.Unlock()
		pc.Touch()
		return pc, nil
	}
	p.mu.Unlock()

	// Dial outside the lock so a slow connect does not stall the pool.
	conn, err := p.drv.Connect(ctx, p.info)
	if err != nil {
		return nil, errs.Wrap(errs.ErrConnection, err, "open "+string(p.mode)+" connection")
	}
	pc := newPooledConn(conn, p.stmtCacheCap)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pc.close()
		return nil, errs.New(errs.ErrPoolClosed, string(p.mode)+" pool is closed")
	}
	p.inUse[pc] = struct{}{}
	p.mu.Unlock()

	p.log.Debug("connection opened",
		"mode", string(p.mode),
		"target", p.info.Redacted())
	return pc, nil
}

// Release returns a connection to the pool. A live connection goes back
// to the idle set when there is room; a dead or surplus one is closed
// and its statement cache invalidated, keeping poisoned connections out
// of circulation.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	alive := pc.conn.Alive()

	p.mu.Lock()
	delete(p.inUse, pc)
	if alive && !p.closed && len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if !alive {
		p.log.Warn("discarding dead connection", "mode", string(p.mode))
	}
	pc.close()
}

// ReapIdle closes every in-use connection whose last use is older than
// the idle timeout, reclaiming connections that were never released.
// It returns the number of connections closed. Callers drive it
// periodically; it never runs implicitly.
func (p *Pool) ReapIdle(now time.Time) int {
	p.mu.Lock()
	var stale []*PooledConn
	for pc := range p.inUse {
		if now.Sub(pc.LastUsed()) > p.idleTimeout {
			delete(p.inUse, pc)
			stale = append(stale, pc)
		}
	}
	p.mu.Unlock()

	for _, pc := range stale {
		pc.close()
	}
	if len(stale) > 0 {
		p.log.Warn("reaped connections stuck in use",
			"mode", string(p.mode),
			"count", len(stale),
			"idle_timeout", p.idleTimeout)
	}
	return len(stale)
}

// Stats reports the pool's current occupancy.
type Stats struct {
	Mode  driver.Mode
	Idle  int
	InUse int
}

// Stats returns a snapshot of the pool's occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Mode: p.mode, Idle: len(p.idle), InUse: len(p.inUse)}
}

// Close shuts the pool down and closes every connection, idle and in
// use. Further Acquire calls fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*PooledConn, 0, len(p.idle)+len(p.inUse))
	conns = append(conns, p.idle...)
	for pc := range p.inUse {
		conns = append(conns, pc)
	}
	p.idle = nil
	p.inUse = make(map[*PooledConn]struct{})
	p.mu.Unlock()

	for _, pc := range conns {
		pc.close()
	}
	p.log.Debug("pool closed", "mode", string(p.mode), "connections", len(conns))
}

// PooledConn couples a wire connection with its statement cache and
// last-use bookkeeping.
type PooledConn struct {
	conn  driver.Conn
	stmts *cache.StmtCache

	stmtSeq atomic.Uint64

	mu       sync.Mutex
	lastUsed time.Time
}

func newPooledConn(conn driver.Conn, stmtCacheCap int) *PooledConn {
	pc := &PooledConn{conn: conn, lastUsed: time.Now()}
	// Evicted statements are deallocated on the server so the session
	// does not accumulate orphans. Best effort: a dead connection frees
	// them when it goes away.
	pc.stmts = cache.New(stmtCacheCap, func(name string) {
		_ = conn.Deallocate(context.Background(), name)
	})
	return pc
}

// Conn exposes the wire connection.
func (pc *PooledConn) Conn() driver.Conn { return pc.conn }

// Stmts exposes the connection's prepared-statement cache.
func (pc *PooledConn) Stmts() *cache.StmtCache { return pc.stmts }

// Touch marks the connection as used now, deferring the reap sweep.
func (pc *PooledConn) Touch() {
	pc.mu.Lock()
	pc.lastUsed = time.Now()
	pc.mu.Unlock()
}

// LastUsed returns the time of the most recent Touch.
func (pc *PooledConn) LastUsed() time.Time {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastUsed
}

// NextStatementName returns a statement name unique on this connection.
func (pc *PooledConn) NextStatementName() string {
	return "tabula_stmt_" + strconv.FormatUint(pc.stmtSeq.Add(1), 10)
}

// close terminates the wire connection, then clears the statement cache.
// Clearing after close keeps the eviction callback from reaching a
// server that still considers the statements live.
func (pc *PooledConn) close() {
	_ = pc.conn.Close(context.Background())
	pc.stmts.Clear()
}
