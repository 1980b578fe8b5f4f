package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/drivertest"
	"github.com/coregx/tabula/internal/errs"
)

func newTestPool(t *testing.T, d *drivertest.Driver, opts Options) *Pool {
	t.Helper()
	if opts.Mode == "" {
		opts.Mode = driver.ModeSync
	}
	opts.Logger = drivertest.NewTestLogger(t)
	p := New(d, opts)
	t.Cleanup(p.Close)
	return p
}

func backdate(pc *PooledConn, d time.Duration) {
	pc.mu.Lock()
	pc.lastUsed = pc.lastUsed.Add(-d)
	pc.mu.Unlock()
}

func TestAcquireReusesReleased(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, pc, again)
	assert.Equal(t, 1, d.OpenConns())
}

func TestAcquireIsLIFO(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	second, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(first)
	p.Release(second)

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, got, "most recently released connection should come back first")
}

func TestReleaseDeadConnection(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	pc.Stmts().Set("SELECT 1", "tabula_stmt_1")

	mock := pc.Conn().(*drivertest.Conn)
	mock.SetAlive(false)
	p.Release(pc)

	assert.True(t, mock.Closed())
	assert.Zero(t, pc.Stmts().Len(), "statement cache should be purged with the connection")

	deallocs := d.CallsFor("Deallocate")
	require.Len(t, deallocs, 1)
	assert.Equal(t, "tabula_stmt_1", deallocs[0].Name)

	fresh, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, pc, fresh)
}

func TestReleaseBeyondMaxIdleCloses(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{MaxIdle: 1})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(a)
	p.Release(b)

	assert.Equal(t, 1, p.Stats().Idle)
	assert.True(t, b.Conn().(*drivertest.Conn).Closed())
	assert.Equal(t, 1, d.OpenConns())
}

func TestAcquireConnectError(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})
	d.FailConnect(errors.New(`no pg_hba.conf entry for host "10.0.0.7"`))

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConnection)
	assert.Contains(t, err.Error(), "pg_hba.conf", "driver error text must survive wrapping")
}

func TestReapIdleClosesStaleInUse(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{IdleTimeout: time.Minute})

	stale, err := p.Acquire(context.Background())
	require.NoError(t, err)
	fresh, err := p.Acquire(context.Background())
	require.NoError(t, err)

	backdate(stale, 2*time.Minute)

	assert.Equal(t, 1, p.ReapIdle(time.Now()))
	assert.True(t, stale.Conn().(*drivertest.Conn).Closed())
	assert.False(t, fresh.Conn().(*drivertest.Conn).Closed())
	assert.Equal(t, 1, p.Stats().InUse)
}

func TestReapIdleIgnoresIdleSet(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{IdleTimeout: time.Minute})

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(pc)
	backdate(pc, 2*time.Minute)

	assert.Zero(t, p.ReapIdle(time.Now()))
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestAcquireAfterClose(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})
	p.Close()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, errs.ErrPoolClosed)
}

func TestCloseClosesEverything(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(idle)

	p.Close()

	assert.True(t, held.Conn().(*drivertest.Conn).Closed())
	assert.True(t, idle.Conn().(*drivertest.Conn).Closed())
	assert.Zero(t, d.OpenConns())

	s := p.Stats()
	assert.Zero(t, s.Idle)
	assert.Zero(t, s.InUse)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{MaxIdle: 4})

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				pc, err := p.Acquire(context.Background())
				if err != nil {
					return err
				}
				p.Release(pc)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	s := p.Stats()
	assert.Zero(t, s.InUse)
	assert.LessOrEqual(t, s.Idle, 4)
}

func TestNextStatementName(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{})

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tabula_stmt_1", pc.NextStatementName())
	assert.Equal(t, "tabula_stmt_2", pc.NextStatementName())
}

func TestReaperReclaimsLeakedConn(t *testing.T) {
	d := drivertest.New()
	p := newTestPool(t, d, Options{IdleTimeout: 10 * time.Millisecond})

	leaked, err := p.Acquire(context.Background())
	require.NoError(t, err)
	mock := leaked.Conn().(*drivertest.Conn)

	r := NewReaper([]*Pool{p}, drivertest.NewTestLogger(t), 5*time.Millisecond)
	r.Start()
	defer r.Shutdown()

	assert.Eventually(t, mock.Closed, time.Second, 5*time.Millisecond)

	sweepAt, _ := r.LastSweep()
	assert.False(t, sweepAt.IsZero())
}

func TestReaperAddSweepsLatePool(t *testing.T) {
	d := drivertest.New()
	r := NewReaper(nil, drivertest.NewTestLogger(t), 5*time.Millisecond)
	r.Start()
	defer r.Shutdown()

	p := newTestPool(t, d, Options{IdleTimeout: 10 * time.Millisecond})
	leaked, err := p.Acquire(context.Background())
	require.NoError(t, err)
	mock := leaked.Conn().(*drivertest.Conn)

	r.Add(p)

	assert.Eventually(t, mock.Closed, time.Second, 5*time.Millisecond)
}
