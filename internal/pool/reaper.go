package pool

import (
	"sync"
	"time"

	"github.com/coregx/tabula/internal/logger"
)

// Reaper periodically sweeps pools for connections stuck in use past
// their idle timeout. It exists so leaked connections (acquired but
// never released) are eventually reclaimed instead of accumulating.
type Reaper struct {
	pools    []*Pool
	log      logger.Logger
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup

	mu         sync.RWMutex
	lastSweep  time.Time
	lastReaped int
}

// NewReaper creates a reaper sweeping pools every interval.
func NewReaper(pools []*Pool, log logger.Logger, interval time.Duration) *Reaper {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	return &Reaper{
		pools:    pools,
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

// Add registers more pools with the reaper. Safe to call while the
// sweep loop is running.
func (r *Reaper) Add(pools ...*Pool) {
	r.mu.Lock()
	r.pools = append(r.pools, pools...)
	r.mu.Unlock()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

// sweep runs one reap pass over all pools.
func (r *Reaper) sweep() {
	now := time.Now()
	r.mu.RLock()
	pools := r.pools
	r.mu.RUnlock()

	reaped := 0
	for _, p := range pools {
		reaped += p.ReapIdle(now)
	}

	r.mu.Lock()
	r.lastSweep = now
	r.lastReaped = reaped
	r.mu.Unlock()

	if reaped > 0 {
		r.log.Info("reap sweep finished", "reaped", reaped)
	} else {
		r.log.Debug("reap sweep finished", "reaped", 0)
	}
}

// Shutdown halts the reaper and waits for the loop to finish.
func (r *Reaper) Shutdown() {
	close(r.stop)
	r.wg.Wait()
}

// LastSweep returns when the most recent sweep ran and how many
// connections it reclaimed.
func (r *Reaper) LastSweep() (time.Time, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSweep, r.lastReaped
}
