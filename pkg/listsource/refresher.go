package listsource

import (
	"context"
	"sync"
	"time"

	"github.com/prefixset/prefixset"
	"github.com/prefixset/prefixset/pkg/cidrtext"
	"github.com/prefixset/prefixset/pkg/guard"
	"github.com/prefixset/prefixset/pkg/logger"
)

// Refresher periodically fetches prefix-list text from a Source, builds a
// fresh pair of prefixset.Set values, and publishes them to a guard.Store.
// Every refresh builds new sets from scratch; nothing is ever mutated in
// place, so a reader never observes a partially rebuilt set.
type Refresher struct {
	source Source
	store  *guard.Store

	interval time.Duration

	mu          sync.RWMutex
	lastUpdate  time.Time
	lastError   error
	updateCount int64

	stopCh        chan struct{}
	reconfigureCh chan struct{}
}

// NewRefresher creates a Refresher that rebuilds store from source every
// interval.
func NewRefresher(source Source, store *guard.Store, interval time.Duration) *Refresher {
	return &Refresher{
		source:        source,
		store:         store,
		interval:      interval,
		stopCh:        make(chan struct{}),
		reconfigureCh: make(chan struct{}, 1),
	}
}

// Start performs an immediate synchronous refresh so the store is
// populated before the caller proceeds.
func (r *Refresher) Start(ctx context.Context) error {
	return r.refreshNow(ctx)
}

// Run starts the background refresh loop and blocks until ctx is canceled
// or Stop is called.
func (r *Refresher) Run(ctx context.Context) {
	for {
		r.mu.RLock()
		interval := r.interval
		r.mu.RUnlock()

		ticker := time.NewTicker(interval)
		running := true
		for running {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-r.stopCh:
				ticker.Stop()
				return
			case <-r.reconfigureCh:
				ticker.Stop()
				running = false
			case <-ticker.C:
				if err := r.refreshNow(ctx); err != nil {
					logger.Errorf("prefix list refresh failed: %v", err)
				}
			}
		}
	}
}

// Reconfigure changes the refresh interval. A running Run loop restarts
// its ticker with the new interval; no refresh happens until that
// interval has elapsed.
func (r *Refresher) Reconfigure(interval time.Duration) {
	r.mu.Lock()
	r.interval = interval
	r.mu.Unlock()

	select {
	case r.reconfigureCh <- struct{}{}:
	default:
	}
}

// Stop terminates the background loop started by Run.
func (r *Refresher) Stop() {
	close(r.stopCh)
}

// Status reports the outcome of the most recent refresh attempt.
func (r *Refresher) Status() (lastUpdate time.Time, lastError error, count int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate, r.lastError, r.updateCount
}

func (r *Refresher) refreshNow(ctx context.Context) error {
	start := time.Now()

	body, err := FetchWithRetry(ctx, r.source, 3, 2*time.Second)
	if err != nil {
		r.mu.Lock()
		r.lastError = err
		r.mu.Unlock()
		return err
	}
	defer body.Close()

	v4 := prefixset.NewV4()
	v6 := prefixset.NewV6()
	if err := cidrtext.Load(body, v4, v6); err != nil {
		logger.Warnf("prefix list contained malformed lines: %v", err)
	}

	count := v4.Inserts() + v6.Inserts()
	setV4 := v4.Build()
	setV6 := v6.Build()
	r.store.Update(setV4, setV6, count)

	r.mu.Lock()
	r.lastUpdate = time.Now()
	r.lastError = nil
	r.updateCount++
	r.mu.Unlock()

	logger.Infof("prefix list refreshed in %v", time.Since(start))
	return nil
}
