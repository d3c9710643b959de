package relay

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/go-i2p/logger"
)

const DefaultSweepInterval = 30 * time.Second

// Sweeper runs Store.Sweep on a fixed cadence.
type Sweeper struct {
	store    *Store
	clock    monotonic.Timestamper
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper returns a stopped sweeper. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(store *Store, clock monotonic.Timestamper, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, clock: clock, interval: interval}
}

// Start launches the sweep loop. Calling Start on a running sweeper does
// nothing.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel
	sw.running = true

	log.WithFields(logger.Fields{
		"at":       "Sweeper.Start",
		"interval": sw.interval,
	}).Info("Starting relay sweeper")

	sw.wg.Add(1)
	go sw.loop(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish. It is
// safe to call more than once.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = false
	sw.cancel()
	sw.mu.Unlock()

	sw.wg.Wait()
	log.Info("Relay sweeper stopped")
}

func (sw *Sweeper) loop(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.store.Sweep(sw.clock.Timestamp())
		}
	}
}
