package panel

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/panelsync/panelsync/model"
)

// DefaultCheckInterval is the fallback poll period.
const DefaultCheckInterval = 600 * time.Second

// Watcher polls the panel for retest assignments in the background and
// fans results out to registered callbacks. Start is idempotent; Stop
// waits for the poll goroutine to exit.
type Watcher struct {
	client   *Client
	interval time.Duration
	version  string
	logger   zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	onItems   []func([]model.RetestItem)
	cached    []model.RetestItem
	lastCheck time.Time
}

// NewWatcher builds a watcher polling every interval, optionally filtered
// to one client version.
func NewWatcher(client *Client, interval time.Duration, clientVersion string, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Watcher{
		client:   client,
		interval: interval,
		version:  clientVersion,
		logger:   logger,
	}
}

// OnRetests registers a callback invoked with every non-empty poll result.
func (w *Watcher) OnRetests(fn func([]model.RetestItem)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onItems = append(w.onItems, fn)
}

// Start launches the poll loop: one immediate check, then one per
// interval. Calling Start while running is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		w.logger.Warn().Msg("Periodic checking already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.logger.Info().Dur("interval", w.interval).Msg("Starting periodic retest checking")

	go func() {
		defer close(done)

		w.CheckNow(loopCtx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				w.logger.Info().Msg("Periodic checking stopped")
				return
			case <-ticker.C:
				w.logger.Debug().Msg("Checking for retests")
				w.CheckNow(loopCtx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for it to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// CheckNow polls once and notifies callbacks if anything is pending. The
// fetched queue is remembered for Cached.
func (w *Watcher) CheckNow(ctx context.Context) []model.RetestItem {
	items, err := w.client.RetestQueue(ctx, w.version)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Retest check failed")
		return nil
	}

	w.mu.Lock()
	w.cached = items
	w.lastCheck = time.Now()
	callbacks := append([]func([]model.RetestItem){}, w.onItems...)
	w.mu.Unlock()

	if len(items) > 0 {
		for _, fn := range callbacks {
			fn(items)
		}
	}
	return items
}

// Cached returns the queue from the most recent successful poll.
func (w *Watcher) Cached() []model.RetestItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cached
}

// LastCheck returns when the last successful poll happened.
func (w *Watcher) LastCheck() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCheck
}
