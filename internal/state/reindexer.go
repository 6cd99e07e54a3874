package state

import (
	"context"
	"sync"
	"time"

	"github.com/schemaflow/schemaflow/internal/logger"
	"github.com/schemaflow/schemaflow/internal/registry"
)

// Reindexer periodically syncs the migration registry into the state tracker
// so newly compiled-in migrations show up in listings before they run.
type Reindexer struct {
	tracker  StateTracker
	registry registry.Registry
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
}

// NewReindexer creates a new reindexer
func NewReindexer(tracker StateTracker, reg registry.Registry, interval time.Duration) *Reindexer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reindexer{
		tracker:  tracker,
		registry: reg,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the background reindexing process
func (r *Reindexer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		// Run immediately on start
		r.reindex()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.reindex()
			}
		}
	}()
}

// Stop stops the background reindexing process
func (r *Reindexer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cancel()
	r.running = false
}

func (r *Reindexer) reindex() {
	if err := r.tracker.ReindexMigrations(r.ctx, r.registry); err != nil {
		logger.Warnf("Reindex failed: %v", err)
	}
}
