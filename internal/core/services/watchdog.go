package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

const (
	// WatchdogLockName serialises watchdog cycles across instances
	WatchdogLockName = "document-watchdog"

	// StaleDocumentMessage is recorded on documents the watchdog fails
	StaleDocumentMessage = "processing timed out"
)

// Watchdog periodically fails documents stuck in pending or processing,
// typically because the process running their pipeline died.
//
// For multi-instance deployments, configure a DistributedLock so only one
// instance sweeps per cycle.
type Watchdog struct {
	documentStore driven.DocumentStore
	lock          driven.DistributedLock
	clock         driven.Clock
	logger        *slog.Logger

	// Internal state
	mu         sync.RWMutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	interval   time.Duration
	staleAfter time.Duration
	lockTTL    time.Duration
}

// WatchdogConfig holds configuration for the watchdog.
type WatchdogConfig struct {
	DocumentStore driven.DocumentStore
	Lock          driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Clock         driven.Clock           // Default: system clock
	Logger        *slog.Logger
	PollInterval  time.Duration // How often to sweep (default: 1m)
	StaleAfter    time.Duration // Age after which an unfinished document is failed (default: 30m)
	LockTTL       time.Duration // TTL for the distributed lock (default: 2x poll interval)
}

// NewWatchdog creates a new watchdog.
func NewWatchdog(cfg WatchdogConfig) *Watchdog {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = time.Minute
	}

	staleAfter := cfg.StaleAfter
	if staleAfter == 0 {
		staleAfter = 30 * time.Minute
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 2 * interval
	}

	return &Watchdog{
		documentStore: cfg.DocumentStore,
		lock:          cfg.Lock,
		clock:         clock,
		logger:        logger,
		interval:      interval,
		staleAfter:    staleAfter,
		lockTTL:       lockTTL,
	}
}

// Start begins the sweep loop.
// It runs until Stop is called or context is cancelled.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("watchdog starting", "poll_interval", w.interval, "stale_after", w.staleAfter)

	go w.run(ctx)

	return nil
}

// Stop gracefully stops the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("watchdog stopped")
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Sweep immediately on start
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog context cancelled")
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle and returns how many documents were failed. It skips
// the cycle when another instance holds the lock.
func (w *Watchdog) Sweep(ctx context.Context) int {
	if w.lock != nil {
		acquired, err := w.lock.Acquire(ctx, WatchdogLockName, w.lockTTL)
		if err != nil {
			w.logger.Warn("failed to acquire watchdog lock", "error", err)
			return 0
		}
		if !acquired {
			w.logger.Debug("watchdog lock held by another instance, skipping cycle")
			return 0
		}
		defer func() {
			if err := w.lock.Release(ctx, WatchdogLockName); err != nil {
				w.logger.Warn("failed to release watchdog lock", "error", err)
			}
		}()
	}

	cutoff := w.clock.Now().Add(-w.staleAfter)
	count, err := w.documentStore.FailStale(ctx, cutoff, StaleDocumentMessage)
	if err != nil {
		w.logger.Error("failed to fail stale documents", "error", err)
		return 0
	}

	if count > 0 {
		w.logger.Warn("failed stale documents", "count", count, "cutoff", cutoff)
	} else {
		w.logger.Debug("no stale documents", "cutoff", cutoff)
	}
	return count
}
