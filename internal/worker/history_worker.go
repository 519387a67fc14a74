// Package worker runs background maintenance for tracked wallets.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/types"
)

// HistoryBuilder rebuilds (and persists) a wallet's balance history
type HistoryBuilder interface {
	History(ctx context.Context, wallet string, days int) (*types.BalanceHistory, error)
}

// HistoryWorker rebuilds the history of a fixed wallet list once a day at
// 00:00 UTC
type HistoryWorker struct {
	engine      HistoryBuilder
	wallets     []string
	days        int
	concurrency int
	logger      *logging.Logger
	now         func() time.Time

	mu       sync.RWMutex
	running  bool
	lastRun  time.Time
	lastDone *RunResult
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// HistoryWorkerConfig holds configuration for a history worker
type HistoryWorkerConfig struct {
	Engine  HistoryBuilder
	Wallets []string
	// Days of history to rebuild; 0 uses the engine default
	Days        int
	Concurrency int
	Logger      *logging.Logger
}

// RunResult summarizes one refresh pass
type RunResult struct {
	Refreshed int
	// Degraded wallets were rebuilt from partial inputs and not persisted
	Degraded int
	Failed   map[string]string
	Duration time.Duration
}

// HistoryWorkerStatus represents the current status of the worker
type HistoryWorkerStatus struct {
	Running        bool
	WalletsTracked int
	LastRun        time.Time
	NextRun        time.Time
	LastResult     *RunResult
}

// NewHistoryWorker creates a new history worker
func NewHistoryWorker(cfg *HistoryWorkerConfig) (*HistoryWorker, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("history engine cannot be nil")
	}
	if len(cfg.Wallets) == 0 {
		return nil, fmt.Errorf("no wallets to refresh")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	wallets := append([]string(nil), cfg.Wallets...)
	sort.Strings(wallets)

	return &HistoryWorker{
		engine:      cfg.Engine,
		wallets:     wallets,
		days:        cfg.Days,
		concurrency: concurrency,
		logger:      logger.Named("history-worker"),
		now:         time.Now,
	}, nil
}

// RunOnce rebuilds every wallet's history with bounded concurrency. A
// failing wallet does not stop the others.
func (w *HistoryWorker) RunOnce(ctx context.Context) *RunResult {
	start := time.Now()
	res := &RunResult{Failed: make(map[string]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, wallet := range w.wallets {
		wallet := wallet
		g.Go(func() error {
			hist, err := w.engine.History(gctx, wallet, w.days)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed[wallet] = err.Error()
				w.logger.WithError(err).WithField("wallet", wallet).Warn("history refresh failed")
			case len(hist.Degraded) > 0:
				res.Degraded++
				w.logger.WithFields(map[string]interface{}{
					"wallet":   wallet,
					"degraded": hist.Degraded,
				}).Warn("history refresh degraded, not persisted")
			default:
				res.Refreshed++
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = time.Since(start)

	w.mu.Lock()
	w.lastRun = start
	w.lastDone = res
	w.mu.Unlock()

	w.logger.WithFields(map[string]interface{}{
		"refreshed":   res.Refreshed,
		"degraded":    res.Degraded,
		"failed":      len(res.Failed),
		"duration_ms": res.Duration.Milliseconds(),
	}).Info("history refresh complete")
	return res
}

// Start runs the daily schedule in a goroutine
func (w *HistoryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("history worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.WithField("wallets", len(w.wallets)).Info("starting history worker")
	go w.loop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop signals the schedule to end and waits for an in-flight pass
func (w *HistoryWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("history worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.logger.Info("history worker stopped")
	return nil
}

func (w *HistoryWorker) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	// a stop mid-pass cancels the pass
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		next := nextRun(w.now())
		w.logger.WithFields(map[string]interface{}{
			"next_run": next.Format(time.RFC3339),
		}).Debug("waiting for next history refresh")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.RunOnce(ctx)
		}
	}
}

// nextRun returns the next 00:00 UTC strictly after now
func nextRun(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// GetStatus returns current worker status
func (w *HistoryWorker) GetStatus() *HistoryWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &HistoryWorkerStatus{
		Running:        w.running,
		WalletsTracked: len(w.wallets),
		LastRun:        w.lastRun,
		NextRun:        nextRun(w.now()),
		LastResult:     w.lastDone,
	}
}
