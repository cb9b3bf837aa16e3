package wallets

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Refresher periodically refreshes every wallet's chain snapshot.
type Refresher struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewRefresher creates a refresh loop. A non-positive interval defaults to
// one minute.
func NewRefresher(service *Service, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the loop is active.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	r.safeRefresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeRefresh(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (r *Refresher) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Refresher) safeRefresh(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in wallet refresher", "panic", fmt.Sprint(rec))
		}
	}()

	start := time.Now()
	sum, err := r.service.RefreshAll(ctx)
	if err != nil {
		r.logger.Warn("wallet refresh cycle aborted", "error", err)
		return
	}
	if sum.Failed > 0 {
		r.logger.Warn("wallet refresh cycle finished with failures",
			"total", sum.Total, "failed", sum.Failed, "took", time.Since(start))
		return
	}
	r.logger.Debug("wallet refresh cycle finished", "total", sum.Total, "took", time.Since(start))
}
