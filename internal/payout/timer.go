package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer drives the dispatcher. Each tick expires unpaid orders, resets
// orders orphaned in processing, and runs a dispatch cycle.
type Timer struct {
	service    *Service
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewTimer creates the dispatch loop. A non-positive interval defaults to
// five seconds.
func NewTimer(service *Service, dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Timer{
		service:    service,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeTick(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in dispatch timer", "panic", fmt.Sprint(r))
		}
	}()
	t.tick(ctx)
}

func (t *Timer) tick(ctx context.Context) {
	if n, err := t.service.ExpireUnpaid(ctx, 100); err != nil {
		t.logger.Warn("failed to expire unpaid orders", "error", err)
	} else if n > 0 {
		t.logger.Info("expired unpaid orders", "count", n)
	}

	if _, err := t.dispatcher.ReconcileStale(ctx); err != nil {
		t.logger.Warn("failed to reconcile stale orders", "error", err)
	}

	if _, err := t.dispatcher.RunCycle(ctx); err != nil && !errors.Is(err, ErrTransferDisabled) {
		t.logger.Warn("dispatch cycle failed", "error", err)
	}
}
