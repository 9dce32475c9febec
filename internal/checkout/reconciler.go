package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prompos/terminal/internal/domain"
	"prompos/terminal/internal/logger"
	"prompos/terminal/internal/metrics"
)

const defaultReconcileInterval = time.Minute

type ReconcilerParams struct {
	Engine       *Engine
	Book         OrderBook
	Reachability Reachability
	Metrics      *metrics.CheckoutMetrics
	Logger       *logger.Logger
	Interval     time.Duration
}

// Reconciler periodically retries orders left pending by checkout.
type Reconciler struct {
	engine   *Engine
	book     OrderBook
	reach    Reachability
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	interval time.Duration
	cycle    sync.Mutex
}

func NewReconciler(p ReconcilerParams) (*Reconciler, error) {
	if p.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if p.Book == nil {
		return nil, fmt.Errorf("order book required")
	}
	if p.Reachability == nil {
		return nil, fmt.Errorf("reachability required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	return &Reconciler{
		engine:   p.Engine,
		book:     p.Book,
		reach:    p.Reachability,
		metrics:  p.Metrics,
		logg:     logg,
		interval: interval,
	}, nil
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logg.Error(ctx, "reconcile cycle failed", err)
			}
		}
	}
}

// RunOnce retries every pending order once, oldest first. Remote failures
// leave the order pending; only a local persistence failure aborts the cycle.
func (r *Reconciler) RunOnce(ctx context.Context) (domain.ReconcileResponse, error) {
	r.cycle.Lock()
	defer r.cycle.Unlock()

	var report domain.ReconcileResponse
	pending := r.book.Pending()
	if len(pending) == 0 {
		return report, nil
	}
	if !r.reach.Online(ctx) {
		report.Skipped = true
		report.Pending = len(pending)
		r.logg.Info(ctx, "offline; reconcile skipped")
		return report, nil
	}

	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if r.engine.inflight.has(o.LocalID) {
			report.Pending++
			continue
		}

		report.Attempted++
		out, err := r.engine.Sync(ctx, o.LocalID)
		switch {
		case errors.Is(err, ErrInFlight):
			report.Attempted--
			report.Pending++
			continue
		case errors.Is(err, ErrUnknownOrder):
			report.Attempted--
			continue
		case err != nil:
			r.metrics.IncReconcile("error")
			return report, fmt.Errorf("reconcile %s: %w", o.LocalID, err)
		}

		switch out.State() {
		case StateSent:
			report.Sent++
			r.metrics.IncReconcile("sent")
		case StateUnassigned:
			report.Pending++
			r.metrics.IncReconcile("unassigned")
		default:
			report.Pending++
			r.metrics.IncReconcile("failed")
		}
	}

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"attempted": report.Attempted,
		"sent":      report.Sent,
		"pending":   report.Pending,
	}), "reconcile cycle complete")
	return report, nil
}
