package worker

import (
	"context"
	"fmt"
	"time"

	"presupuesto/internal/amqp"
	"presupuesto/internal/core"
	"presupuesto/internal/log"
)

// Refresher is the engine surface the worker drives.
type Refresher interface {
	Invalidate()
	Budget(ctx context.Context) core.BudgetModel
	Mobility(ctx context.Context) core.MobilityView
}

// RefreshWorker recomputes the public results on an interval and announces
// each run on the broker.
type RefreshWorker struct {
	engine    Refresher
	publisher amqp.Publisher
	interval  time.Duration
	logger    *log.Logger
}

// NewRefreshWorker builds a worker. A nil publisher refreshes without
// announcing.
func NewRefreshWorker(engine Refresher, publisher amqp.Publisher, interval time.Duration, logger *log.Logger) *RefreshWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &RefreshWorker{
		engine:    engine,
		publisher: publisher,
		interval:  interval,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// RefreshOnce drops cached results, recomputes both public operations and
// publishes a summary. Only publishing can fail.
func (w *RefreshWorker) RefreshOnce(ctx context.Context) (*amqp.RefreshMessage, error) {
	start := time.Now()
	w.engine.Invalidate()

	budget := w.engine.Budget(ctx)
	mobility := w.engine.Mobility(ctx)
	msg := amqp.NewRefreshMessage(budget, mobility)

	w.logger.InfoContext(ctx, "Refresh completed",
		log.FieldOperation, log.OpRefresh,
		log.FieldRunID, msg.RunID,
		log.FieldSource, msg.BudgetSource,
		log.FieldFallback, msg.Fallback,
		log.FieldCategories, msg.Categories,
		log.FieldDuration, time.Since(start).Milliseconds())

	if budget.Fallback || mobility.Fallback {
		w.logger.WarnContext(ctx, "Refresh served fallback data",
			log.FieldSnapshotVersion, msg.SnapshotVersion,
			"budget_failures", len(budget.Failures),
			"mobility_failures", len(mobility.Failures))
	}

	if w.publisher == nil {
		return msg, nil
	}
	if err := w.publisher.PublishRefresh(ctx, msg); err != nil {
		return msg, fmt.Errorf("publish refresh: %w", err)
	}
	return msg, nil
}

// Run refreshes immediately and then on every tick until ctx is done.
// Publish failures are logged and do not stop the loop.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", w.interval)
	}

	w.logger.InfoContext(ctx, "Refresh worker started", "interval", w.interval)
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Refresh worker stopping", log.FieldOperation, log.OpShutdown)
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *RefreshWorker) tick(ctx context.Context) {
	if _, err := w.RefreshOnce(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Refresh notification failed", log.FieldError, err)
	}
}
