package dashboard

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/pkg/common/logger"
)

// DefaultReconcileInterval is how often the reconciliation loop compares
// unified state against the source of truth.
const DefaultReconcileInterval = 30 * time.Second

// reconcileTickTimeout bounds one tick so a slow store cannot stall the
// loop past its next interval.
const reconcileTickTimeout = 10 * time.Second

// Reconciler periodically compares the authoritative building count with the
// unified state's and broadcasts a synthetic portfolio update when they
// diverge. The broadcast flows through the regular bus path, so the drift
// repairs itself via the portfolio refresh it triggers.
type Reconciler struct {
	directory   BuildingDirectory
	state       *UnifiedState
	broadcaster domain.Broadcaster

	interval    time.Duration
	tickTimeout time.Duration

	// cancel allows graceful shutdown of the reconciliation goroutine.
	cancel context.CancelCauseFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics BusMetrics
}

// NewReconciler creates a reconciliation loop running at the given interval.
// A non-positive interval falls back to DefaultReconcileInterval.
func NewReconciler(
	directory BuildingDirectory,
	state *UnifiedState,
	broadcaster domain.Broadcaster,
	interval time.Duration,
	metrics BusMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		directory:   directory,
		state:       state,
		broadcaster: broadcaster,
		interval:    interval,
		tickTimeout: reconcileTickTimeout,
		logger:      logger.With("component", "reconciler"),
		tracer:      tracer,
		metrics:     metrics,
	}
}

// Start launches the reconciliation goroutine. It runs until the context is
// canceled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "reconciler.start",
		trace.WithAttributes(
			attribute.String("interval", r.interval.String()),
		))
	defer span.End()

	ctx, r.cancel = context.WithCancelCause(ctx)
	span.AddEvent("reconciliation_loop_started")

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.reconcile(ctx)

			case <-ctx.Done():
				r.logger.Info(ctx, "reconciliation loop stopped", "cause", context.Cause(ctx))
				return
			}
		}
	}()
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel(errors.New("reconciler stopped"))
	}
}

// reconcile runs one drift check. Failures are logged and the tick skipped;
// the next tick retries from scratch.
func (r *Reconciler) reconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "reconciler.tick")
	defer span.End()

	r.metrics.IncReconciliationRun(ctx)

	authoritative, err := r.directory.CountBuildings(ctx)
	if err != nil {
		r.metrics.IncReconciliationError(ctx)
		r.logger.Warn(ctx, "reconciliation tick failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
		return
	}

	known := r.state.BuildingCount()
	span.SetAttributes(
		attribute.Int("authoritative_count", authoritative),
		attribute.Int("known_count", known),
	)

	if authoritative == known {
		span.SetStatus(codes.Ok, "no drift")
		return
	}

	r.metrics.IncReconciliationDrift(ctx)
	r.logger.Info(ctx, "portfolio drift detected",
		"authoritative_count", authoritative,
		"known_count", known,
	)

	update := domain.NewPortfolioUpdatedUpdate(domain.AudienceAdmin, domain.PortfolioUpdatedPayload{
		BuildingCount: authoritative,
		AutoGenerated: true,
	})
	r.broadcaster.Broadcast(ctx, update)

	span.AddEvent("drift_broadcast", trace.WithAttributes(
		attribute.String("update_id", update.ID().String()),
	))
	span.SetStatus(codes.Ok, "drift reconciled")
}
