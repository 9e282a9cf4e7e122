package kafka

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/pkg/common/logger"
)

// Runner bridges the in-process update stream to an external publisher. It
// consumes the cross-audience stream and republishes every update keyed by
// building, so external consumers observe per-building ordering.
type Runner struct {
	stream    dashboard.UpdateStream
	publisher dashboard.UpdatePublisher

	// cancel allows graceful shutdown of the relay goroutine.
	cancel context.CancelCauseFunc
	done   chan struct{}

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRunner creates a Runner connecting the given stream to the publisher.
func NewRunner(
	stream dashboard.UpdateStream,
	publisher dashboard.UpdatePublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Runner {
	return &Runner{
		stream:    stream,
		publisher: publisher,
		done:      make(chan struct{}),
		logger:    logger.With("component", "kafka_relay_runner"),
		tracer:    tracer,
	}
}

// Start subscribes to the stream and launches the relay goroutine. It runs
// until the context is canceled or Stop is called; Done reports completion.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancelCause(ctx)
	sub := r.stream.SubscribeAll(ctx)

	r.logger.Info(ctx, "relay runner started", "subscription_id", sub.ID())

	go func() {
		defer close(r.done)
		defer sub.Cancel()

		// The channel closes when the subscription ends, draining any
		// updates delivered before cancellation.
		for update := range sub.Updates() {
			r.relay(ctx, update)
		}
		r.logger.Info(ctx, "relay runner stopped", "cause", context.Cause(ctx))
	}()
}

// Stop ends the stream subscription. Updates already delivered are still
// relayed before Done closes.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel(errors.New("relay runner stopped"))
	}
}

// Done closes once the relay goroutine has drained and exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// relay publishes one update. Publish failures are logged and dropped; the
// external copy of the stream is best effort and must never stall the bus.
func (r *Runner) relay(ctx context.Context, update dashboard.DashboardUpdate) {
	ctx, span := r.tracer.Start(ctx, "relay_runner.relay",
		trace.WithAttributes(
			attribute.String("update_id", update.ID().String()),
			attribute.String("update_kind", string(update.UpdateKind())),
		))
	defer span.End()

	err := r.publisher.PublishUpdate(ctx, update, dashboard.WithKey(relayKey(update)))
	if err != nil {
		span.RecordError(err)
		r.logger.Error(ctx, "failed to relay dashboard update",
			"update_id", update.ID(),
			"kind", update.UpdateKind(),
			"err", err,
		)
	}
}

// relayKey picks the partition key: the building when the update names one,
// the update id otherwise.
func relayKey(update dashboard.DashboardUpdate) string {
	if id := update.BuildingID(); id != nil {
		return id.String()
	}
	return update.ID().String()
}
