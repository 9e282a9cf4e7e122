package dashboard

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/avolric/crewsight/internal/infra/eventbus/kafka"
)

// BusMetrics defines the metrics operations recorded by the sync bus and the
// reconciliation loop.
type BusMetrics interface {
	IncBroadcast(ctx context.Context, kind string)
	AddDeliveries(ctx context.Context, count int)
	AddDroppedDeliveries(ctx context.Context, count int)
	IncSubscribers(ctx context.Context, audience string)
	DecSubscribers(ctx context.Context, audience string)
	IncRefresh(ctx context.Context, target string)
	IncRefreshError(ctx context.Context, target string)
	IncReconciliationRun(ctx context.Context)
	IncReconciliationDrift(ctx context.Context)
	IncReconciliationError(ctx context.Context)
}

// The collector also serves the Kafka relay so one instance covers the whole
// update pipeline.
var _ kafka.RelayMetrics = (*busMetrics)(nil)

// busMetrics implements BusMetrics backed by OTel instruments.
type busMetrics struct {
	broadcasts        metric.Int64Counter
	deliveries        metric.Int64Counter
	droppedDeliveries metric.Int64Counter
	subscribers       metric.Int64UpDownCounter
	refreshes         metric.Int64Counter
	refreshErrors     metric.Int64Counter
	reconcileRuns     metric.Int64Counter
	reconcileDrift    metric.Int64Counter
	reconcileErrors   metric.Int64Counter

	// Relay metrics.
	updatesRelayed metric.Int64Counter
	relayErrors    metric.Int64Counter
}

const namespace = "sync_bus"

// NewBusMetrics creates the sync bus metrics instruments.
func NewBusMetrics(mp metric.MeterProvider) (*busMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	b := new(busMetrics)
	var err error

	if b.broadcasts, err = meter.Int64Counter(
		"broadcasts_total",
		metric.WithDescription("Total number of dashboard updates broadcast"),
	); err != nil {
		return nil, err
	}

	if b.deliveries, err = meter.Int64Counter(
		"deliveries_total",
		metric.WithDescription("Total number of updates delivered to subscriber channels"),
	); err != nil {
		return nil, err
	}

	if b.droppedDeliveries, err = meter.Int64Counter(
		"dropped_deliveries_total",
		metric.WithDescription("Total number of deliveries dropped because a subscriber buffer was full"),
	); err != nil {
		return nil, err
	}

	if b.subscribers, err = meter.Int64UpDownCounter(
		"subscribers",
		metric.WithDescription("Number of live subscriptions"),
	); err != nil {
		return nil, err
	}

	if b.refreshes, err = meter.Int64Counter(
		"refreshes_total",
		metric.WithDescription("Total number of completed asynchronous refreshes"),
	); err != nil {
		return nil, err
	}

	if b.refreshErrors, err = meter.Int64Counter(
		"refresh_errors_total",
		metric.WithDescription("Total number of failed asynchronous refreshes"),
	); err != nil {
		return nil, err
	}

	if b.reconcileRuns, err = meter.Int64Counter(
		"reconciliation_runs_total",
		metric.WithDescription("Total number of reconciliation ticks"),
	); err != nil {
		return nil, err
	}

	if b.reconcileDrift, err = meter.Int64Counter(
		"reconciliation_drift_total",
		metric.WithDescription("Total number of ticks that detected drift"),
	); err != nil {
		return nil, err
	}

	if b.reconcileErrors, err = meter.Int64Counter(
		"reconciliation_errors_total",
		metric.WithDescription("Total number of failed reconciliation ticks"),
	); err != nil {
		return nil, err
	}

	if b.updatesRelayed, err = meter.Int64Counter(
		"updates_relayed_total",
		metric.WithDescription("Total number of updates republished to Kafka"),
	); err != nil {
		return nil, err
	}

	if b.relayErrors, err = meter.Int64Counter(
		"relay_errors_total",
		metric.WithDescription("Total number of failed Kafka republishes"),
	); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *busMetrics) IncBroadcast(ctx context.Context, kind string) {
	b.broadcasts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (b *busMetrics) AddDeliveries(ctx context.Context, count int) {
	b.deliveries.Add(ctx, int64(count))
}

func (b *busMetrics) AddDroppedDeliveries(ctx context.Context, count int) {
	b.droppedDeliveries.Add(ctx, int64(count))
}

func (b *busMetrics) IncSubscribers(ctx context.Context, audience string) {
	b.subscribers.Add(ctx, 1, metric.WithAttributes(attribute.String("audience", audience)))
}

func (b *busMetrics) DecSubscribers(ctx context.Context, audience string) {
	b.subscribers.Add(ctx, -1, metric.WithAttributes(attribute.String("audience", audience)))
}

func (b *busMetrics) IncRefresh(ctx context.Context, target string) {
	b.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

func (b *busMetrics) IncRefreshError(ctx context.Context, target string) {
	b.refreshErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

func (b *busMetrics) IncReconciliationRun(ctx context.Context) { b.reconcileRuns.Add(ctx, 1) }

func (b *busMetrics) IncReconciliationDrift(ctx context.Context) { b.reconcileDrift.Add(ctx, 1) }

func (b *busMetrics) IncReconciliationError(ctx context.Context) { b.reconcileErrors.Add(ctx, 1) }

func (b *busMetrics) IncUpdatePublished(ctx context.Context, topic string) {
	b.updatesRelayed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (b *busMetrics) IncPublishError(ctx context.Context, topic string) {
	b.relayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
