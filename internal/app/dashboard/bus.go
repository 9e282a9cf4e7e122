// Package dashboard implements the cross-audience synchronization engine:
// the sync bus fanning updates out to subscriber channels, the bounded live
// feeds, the unified aggregate state, and the reconciliation loop that
// detects drift against the source of truth.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/internal/domain/facility"
	"github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common/logger"
	"github.com/avolric/crewsight/pkg/common/timeutil"
)

// subscriberBuffer is the per-subscriber delivery buffer. Updates beyond it
// are dropped for that subscriber rather than blocking the broadcast.
const subscriberBuffer = 16

// refreshTimeout bounds one fire-and-forget refresh so a hung store cannot
// pin refresh goroutines indefinitely.
const refreshTimeout = 15 * time.Second

// audienceAll labels cross-audience subscriptions in metrics.
const audienceAll = "all"

// MetricsProvider is the slice of the metrics cache the bus refreshes
// through.
type MetricsProvider interface {
	// Refresh recomputes one building's metrics unconditionally.
	Refresh(ctx context.Context, buildingID uuid.UUID) (metrics.BuildingMetrics, error)

	// GetBatch returns fresh metrics for many buildings, omitting failures.
	GetBatch(ctx context.Context, buildingIDs []uuid.UUID) map[uuid.UUID]metrics.BuildingMetrics
}

// BuildingDirectory answers the structural queries portfolio refreshes and
// reconciliation need.
type BuildingDirectory interface {
	GetAllBuildings(ctx context.Context) ([]facility.Building, error)
	CountBuildings(ctx context.Context) (int, error)
}

var (
	_ domain.Broadcaster  = (*SyncBus)(nil)
	_ domain.UpdateStream = (*SyncBus)(nil)
)

// SyncBus accepts mutation events from any producer and fans each one out to
// every subscriber channel, appending live-feed entries and scheduling
// asynchronous refreshes along the way. Every broadcast reaches the three
// audience channels and the cross-audience channel alike; audience scoping
// is the subscriber's filter over kind and origin, not a delivery
// restriction.
type SyncBus struct {
	provider  MetricsProvider
	directory BuildingDirectory
	state     *UnifiedState

	workerFeed *domain.FeedBuffer[domain.WorkerActivity]
	adminFeed  *domain.FeedBuffer[domain.AdminAlert]
	clientFeed *domain.FeedBuffer[domain.ClientMetric]

	mu          sync.RWMutex
	subscribers map[domain.Audience]map[uuid.UUID]chan domain.DashboardUpdate
	firehose    map[uuid.UUID]chan domain.DashboardUpdate

	timeProvider timeutil.Provider

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics BusMetrics
}

// NewSyncBus creates a bus writing refresh results into the given state.
func NewSyncBus(
	provider MetricsProvider,
	directory BuildingDirectory,
	state *UnifiedState,
	metrics BusMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *SyncBus {
	return &SyncBus{
		provider:   provider,
		directory:  directory,
		state:      state,
		workerFeed: domain.NewFeedBuffer[domain.WorkerActivity](domain.FeedCapacity),
		adminFeed:  domain.NewFeedBuffer[domain.AdminAlert](domain.FeedCapacity),
		clientFeed: domain.NewFeedBuffer[domain.ClientMetric](domain.FeedCapacity),
		subscribers: map[domain.Audience]map[uuid.UUID]chan domain.DashboardUpdate{
			domain.AudienceWorker: make(map[uuid.UUID]chan domain.DashboardUpdate),
			domain.AudienceAdmin:  make(map[uuid.UUID]chan domain.DashboardUpdate),
			domain.AudienceClient: make(map[uuid.UUID]chan domain.DashboardUpdate),
		},
		firehose:     make(map[uuid.UUID]chan domain.DashboardUpdate),
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "sync_bus"),
		tracer:       tracer,
		metrics:      metrics,
	}
}

// Broadcast fans the update out to every subscriber. Live-feed entries are
// appended synchronously before delivery; the follow-up cache refresh runs
// in the background and its failure is never surfaced to the producer.
func (b *SyncBus) Broadcast(ctx context.Context, update domain.DashboardUpdate) {
	ctx, span := b.tracer.Start(ctx, "sync_bus.broadcast",
		trace.WithAttributes(
			attribute.String("update_id", update.ID().String()),
			attribute.String("kind", string(update.UpdateKind())),
			attribute.String("origin", string(update.Origin())),
		))
	defer span.End()

	b.metrics.IncBroadcast(ctx, string(update.UpdateKind()))

	b.appendFeedEntries(update)
	span.AddEvent("feeds_updated")

	delivered, dropped := b.deliver(ctx, update)
	span.AddEvent("update_delivered", trace.WithAttributes(
		attribute.Int("delivered", delivered),
		attribute.Int("dropped", dropped),
	))

	b.scheduleRefresh(update)
	span.SetStatus(codes.Ok, "broadcast complete")
}

// appendFeedEntries applies the per-buffer kind predicates. One update may
// land in several buffers when more than one predicate matches.
func (b *SyncBus) appendFeedEntries(update domain.DashboardUpdate) {
	if update.Origin() == domain.AudienceWorker {
		b.workerFeed.Append(domain.NewWorkerActivity(update))
	}

	switch update.UpdateKind() {
	case domain.KindMetricsChanged, domain.KindComplianceChanged, domain.KindPerformanceChanged:
		b.adminFeed.Append(domain.NewAdminAlert(update))
	}

	switch update.UpdateKind() {
	case domain.KindPortfolioUpdated, domain.KindPerformanceChanged:
		b.clientFeed.Append(domain.NewClientMetric(update))
	}
}

// deliver sends the update to every subscriber channel without blocking.
// A subscriber whose buffer is full misses this update.
func (b *SyncBus) deliver(ctx context.Context, update domain.DashboardUpdate) (delivered, dropped int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	send := func(ch chan domain.DashboardUpdate) {
		select {
		case ch <- update:
			delivered++
		default:
			dropped++
		}
	}

	for _, subs := range b.subscribers {
		for _, ch := range subs {
			send(ch)
		}
	}
	for _, ch := range b.firehose {
		send(ch)
	}

	if delivered > 0 {
		b.metrics.AddDeliveries(ctx, delivered)
	}
	if dropped > 0 {
		b.metrics.AddDroppedDeliveries(ctx, dropped)
		b.logger.Debug(ctx, "dropped update for slow subscribers",
			"update_id", update.ID(),
			"dropped", dropped,
		)
	}
	return delivered, dropped
}

// scheduleRefresh launches the fire-and-forget refresh the update calls for,
// if any. Refreshes run on their own bounded context so a canceled broadcast
// context cannot abort them.
func (b *SyncBus) scheduleRefresh(update domain.DashboardUpdate) {
	switch update.UpdateKind() {
	case domain.KindMetricsChanged, domain.KindTaskCompleted:
		if id := update.BuildingID(); id != nil {
			go b.refreshBuilding(*id)
		}

	case domain.KindPortfolioUpdated, domain.KindPerformanceChanged:
		autoGenerated := false
		if p, ok := update.Payload().(domain.PortfolioUpdatedPayload); ok {
			autoGenerated = p.AutoGenerated
		}
		go b.refreshPortfolio(autoGenerated)
	}
}

func (b *SyncBus) refreshBuilding(buildingID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	ctx, span := b.tracer.Start(ctx, "sync_bus.refresh_building",
		trace.WithAttributes(
			attribute.String("building_id", buildingID.String()),
		))
	defer span.End()

	m, err := b.provider.Refresh(ctx, buildingID)
	if err != nil {
		b.metrics.IncRefreshError(ctx, "building")
		b.logger.Warn(ctx, "building refresh failed", "building_id", buildingID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return
	}

	b.state.ApplyMetrics(m)
	b.metrics.IncRefresh(ctx, "building")
	span.AddEvent("state_updated")
	span.SetStatus(codes.Ok, "building refreshed")
}

func (b *SyncBus) refreshPortfolio(autoGenerated bool) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	ctx, span := b.tracer.Start(ctx, "sync_bus.refresh_portfolio")
	defer span.End()

	pi, err := b.computePortfolio(ctx, autoGenerated)
	if err != nil {
		b.metrics.IncRefreshError(ctx, "portfolio")
		b.logger.Warn(ctx, "portfolio refresh failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return
	}

	b.metrics.IncRefresh(ctx, "portfolio")
	span.AddEvent("state_updated", trace.WithAttributes(
		attribute.Int("building_count", pi.BuildingCount),
	))
	span.SetStatus(codes.Ok, "portfolio refreshed")
}

// PortfolioDigest recomputes the portfolio summary on demand and returns it.
// The daily digest uses it to publish a fresh summary instead of whatever
// the last event-driven refresh left behind.
func (b *SyncBus) PortfolioDigest(ctx context.Context) (domain.PortfolioIntelligence, error) {
	ctx, span := b.tracer.Start(ctx, "sync_bus.portfolio_digest")
	defer span.End()

	pi, err := b.computePortfolio(ctx, false)
	if err != nil {
		b.metrics.IncRefreshError(ctx, "portfolio")
		span.RecordError(err)
		span.SetStatus(codes.Error, "digest failed")
		return domain.PortfolioIntelligence{}, err
	}

	b.metrics.IncRefresh(ctx, "portfolio")
	span.SetStatus(codes.Ok, "digest computed")
	return pi, nil
}

// computePortfolio loads every building's latest snapshot, folds the results
// into unified state, and derives the portfolio intelligence. Buildings whose
// metrics are unavailable are missing from the fold but still counted.
func (b *SyncBus) computePortfolio(ctx context.Context, autoGenerated bool) (domain.PortfolioIntelligence, error) {
	buildings, err := b.directory.GetAllBuildings(ctx)
	if err != nil {
		return domain.PortfolioIntelligence{}, fmt.Errorf("loading buildings: %w", err)
	}

	ids := make([]uuid.UUID, len(buildings))
	for i, building := range buildings {
		ids[i] = building.ID
	}
	results := b.provider.GetBatch(ctx, ids)

	for _, m := range results {
		b.state.ApplyMetrics(m)
	}
	pi := domain.BuildIntelligence(len(buildings), results, b.timeProvider.Now(), autoGenerated)
	b.state.ApplyIntelligence(pi)
	return pi, nil
}

// Subscribe returns a subscription registered on the audience's channel.
// Every update still reaches every channel; the audience identifies the
// consumer for metrics and lets it apply its own kind/origin filter.
func (b *SyncBus) Subscribe(ctx context.Context, audience domain.Audience) *domain.Subscription {
	return b.subscribe(ctx, audience, false)
}

// SubscribeAll returns a subscription on the cross-audience channel.
func (b *SyncBus) SubscribeAll(ctx context.Context) *domain.Subscription {
	return b.subscribe(ctx, "", true)
}

func (b *SyncBus) subscribe(ctx context.Context, audience domain.Audience, all bool) *domain.Subscription {
	id := uuid.New()
	ch := make(chan domain.DashboardUpdate, subscriberBuffer)

	label := audienceAll
	if !all {
		label = string(audience)
	}

	b.mu.Lock()
	if all {
		b.firehose[id] = ch
	} else {
		if b.subscribers[audience] == nil {
			b.subscribers[audience] = make(map[uuid.UUID]chan domain.DashboardUpdate)
		}
		b.subscribers[audience][id] = ch
	}
	b.mu.Unlock()

	b.metrics.IncSubscribers(ctx, label)
	b.logger.Debug(ctx, "subscriber registered", "subscription_id", id, "audience", label)

	done := make(chan struct{})
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		var registered bool
		if all {
			if _, registered = b.firehose[id]; registered {
				delete(b.firehose, id)
			}
		} else {
			if _, registered = b.subscribers[audience][id]; registered {
				delete(b.subscribers[audience], id)
			}
		}
		if registered {
			close(ch)
			b.metrics.DecSubscribers(context.Background(), label)
		}
		close(done)
	}

	sub := domain.NewSubscription(id, ch, cancel)

	// The subscription ends with its context. The done channel releases the
	// watcher when Cancel came first.
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-done:
		}
	}()

	return sub
}

// State returns the unified aggregate state.
func (b *SyncBus) State() *UnifiedState { return b.state }

// WorkerActivities returns the worker live feed, oldest first.
func (b *SyncBus) WorkerActivities() []domain.WorkerActivity { return b.workerFeed.Entries() }

// AdminAlerts returns the admin live feed, oldest first.
func (b *SyncBus) AdminAlerts() []domain.AdminAlert { return b.adminFeed.Entries() }

// ClientMetrics returns the client live feed, oldest first.
func (b *SyncBus) ClientMetrics() []domain.ClientMetric { return b.clientFeed.Entries() }

// SubscriberCount returns the number of live subscriptions across all
// channels.
func (b *SyncBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.firehose)
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}
