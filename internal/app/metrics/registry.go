package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolric/crewsight/internal/domain/facility"
	domain "github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common/logger"
	"github.com/avolric/crewsight/pkg/common/timeutil"
)

// observeBufferSize is the per-subscriber delivery buffer. Emissions beyond
// it are dropped for that subscriber rather than blocking the feed.
const observeBufferSize = 8

// ObservationRegistry deduplicates live per-building metric feeds: any
// number of subscribers for the same building share one underlying task
// stream. Snapshots on these feeds are derived synchronously from the raw
// task rows, never from the cache, and stream errors are downgraded to a
// neutral empty snapshot so UI-facing consumers never see a failure.
type ObservationRegistry struct {
	streamer facility.TaskStreamer

	timeProvider timeutil.Provider

	mu    sync.Mutex
	feeds map[uuid.UUID]*observationFeed

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics CacheMetrics
}

// NewObservationRegistry creates a registry reading task streams from the
// given streamer.
func NewObservationRegistry(
	streamer facility.TaskStreamer,
	metrics CacheMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *ObservationRegistry {
	return &ObservationRegistry{
		streamer:     streamer,
		timeProvider: timeutil.Default(),
		feeds:        make(map[uuid.UUID]*observationFeed),
		logger:       logger.With("component", "observation_registry"),
		tracer:       tracer,
		metrics:      metrics,
	}
}

// observationFeed is one shared per-building stream with its subscribers.
type observationFeed struct {
	buildingID uuid.UUID
	cancel     context.CancelFunc

	mu          sync.Mutex
	closed      bool
	subscribers map[uuid.UUID]chan domain.BuildingMetrics
}

func (f *observationFeed) add(subID uuid.UUID, ch chan domain.BuildingMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return
	}
	f.subscribers[subID] = ch
}

// remove drops one subscriber and reports how many remain.
func (f *observationFeed) remove(subID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subscribers[subID]; ok {
		delete(f.subscribers, subID)
		close(ch)
	}
	return len(f.subscribers)
}

// emit delivers a snapshot to every subscriber without blocking; a
// subscriber with a full buffer misses this emission.
func (f *observationFeed) emit(m domain.BuildingMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subscribers {
		select {
		case ch <- m:
		default:
		}
	}
}

// closeAll closes every subscriber channel and marks the feed closed.
func (f *observationFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subscribers {
		delete(f.subscribers, id)
		close(ch)
	}
}

// Observe subscribes to the building's live metrics feed, creating the
// underlying task stream on first use. The subscription ends when ctx is
// canceled; when the last subscriber leaves, the underlying stream is torn
// down.
func (r *ObservationRegistry) Observe(ctx context.Context, buildingID uuid.UUID) (<-chan domain.BuildingMetrics, error) {
	_, span := r.tracer.Start(ctx, "observation_registry.observe",
		trace.WithAttributes(
			attribute.String("building_id", buildingID.String()),
		))
	defer span.End()

	r.mu.Lock()
	feed, ok := r.feeds[buildingID]
	if !ok {
		// The feed outlives any one subscriber, so it gets its own context.
		feedCtx, cancel := context.WithCancel(context.Background())

		taskCh, err := r.streamer.StreamTasks(feedCtx, buildingID)
		if err != nil {
			cancel()
			r.mu.Unlock()
			span.RecordError(err)
			return nil, fmt.Errorf("opening task stream: %w", err)
		}

		feed = &observationFeed{
			buildingID:  buildingID,
			cancel:      cancel,
			subscribers: make(map[uuid.UUID]chan domain.BuildingMetrics),
		}
		r.feeds[buildingID] = feed
		r.metrics.IncObservationFeeds(ctx)
		span.AddEvent("feed_created")

		go r.pump(feedCtx, feed, taskCh)
	}
	r.mu.Unlock()

	subID := uuid.New()
	ch := make(chan domain.BuildingMetrics, observeBufferSize)
	feed.add(subID, ch)

	go func() {
		<-ctx.Done()
		r.drop(buildingID, subID)
	}()

	span.AddEvent("subscriber_added")
	return ch, nil
}

// pump translates task snapshots into metric emissions until the feed's
// context ends or the stream closes.
func (r *ObservationRegistry) pump(ctx context.Context, feed *observationFeed, taskCh <-chan facility.TaskSnapshot) {
	defer feed.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-taskCh:
			if !ok {
				r.removeFeed(context.Background(), feed.buildingID)
				return
			}

			now := r.timeProvider.Now()
			var m domain.BuildingMetrics
			if snap.Err != nil {
				r.logger.Warn(ctx, "task stream error, emitting empty metrics",
					"building_id", feed.buildingID,
					"err", snap.Err,
				)
				m = domain.Empty(feed.buildingID, now)
			} else {
				m = domain.FromTasks(feed.buildingID, snap.Tasks, now)
			}
			feed.emit(m)
		}
	}
}

// drop removes one subscriber, tearing the feed down when it was the last.
func (r *ObservationRegistry) drop(buildingID, subID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feed, ok := r.feeds[buildingID]
	if !ok {
		return
	}
	if feed.remove(subID) == 0 {
		feed.cancel()
		delete(r.feeds, buildingID)
		r.metrics.DecObservationFeeds(context.Background())
	}
}

// Release tears down the building's feed and all its subscriptions.
// Idempotent; called on cache invalidation.
func (r *ObservationRegistry) Release(ctx context.Context, buildingID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(ctx, buildingID)
}

// ReleaseAll tears down every feed.
func (r *ObservationRegistry) ReleaseAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for buildingID := range r.feeds {
		r.releaseLocked(ctx, buildingID)
	}
}

func (r *ObservationRegistry) releaseLocked(ctx context.Context, buildingID uuid.UUID) {
	feed, ok := r.feeds[buildingID]
	if !ok {
		return
	}
	feed.cancel()
	feed.closeAll()
	delete(r.feeds, buildingID)
	r.metrics.DecObservationFeeds(ctx)
}

// ActiveFeeds returns the number of live per-building feeds.
func (r *ObservationRegistry) ActiveFeeds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// removeFeed drops a feed whose underlying stream ended on its own.
func (r *ObservationRegistry) removeFeed(ctx context.Context, buildingID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feed, ok := r.feeds[buildingID]
	if !ok {
		return
	}
	feed.cancel()
	delete(r.feeds, buildingID)
	r.metrics.DecObservationFeeds(ctx)
	r.logger.Debug(ctx, "task stream ended, feed removed", "building_id", buildingID)
}
