package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/avolric/crewsight/internal/domain/facility"
	domain "github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common"
	"github.com/avolric/crewsight/pkg/common/logger"
	"github.com/avolric/crewsight/pkg/common/timeutil"
)

// maintenanceWindowDays is the trailing window for the maintenance
// efficiency figure.
const maintenanceWindowDays = 30

// trendDays is the trailing window for the daily-completion trend.
const trendDays = 7

// Computer derives a metrics snapshot for one building from raw facility
// rows. It is stateless per call; the independent sub-queries of one
// derivation run concurrently, as do derivations for different buildings.
type Computer struct {
	store   facility.Store
	limiter *common.RateLimiter

	timeProvider timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewComputer creates a Computer reading from the given store. The limiter
// bounds how fast computations may hit the store across all callers.
func NewComputer(store facility.Store, limiter *common.RateLimiter, logger *logger.Logger, tracer trace.Tracer) *Computer {
	return &Computer{
		store:        store,
		limiter:      limiter,
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "metrics_computer"),
		tracer:       tracer,
	}
}

// Compute derives the building's current metrics snapshot. Store failures
// are returned as a *ComputeError; figures with insufficient underlying data
// resolve to their neutral defaults instead of failing.
func (c *Computer) Compute(ctx context.Context, buildingID uuid.UUID) (domain.BuildingMetrics, error) {
	ctx, span := c.tracer.Start(ctx, "metrics_computer.compute",
		trace.WithAttributes(
			attribute.String("building_id", buildingID.String()),
		))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit wait canceled")
		return domain.BuildingMetrics{}, &ComputeError{BuildingID: buildingID, Err: err}
	}

	now := c.timeProvider.Now()

	var (
		tasks        []facility.Task
		presence     facility.WorkerPresence
		maintenance  facility.MaintenanceStats
		completions  []facility.DailyCompletionCount
		lastActivity *time.Time
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tasks, err = c.store.TasksScheduledOn(gCtx, buildingID, now); err != nil {
			return fmt.Errorf("loading task rows: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		if presence, err = c.store.WorkerPresence(gCtx, buildingID, now); err != nil {
			return fmt.Errorf("loading worker presence: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		since := now.AddDate(0, 0, -maintenanceWindowDays)
		if maintenance, err = c.store.MaintenanceStats(gCtx, buildingID, since); err != nil {
			return fmt.Errorf("loading maintenance stats: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		if completions, err = c.store.DailyCompletionCounts(gCtx, buildingID, trendDays); err != nil {
			return fmt.Errorf("loading completion counts: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		at, err := c.store.LastActivityAt(gCtx, buildingID)
		if err != nil {
			// A building with no history is not a failure.
			if errors.Is(err, facility.ErrNoActivity) {
				return nil
			}
			return fmt.Errorf("loading last activity: %w", err)
		}
		lastActivity = &at
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metrics computation failed")
		return domain.BuildingMetrics{}, &ComputeError{BuildingID: buildingID, Err: err}
	}

	counts := domain.CountTasks(tasks, now)
	m := domain.FromSnapshot(domain.Snapshot{
		BuildingID:     buildingID,
		TotalTasks:     counts.Total,
		CompletedTasks: counts.Completed,
		OverdueTasks:   counts.Overdue,
		UrgentTasks:    counts.Urgent,
		ActiveWorkers:  presence.ActiveWorkers,
		WorkerOnSite:   presence.OnSite,
		Efficiency:     domain.EfficiencyFrom(maintenance),
		WeeklyTrend:    domain.TrendFrom(completions),
		LastActivityAt: lastActivity,
		ComputedAt:     now,
	})

	span.AddEvent("metrics_computed", trace.WithAttributes(
		attribute.Int("total_tasks", m.TotalTasks()),
		attribute.Int("overall_score", m.OverallScore()),
	))
	span.SetStatus(codes.Ok, "metrics computed")

	return m, nil
}
