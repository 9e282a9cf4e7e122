// Package scheduler runs the periodic maintenance jobs behind the dashboard:
// cache hygiene sweeps and the daily portfolio digest.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/pkg/common/logger"
)

// DefaultSweepInterval matches the cache freshness window so an expired
// entry lingers at most one extra window.
const DefaultSweepInterval = 5 * time.Minute

// jobTimeout bounds a single job run.
const jobTimeout = 30 * time.Second

// CacheSweeper removes expired cache entries.
type CacheSweeper interface {
	SweepExpired(ctx context.Context) int
}

// DigestSource computes the current portfolio summary.
type DigestSource interface {
	PortfolioDigest(ctx context.Context) (dashboard.PortfolioIntelligence, error)
}

// Config controls job cadence.
type Config struct {
	// SweepInterval is how often expired cache entries are removed.
	// Non-positive falls back to DefaultSweepInterval.
	SweepInterval time.Duration
	// DigestHour is the UTC hour the daily portfolio digest runs at.
	DigestHour int
	// DigestMinute is the minute within DigestHour.
	DigestMinute int
}

// Scheduler wraps a gocron scheduler around the maintenance jobs.
type Scheduler struct {
	scheduler gocron.Scheduler

	sweeper     CacheSweeper
	digest      DigestSource
	broadcaster dashboard.Broadcaster

	cfg Config

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a scheduler instance. Jobs are registered when Start is called.
func New(
	sweeper CacheSweeper,
	digest DigestSource,
	broadcaster dashboard.Broadcaster,
	cfg Config,
	logger *logger.Logger,
	tracer trace.Tracer,
) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	return &Scheduler{
		scheduler:   s,
		sweeper:     sweeper,
		digest:      digest,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.With("component", "scheduler"),
		tracer:      tracer,
	}, nil
}

// Start registers the maintenance jobs and begins running them.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.SweepInterval),
		gocron.NewTask(s.runSweep),
		gocron.WithName("cache-sweep"),
	); err != nil {
		return fmt.Errorf("failed to schedule cache sweep: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(
			gocron.NewAtTime(uint(s.cfg.DigestHour), uint(s.cfg.DigestMinute), 0),
		)),
		gocron.NewTask(s.runDigest),
		gocron.WithName("portfolio-digest"),
	); err != nil {
		return fmt.Errorf("failed to schedule portfolio digest: %w", err)
	}

	s.logger.Info(ctx, "scheduler started",
		"sweep_interval", s.cfg.SweepInterval.String(),
		"digest_at", fmt.Sprintf("%02d:%02d UTC", s.cfg.DigestHour, s.cfg.DigestMinute),
	)
	s.scheduler.Start()
	return nil
}

// Stop gracefully shuts down the scheduler. Running jobs finish first.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "scheduler.cache_sweep")
	defer span.End()

	// The sweeper logs its own removal count; the span attribute is enough here.
	removed := s.sweeper.SweepExpired(ctx)
	span.SetAttributes(attribute.Int("removed", removed))
}

func (s *Scheduler) runDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.BroadcastDigest(ctx); err != nil {
		s.logger.Error(ctx, "daily portfolio digest failed", "err", err)
	}
}

// BroadcastDigest computes a fresh portfolio summary and broadcasts it as an
// intelligence-generated update. On failure nothing is broadcast; the next
// scheduled run retries.
func (s *Scheduler) BroadcastDigest(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.portfolio_digest")
	defer span.End()

	pi, err := s.digest.PortfolioDigest(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "digest failed")
		return fmt.Errorf("computing portfolio digest: %w", err)
	}

	update := dashboard.NewIntelligenceGeneratedUpdate(dashboard.AudienceAdmin, dashboard.IntelligenceGeneratedPayload{
		Summary:       pi.Summary,
		BuildingCount: pi.BuildingCount,
		AverageScore:  pi.AverageScore,
		GeneratedAt:   pi.GeneratedAt,
	})
	s.broadcaster.Broadcast(ctx, update)

	s.logger.Info(ctx, "daily portfolio digest broadcast",
		"building_count", pi.BuildingCount,
		"average_score", pi.AverageScore,
	)
	span.SetStatus(codes.Ok, "digest broadcast")
	return nil
}
