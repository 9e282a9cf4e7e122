package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/avolric/crewsight/internal/domain/dashboard"
	"github.com/avolric/crewsight/pkg/common/logger"
)

type mockSweeper struct {
	mu      sync.Mutex
	calls   int
	removed int
}

func (m *mockSweeper) SweepExpired(context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.removed
}

func (m *mockSweeper) sweeps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockDigestSource struct {
	digestFn func(ctx context.Context) (dashboard.PortfolioIntelligence, error)
}

func (m *mockDigestSource) PortfolioDigest(ctx context.Context) (dashboard.PortfolioIntelligence, error) {
	if m.digestFn != nil {
		return m.digestFn(ctx)
	}
	return dashboard.PortfolioIntelligence{}, nil
}

type mockBroadcaster struct {
	mu      sync.Mutex
	updates []dashboard.DashboardUpdate
}

func (m *mockBroadcaster) Broadcast(_ context.Context, update dashboard.DashboardUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
}

func (m *mockBroadcaster) broadcasts() []dashboard.DashboardUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dashboard.DashboardUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

func newTestScheduler(t *testing.T, cfg Config, sweeper *mockSweeper, digest *mockDigestSource, broadcaster *mockBroadcaster) *Scheduler {
	t.Helper()

	if sweeper == nil {
		sweeper = new(mockSweeper)
	}
	if digest == nil {
		digest = new(mockDigestSource)
	}
	if broadcaster == nil {
		broadcaster = new(mockBroadcaster)
	}

	s, err := New(sweeper, digest, broadcaster, cfg, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestScheduler_StartRegistersBothJobs(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, Config{DigestHour: 6}, nil, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	require.Len(t, s.scheduler.Jobs(), 2)
	assert.Equal(t, DefaultSweepInterval, s.cfg.SweepInterval)
}

func TestScheduler_RejectsInvalidDigestTime(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, Config{DigestHour: 99}, nil, nil, nil)
	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_SweepRunsOnInterval(t *testing.T) {
	t.Parallel()

	sweeper := &mockSweeper{removed: 3}
	s := newTestScheduler(t, Config{SweepInterval: 10 * time.Millisecond, DigestHour: 6}, sweeper, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return sweeper.sweeps() >= 2 },
		2*time.Second, 5*time.Millisecond, "sweep job never ran")
}

func TestScheduler_BroadcastDigest(t *testing.T) {
	t.Parallel()

	generatedAt := time.Now().UTC()
	digest := &mockDigestSource{
		digestFn: func(context.Context) (dashboard.PortfolioIntelligence, error) {
			return dashboard.PortfolioIntelligence{
				BuildingCount: 7,
				AverageScore:  64.5,
				Summary:       "7 buildings, average score 64.5, 2 needing attention",
				GeneratedAt:   generatedAt,
			}, nil
		},
	}
	broadcaster := new(mockBroadcaster)
	s := newTestScheduler(t, Config{DigestHour: 6}, nil, digest, broadcaster)

	require.NoError(t, s.BroadcastDigest(context.Background()))

	updates := broadcaster.broadcasts()
	require.Len(t, updates, 1)
	assert.Equal(t, dashboard.KindIntelligenceGenerated, updates[0].UpdateKind())
	assert.Equal(t, dashboard.AudienceAdmin, updates[0].Origin())

	payload, ok := updates[0].Payload().(dashboard.IntelligenceGeneratedPayload)
	require.True(t, ok)
	assert.Equal(t, 7, payload.BuildingCount)
	assert.InDelta(t, 64.5, payload.AverageScore, 1e-9)
	assert.Equal(t, generatedAt, payload.GeneratedAt)
}

func TestScheduler_DigestFailureSkipsBroadcast(t *testing.T) {
	t.Parallel()

	digest := &mockDigestSource{
		digestFn: func(context.Context) (dashboard.PortfolioIntelligence, error) {
			return dashboard.PortfolioIntelligence{}, errors.New("metrics unavailable")
		},
	}
	broadcaster := new(mockBroadcaster)
	s := newTestScheduler(t, Config{DigestHour: 6}, nil, digest, broadcaster)

	require.Error(t, s.BroadcastDigest(context.Background()))
	assert.Empty(t, broadcaster.broadcasts())
}
