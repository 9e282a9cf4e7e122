package metrics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name          string
		rate          float64
		compliant     bool
		activeWorkers int
		expected      int
	}{
		{
			name:          "perfect building",
			rate:          1.0,
			compliant:     true,
			activeWorkers: 3,
			expected:      100,
		},
		{
			name:          "no data",
			rate:          0,
			compliant:     true,
			activeWorkers: 0,
			expected:      30,
		},
		{
			name:          "partial completion with workers, non-compliant",
			rate:          0.6,
			compliant:     false,
			activeWorkers: 2,
			expected:      46,
		},
		{
			name:          "rounding up",
			rate:          0.5583,
			compliant:     true,
			activeWorkers: 1,
			expected:      73, // 33.498 + 30 + 10
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Score(tt.rate, tt.compliant, tt.activeWorkers))
		})
	}
}

func TestFromSnapshot_DerivedInvariants(t *testing.T) {
	buildingID := uuid.New()
	now := time.Now().UTC()

	m := FromSnapshot(Snapshot{
		BuildingID:     buildingID,
		TotalTasks:     10,
		CompletedTasks: 6,
		OverdueTasks:   1,
		UrgentTasks:    2,
		ActiveWorkers:  2,
		WorkerOnSite:   true,
		Efficiency:     0.9,
		WeeklyTrend:    1.5,
		ComputedAt:     now,
	})

	assert.Equal(t, buildingID, m.BuildingID())
	assert.InDelta(t, 0.6, m.CompletionRate(), 1e-9)
	assert.Equal(t, 4, m.PendingTasks())
	assert.Equal(t, m.TotalTasks()-m.CompletedTasks(), m.PendingTasks())
	assert.False(t, m.Compliant())
	assert.Equal(t, 46, m.OverallScore())
	assert.Equal(t, Score(m.CompletionRate(), m.Compliant(), m.ActiveWorkers()), m.OverallScore())
	assert.Equal(t, now, m.ComputedAt())
}

func TestFromSnapshot_ZeroTasks(t *testing.T) {
	m := FromSnapshot(Snapshot{BuildingID: uuid.New(), ComputedAt: time.Now()})

	assert.Zero(t, m.CompletionRate())
	assert.Zero(t, m.PendingTasks())
	assert.True(t, m.Compliant())
	// Compliance alone: no completion, no workers.
	assert.Equal(t, 30, m.OverallScore())
}

func TestEmpty_NeutralDefaults(t *testing.T) {
	buildingID := uuid.New()
	now := time.Now().UTC()

	m := Empty(buildingID, now)

	assert.Equal(t, buildingID, m.BuildingID())
	assert.Equal(t, DefaultEfficiency, m.Efficiency())
	assert.Equal(t, DefaultTrend, m.WeeklyTrend())
	assert.Zero(t, m.UrgentTasks())
	assert.Nil(t, m.LastActivityAt())
}

func TestCacheEntry_IsExpired(t *testing.T) {
	now := time.Now().UTC()
	entry := NewCacheEntry(Empty(uuid.New(), now), now)

	assert.False(t, entry.IsExpired(now, FreshnessWindow))
	assert.False(t, entry.IsExpired(now.Add(FreshnessWindow), FreshnessWindow))
	assert.True(t, entry.IsExpired(now.Add(FreshnessWindow+time.Second), FreshnessWindow))
}
