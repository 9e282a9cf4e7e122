package dashboard

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFeedBuffer_EvictsOldestBeyondCapacity(t *testing.T) {
	buf := NewFeedBuffer[string](FeedCapacity)

	for i := 0; i < 15; i++ {
		buf.Append(fmt.Sprintf("entry-%d", i))
	}

	entries := buf.Entries()
	assert.Len(t, entries, FeedCapacity)
	assert.Equal(t, "entry-5", entries[0])
	assert.Equal(t, "entry-14", entries[len(entries)-1])
}

func TestFeedBuffer_EntriesReturnsCopy(t *testing.T) {
	buf := NewFeedBuffer[int](3)
	buf.Append(1)
	buf.Append(2)

	entries := buf.Entries()
	entries[0] = 99

	assert.Equal(t, []int{1, 2}, buf.Entries())
}

func TestFeedBuffer_ConcurrentAppends(t *testing.T) {
	buf := NewFeedBuffer[int](FeedCapacity)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			buf.Append(n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, FeedCapacity, buf.Len())
}

func TestNewAdminAlert_DerivesSeverity(t *testing.T) {
	u := NewMetricsChangedUpdate(AudienceAdmin, MetricsChangedPayload{
		BuildingID:     uuid.New(),
		CompletionRate: 0.3,
		OverdueTasks:   2,
		OverallScore:   28,
	})

	alert := NewAdminAlert(u)

	assert.NotEqual(t, uuid.Nil, alert.ID)
	assert.Equal(t, SeverityHigh, alert.Severity)
	assert.Equal(t, u.BuildingID(), alert.BuildingID)
	assert.NotEmpty(t, alert.Message)
}

func TestNewClientMetric_Labels(t *testing.T) {
	u := NewPortfolioUpdatedUpdate(AudienceClient, PortfolioUpdatedPayload{BuildingCount: 12})

	metric := NewClientMetric(u)

	assert.Equal(t, "buildings", metric.Label)
	assert.Equal(t, "12", metric.Value)
}

func TestNewWorkerActivity(t *testing.T) {
	workerID := uuid.New()
	u := NewWorkerClockedInUpdate(AudienceWorker, WorkerClockedInPayload{
		BuildingID: uuid.New(),
		WorkerID:   workerID,
		WorkerName: "Dana",
	})

	activity := NewWorkerActivity(u)

	assert.Equal(t, workerID, *activity.WorkerID)
	assert.Contains(t, activity.Action, "Dana")
	assert.False(t, activity.OccurredAt.IsZero())
}
