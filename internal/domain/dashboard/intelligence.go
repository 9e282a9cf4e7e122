package dashboard

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avolric/crewsight/internal/domain/metrics"
)

// attentionScoreFloor is the overall score below which a building needs
// attention regardless of compliance.
const attentionScoreFloor = 50

// PortfolioIntelligence is the latest portfolio-level summary across all
// buildings. It is produced by portfolio refreshes and the daily digest.
type PortfolioIntelligence struct {
	BuildingCount   int
	AverageScore    float64
	AttentionNeeded []uuid.UUID
	Summary         string
	GeneratedAt     time.Time
	AutoGenerated   bool
}

// BuildIntelligence derives the portfolio summary from the latest
// per-building snapshots. buildingCount is the authoritative portfolio size;
// byBuilding may cover fewer buildings when some metrics were unavailable.
func BuildIntelligence(
	buildingCount int,
	byBuilding map[uuid.UUID]metrics.BuildingMetrics,
	at time.Time,
	autoGenerated bool,
) PortfolioIntelligence {
	var (
		scoreSum  int
		attention []uuid.UUID
	)
	for id, m := range byBuilding {
		scoreSum += m.OverallScore()
		if m.OverallScore() < attentionScoreFloor || !m.Compliant() {
			attention = append(attention, id)
		}
	}

	average := 0.0
	if len(byBuilding) > 0 {
		average = float64(scoreSum) / float64(len(byBuilding))
	}

	return PortfolioIntelligence{
		BuildingCount:   buildingCount,
		AverageScore:    average,
		AttentionNeeded: attention,
		Summary: fmt.Sprintf("%d buildings, average score %.1f, %d needing attention",
			buildingCount, average, len(attention)),
		GeneratedAt:   at,
		AutoGenerated: autoGenerated,
	}
}
