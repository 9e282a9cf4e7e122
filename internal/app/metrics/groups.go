package metrics

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/avolric/crewsight/internal/domain/metrics"
	"github.com/avolric/crewsight/pkg/common/logger"
)

// PortfolioGroups resolves named building groups to batch metric lookups.
// Group membership is fixed at construction; it comes from operator
// configuration, not from the store.
type PortfolioGroups struct {
	cache  *Cache
	groups map[string][]uuid.UUID

	logger *logger.Logger
	tracer trace.Tracer
}

// NewPortfolioGroups creates a resolver over the given group definitions.
func NewPortfolioGroups(
	cache *Cache,
	groups map[string][]uuid.UUID,
	logger *logger.Logger,
	tracer trace.Tracer,
) *PortfolioGroups {
	owned := make(map[string][]uuid.UUID, len(groups))
	for name, ids := range groups {
		owned[name] = append([]uuid.UUID(nil), ids...)
	}
	return &PortfolioGroups{
		cache:  cache,
		groups: owned,
		logger: logger.With("component", "portfolio_groups"),
		tracer: tracer,
	}
}

// GetGroup returns fresh metrics for every building in the named group.
// Buildings whose metrics cannot be computed are omitted from the result.
func (g *PortfolioGroups) GetGroup(ctx context.Context, name string) (map[uuid.UUID]domain.BuildingMetrics, error) {
	ctx, span := g.tracer.Start(ctx, "portfolio_groups.get_group",
		trace.WithAttributes(
			attribute.String("group", name),
		))
	defer span.End()

	ids, ok := g.groups[name]
	if !ok {
		span.RecordError(ErrGroupNotFound)
		return nil, fmt.Errorf("group %q: %w", name, ErrGroupNotFound)
	}
	span.SetAttributes(attribute.Int("group_size", len(ids)))

	return g.cache.GetBatch(ctx, ids), nil
}

// Names returns the configured group names in stable order.
func (g *PortfolioGroups) Names() []string {
	names := make([]string, 0, len(g.groups))
	for name := range g.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
