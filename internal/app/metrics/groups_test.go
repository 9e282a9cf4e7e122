package metrics

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/avolric/crewsight/pkg/common/logger"
)

func TestPortfolioGroups_GetGroup(t *testing.T) {
	downtown1 := uuid.New()
	downtown2 := uuid.New()
	suburb := uuid.New()

	source := new(mockComputeSource)
	cache, _, _ := newTestCache(t, source, nil)
	groups := NewPortfolioGroups(
		cache,
		map[string][]uuid.UUID{
			"downtown": {downtown1, downtown2},
			"suburbs":  {suburb},
		},
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)

	results, err := groups.GetGroup(context.Background(), "downtown")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Contains(t, results, downtown1)
	assert.Contains(t, results, downtown2)
	assert.NotContains(t, results, suburb)
	assert.Equal(t, 2, source.calls())
}

func TestPortfolioGroups_GetGroupUnknownName(t *testing.T) {
	cache, _, _ := newTestCache(t, new(mockComputeSource), nil)
	groups := NewPortfolioGroups(cache, nil, logger.Noop(), noop.NewTracerProvider().Tracer("test"))

	_, err := groups.GetGroup(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestPortfolioGroups_Names(t *testing.T) {
	cache, _, _ := newTestCache(t, new(mockComputeSource), nil)
	groups := NewPortfolioGroups(
		cache,
		map[string][]uuid.UUID{
			"suburbs":  nil,
			"downtown": nil,
			"airport":  nil,
		},
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)

	assert.Equal(t, []string{"airport", "downtown", "suburbs"}, groups.Names())
}
