package graphmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem"
	"github.com/soundprediction/graphmem/pkg/extraction"
	"github.com/soundprediction/graphmem/pkg/types"
)

func orderExtractor() *mockExtractor {
	return &mockExtractor{
		extractEntities: func(*extraction.ExtractEntitiesRequest) (*extraction.ExtractEntitiesResponse, error) {
			return &extraction.ExtractEntitiesResponse{Entities: []extraction.CandidateEntity{
				{Name: "order #123", Type: "order", Summary: "A customer order for a laptop."},
			}}, nil
		},
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	mgr := newTestManager(t, &mockExtractor{})
	_, err := mgr.Search(context.Background(), "   ", nil)
	require.ErrorIs(t, err, graphmem.ErrEmptyQuery)
}

func TestSearchOrderEndToEnd(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, orderExtractor())

	ts := time.Now().UTC().Add(-time.Hour)
	err := mgr.Ingest(ctx, []types.Message{
		msg("s1", "t1", "user", "Where is order #123?", ts),
		msg("s1", "t2", "assistant", "Order #123 shipped this morning.", ts.Add(time.Minute)),
		msg("s2", "t1", "user", "The weather is nice today.", ts.Add(2*time.Minute)),
	}, graphmem.LayerSemantic)
	require.NoError(t, err)

	results, err := mgr.Search(ctx, "order #123", nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	foundEntity := false
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score, "results must be ordered by score")
		}
		if r.Node.Name == "order #123" {
			foundEntity = true
			assert.GreaterOrEqual(t, r.Confidence, r.Score, "well-defined validity boosts confidence")
		}
	}
	assert.True(t, foundEntity, "the extracted order entity must be retrievable")
}

func TestSearchLimit(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, orderExtractor())

	ts := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, mgr.Ingest(ctx, []types.Message{
		msg("s1", "t1", "user", "Where is order #123?", ts),
		msg("s1", "t2", "assistant", "Order #123 shipped this morning.", ts.Add(time.Minute)),
	}, graphmem.LayerSemantic))

	results, err := mgr.Search(ctx, "order", &types.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchFilters(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, orderExtractor())

	ts := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, mgr.Ingest(ctx, []types.Message{
		msg("s1", "t1", "user", "Where is order #123?", ts),
		msg("s1", "t2", "assistant", "Order #123 shipped this morning.", ts.Add(time.Minute)),
	}, graphmem.LayerSemantic))

	t.Run("role", func(t *testing.T) {
		results, err := mgr.Search(ctx, "order #123", &types.SearchOptions{
			Filters: &types.SearchFilters{Role: "assistant"},
		})
		require.NoError(t, err)
		for _, r := range results {
			if r.Node.Type == types.EpisodeNodeType {
				assert.Equal(t, "assistant", r.Node.Actor)
			}
		}
	})

	t.Run("node types", func(t *testing.T) {
		results, err := mgr.Search(ctx, "order #123", &types.SearchOptions{
			Filters: &types.SearchFilters{NodeTypes: []types.NodeType{types.EntityNodeType}},
		})
		require.NoError(t, err)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.True(t, r.Node.Type.IsEntity())
		}
	})

	t.Run("time range", func(t *testing.T) {
		results, err := mgr.Search(ctx, "order #123", &types.SearchOptions{
			Filters: &types.SearchFilters{TimeRange: &types.TimeRange{
				Start: ts.Add(30 * time.Second),
				End:   ts.Add(90 * time.Second),
			}},
		})
		require.NoError(t, err)
		for _, r := range results {
			if r.Node.Type == types.EpisodeNodeType {
				assert.Equal(t, "t2", r.Node.TurnID)
			}
		}
	})
}

func TestSearchAsOfBeforeCreationSeesNothing(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, orderExtractor())

	ts := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, mgr.Ingest(ctx, []types.Message{
		msg("s1", "t1", "user", "Where is order #123?", ts),
	}, graphmem.LayerSemantic))

	results, err := mgr.Search(ctx, "order #123", &types.SearchOptions{
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, results, "nothing existed 48 hours ago in transaction time")
}

func TestSearchLexicalOnlyWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	mgr, err := graphmem.NewManager(newMemoryStore(), &mockExtractor{}, nil, nil, discardLogger())
	require.NoError(t, err)
	defer mgr.Close()

	ts := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, mgr.Ingest(ctx, []types.Message{
		msg("s1", "t1", "user", "the parcel arrived", ts),
	}, graphmem.LayerEpisodic))

	results, err := mgr.Search(ctx, "parcel", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ep_s1_t1", results[0].Node.ID)
}
