package graphmem_test

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem"
	"github.com/soundprediction/graphmem/pkg/extraction"
	"github.com/soundprediction/graphmem/pkg/search"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

// mockEmbedder produces deterministic bag-of-words vectors so similar texts
// get similar embeddings without a provider.
type mockEmbedder struct{}

const mockDims = 16

func (mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = mockVector(t)
	}
	return out, nil
}

func (m mockEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (mockEmbedder) Dimensions() int { return mockDims }

func mockVector(text string) []float32 {
	vec := make([]float32, mockDims)
	for _, tok := range search.Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%mockDims]++
	}
	return vec
}

// mockExtractor is a scripted extraction capability. Nil function fields
// fall back to sensible defaults: no entities, name-equality deduplication,
// no relationships, candidate-summary merges, one community of everything.
type mockExtractor struct {
	extractEntities   func(*extraction.ExtractEntitiesRequest) (*extraction.ExtractEntitiesResponse, error)
	dedupeNode        func(*extraction.DedupeNodeRequest) (*extraction.DedupeNodeResponse, error)
	extractTemporal   func(*extraction.ExtractTemporalRequest) (*extraction.ExtractTemporalResponse, error)
	resolveFacts      func(*extraction.ResolveFactsRequest) (*extraction.ResolveFactsResponse, error)
	summarizeNode     func(*extraction.SummarizeNodeRequest) (*extraction.SummarizeNodeResponse, error)
	refineCommunities func(*extraction.RefineCommunitiesRequest) (*extraction.RefineCommunitiesResponse, error)
}

func (m *mockExtractor) ExtractEntities(_ context.Context, req *extraction.ExtractEntitiesRequest) (*extraction.ExtractEntitiesResponse, error) {
	if m.extractEntities != nil {
		return m.extractEntities(req)
	}
	return &extraction.ExtractEntitiesResponse{}, nil
}

func (m *mockExtractor) DedupeNode(_ context.Context, req *extraction.DedupeNodeRequest) (*extraction.DedupeNodeResponse, error) {
	if m.dedupeNode != nil {
		return m.dedupeNode(req)
	}
	for _, e := range req.Existing {
		if strings.EqualFold(e.Name, req.Candidate.Name) {
			return &extraction.DedupeNodeResponse{DuplicateOf: e.ID}, nil
		}
	}
	return &extraction.DedupeNodeResponse{}, nil
}

func (m *mockExtractor) ExtractTemporal(_ context.Context, req *extraction.ExtractTemporalRequest) (*extraction.ExtractTemporalResponse, error) {
	if m.extractTemporal != nil {
		return m.extractTemporal(req)
	}
	return &extraction.ExtractTemporalResponse{}, nil
}

func (m *mockExtractor) ResolveFacts(_ context.Context, req *extraction.ResolveFactsRequest) (*extraction.ResolveFactsResponse, error) {
	if m.resolveFacts != nil {
		return m.resolveFacts(req)
	}
	return &extraction.ResolveFactsResponse{}, nil
}

func (m *mockExtractor) SummarizeNode(_ context.Context, req *extraction.SummarizeNodeRequest) (*extraction.SummarizeNodeResponse, error) {
	if m.summarizeNode != nil {
		return m.summarizeNode(req)
	}
	return &extraction.SummarizeNodeResponse{Summary: req.CandidateSummary}, nil
}

func (m *mockExtractor) RefineCommunities(_ context.Context, req *extraction.RefineCommunitiesRequest) (*extraction.RefineCommunitiesResponse, error) {
	if m.refineCommunities != nil {
		return m.refineCommunities(req)
	}
	if len(req.Entities) == 0 {
		return &extraction.RefineCommunitiesResponse{}, nil
	}
	ids := make([]string, 0, len(req.Entities))
	for _, e := range req.Entities {
		ids = append(ids, e.ID)
	}
	return &extraction.RefineCommunitiesResponse{
		Communities: []extraction.Community{{Summary: "everything", MemberIDs: ids}},
	}, nil
}

var _ extraction.Client = (*mockExtractor)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryStore() *store.MemoryStore { return store.NewMemoryStore() }

func newTestManager(t *testing.T, extractor extraction.Client) *graphmem.Manager {
	t.Helper()
	mgr, err := graphmem.NewManager(newMemoryStore(), extractor, mockEmbedder{}, nil, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func msg(session, turn, role, body string, ts time.Time) types.Message {
	return types.Message{ID: turn, SessionID: session, Role: role, Body: body, Timestamp: ts}
}

func TestManagerGetNodeNotFound(t *testing.T) {
	mgr := newTestManager(t, &mockExtractor{})
	_, err := mgr.GetNode(context.Background(), "nope")
	require.ErrorIs(t, err, graphmem.ErrNodeNotFound)

	_, err = mgr.GetEdge(context.Background(), "nope")
	require.ErrorIs(t, err, graphmem.ErrEdgeNotFound)
}

func TestManagerStats(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &mockExtractor{})

	ts := time.Now().UTC().Add(-time.Hour)
	err := mgr.Ingest(ctx, []types.Message{
		msg("s1", "t1", "user", "hello there", ts),
		msg("s1", "t2", "assistant", "hi", ts.Add(time.Minute)),
	}, graphmem.LayerEpisodic)
	require.NoError(t, err)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalNodes)
	require.Equal(t, 2, stats.Nodes[string(types.EpisodeNodeType)])
	require.Equal(t, 0, stats.TotalEdges)
}

func TestManagerClear(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &mockExtractor{
		extractEntities: func(*extraction.ExtractEntitiesRequest) (*extraction.ExtractEntitiesResponse, error) {
			return &extraction.ExtractEntitiesResponse{Entities: []extraction.CandidateEntity{
				{Name: "Acme", Type: "organization", Summary: "A company."},
			}}, nil
		},
	})

	ts := time.Now().UTC().Add(-time.Hour)
	err := mgr.Ingest(ctx, []types.Message{msg("s1", "t1", "user", "Acme shipped it", ts)}, graphmem.LayerSemantic)
	require.NoError(t, err)

	require.NoError(t, mgr.Clear(ctx))

	snap, err := mgr.Snapshot(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, snap.Nodes)
	require.Empty(t, snap.Edges)

	results, err := mgr.Search(ctx, "Acme", nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestManagerSnapshotFiltersEpisodesByDefault(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, &mockExtractor{
		extractEntities: func(*extraction.ExtractEntitiesRequest) (*extraction.ExtractEntitiesResponse, error) {
			return &extraction.ExtractEntitiesResponse{Entities: []extraction.CandidateEntity{
				{Name: "Acme", Type: "organization", Summary: "A company."},
			}}, nil
		},
	})

	ts := time.Now().UTC().Add(-time.Hour)
	err := mgr.Ingest(ctx, []types.Message{msg("s1", "t1", "user", "Acme shipped it", ts)}, graphmem.LayerSemantic)
	require.NoError(t, err)

	entityView, err := mgr.Snapshot(ctx, &store.Filter{})
	require.NoError(t, err)
	for _, n := range entityView.Nodes {
		require.NotEqual(t, types.EpisodeNodeType, n.Type)
	}

	full, err := mgr.Snapshot(ctx, nil)
	require.NoError(t, err)
	require.Greater(t, len(full.Nodes), len(entityView.Nodes))
}
