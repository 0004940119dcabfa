package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem"
	"github.com/soundprediction/graphmem/pkg/server/dto"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

// stubMemory is a scripted Memory implementation for handler tests.
type stubMemory struct {
	ingested  [][]types.Message
	layers    []graphmem.ProcessingLayer
	ingestErr error

	results   []types.SearchResult
	searchErr error

	snapshot *types.Snapshot
	cleared  bool
	nodes    map[string]*types.Node
	edges    map[string]*types.Edge
}

func (s *stubMemory) Ingest(_ context.Context, msgs []types.Message, layer graphmem.ProcessingLayer) error {
	if s.ingestErr != nil {
		return s.ingestErr
	}
	s.ingested = append(s.ingested, msgs)
	s.layers = append(s.layers, layer)
	return nil
}

func (s *stubMemory) Search(_ context.Context, query string, _ *types.SearchOptions) ([]types.SearchResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.results, nil
}

func (s *stubMemory) Snapshot(_ context.Context, _ *store.Filter) (*types.Snapshot, error) {
	if s.snapshot == nil {
		return &types.Snapshot{}, nil
	}
	return s.snapshot, nil
}

func (s *stubMemory) Clear(_ context.Context) error {
	s.cleared = true
	return nil
}

func (s *stubMemory) GetNode(_ context.Context, id string) (*types.Node, error) {
	if n, ok := s.nodes[id]; ok {
		return n, nil
	}
	return nil, graphmem.ErrNodeNotFound
}

func (s *stubMemory) GetEdge(_ context.Context, id string) (*types.Edge, error) {
	if e, ok := s.edges[id]; ok {
		return e, nil
	}
	return nil, graphmem.ErrEdgeNotFound
}

func (s *stubMemory) Stats(_ context.Context) (*graphmem.Stats, error) {
	return &graphmem.Stats{Nodes: map[string]int{}, Edges: map[string]int{}}, nil
}

func (s *stubMemory) Close() error { return nil }

var _ graphmem.Memory = (*stubMemory)(nil)

func testRouter(memory graphmem.Memory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewMemoryHandler(memory, nil)
	r.POST("/api/v1/ingest", h.Ingest)
	r.POST("/api/v1/search", h.Search)
	r.GET("/api/v1/snapshot", h.Snapshot)
	r.DELETE("/api/v1/clear", h.Clear)
	r.GET("/api/v1/nodes/:id", h.GetNode)
	r.GET("/api/v1/stats", h.Stats)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngestHandler(t *testing.T) {
	mem := &stubMemory{}
	r := testRouter(mem)

	w := doJSON(t, r, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{
		Messages: []types.Message{{ID: "t1", Role: "user", Body: "hello", SessionID: "s1", Timestamp: time.Now()}},
		Layer:    2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Ingested)
	assert.Equal(t, 2, resp.Layer)

	require.Len(t, mem.ingested, 1)
	assert.Equal(t, graphmem.LayerSemantic, mem.layers[0])
}

func TestIngestHandlerValidation(t *testing.T) {
	r := testRouter(&stubMemory{})

	w := doJSON(t, r, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{
		Messages: []types.Message{{Body: "no session"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{
		Messages: []types.Message{{Body: "hi", SessionID: "s1"}},
		Layer:    9,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchHandler(t *testing.T) {
	node := &types.Node{ID: "entity_ab", Type: types.EntityNode("order"), Name: "order #123"}
	mem := &stubMemory{results: []types.SearchResult{{Node: node, Score: 0.6, Confidence: 0.65}}}
	r := testRouter(mem)

	w := doJSON(t, r, http.MethodPost, "/api/v1/search", dto.SearchRequest{Query: "order #123"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "entity_ab", resp.Results[0].Node.ID)
	assert.InDelta(t, 0.65, resp.Results[0].Confidence, 1e-9)

	w = doJSON(t, r, http.MethodPost, "/api/v1/search", dto.SearchRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClearHandlerRequiresConfirmation(t *testing.T) {
	mem := &stubMemory{}
	r := testRouter(mem)

	w := doJSON(t, r, http.MethodDelete, "/api/v1/clear", dto.ClearRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mem.cleared)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/clear", dto.ClearRequest{Confirm: true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mem.cleared)
}

func TestGetNodeHandler(t *testing.T) {
	mem := &stubMemory{nodes: map[string]*types.Node{
		"ep_s1_t1": {ID: "ep_s1_t1", Type: types.EpisodeNodeType, Content: "hello", SessionID: "s1"},
	}}
	r := testRouter(mem)

	w := doJSON(t, r, http.MethodGet, "/api/v1/nodes/ep_s1_t1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var node types.Node
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
	assert.Equal(t, "hello", node.Content)

	w = doJSON(t, r, http.MethodGet, "/api/v1/nodes/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotHandlerQueryParams(t *testing.T) {
	mem := &stubMemory{snapshot: &types.Snapshot{Nodes: []*types.Node{{ID: "a", Type: types.EntityNode("person"), Name: "Alice"}}}}
	r := testRouter(mem)

	w := doJSON(t, r, http.MethodGet, "/api/v1/snapshot?include_episodes=false", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.SnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Nodes, 1)

	w = doJSON(t, r, http.MethodGet, "/api/v1/snapshot?as_of=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
