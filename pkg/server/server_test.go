package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem"
	"github.com/soundprediction/graphmem/pkg/config"
	"github.com/soundprediction/graphmem/pkg/server/dto"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := graphmem.NewManager(store.NewMemoryStore(), nil, nil, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, Mode: "test"}}
	s := New(cfg, mgr, logger)
	s.Setup()
	return s
}

func serve(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/live", "/ready"} {
		w := serve(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := serve(t, s, http.MethodGet, "/health", nil)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "graphmem", resp["service"])
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := serve(t, s, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))
}

func TestIngestSearchRoundTrip(t *testing.T) {
	s := newTestServer(t)

	w := serve(t, s, http.MethodPost, "/api/v1/ingest", dto.IngestRequest{
		Messages: []types.Message{
			{ID: "t1", Role: "user", Body: "the parcel arrived today", SessionID: "s1", Timestamp: time.Now().UTC()},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(t, s, http.MethodPost, "/api/v1/search", dto.SearchRequest{Query: "parcel"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "ep_s1_t1", resp.Results[0].Node.ID)

	w = serve(t, s, http.MethodDelete, "/api/v1/clear", dto.ClearRequest{Confirm: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, s, http.MethodGet, "/api/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap dto.SnapshotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Empty(t, snap.Nodes)
}
