package graphmem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/graphmem/pkg/embedder"
	"github.com/soundprediction/graphmem/pkg/extraction"
	"github.com/soundprediction/graphmem/pkg/identity"
	"github.com/soundprediction/graphmem/pkg/search"
	"github.com/soundprediction/graphmem/pkg/store"
	"github.com/soundprediction/graphmem/pkg/types"
)

var (
	// ErrNodeNotFound is returned when a node is not found.
	ErrNodeNotFound = store.ErrNodeNotFound
	// ErrEdgeNotFound is returned when an edge is not found.
	ErrEdgeNotFound = store.ErrEdgeNotFound
	// ErrInvalidMessage is returned when an ingested message fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrEmptyQuery is returned when Search is called with a blank query.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrUnknownLayer is returned for a processing layer outside 1..3.
	ErrUnknownLayer = errors.New("unknown processing layer")
)

// Memory is the main interface for interacting with the temporal
// knowledge-graph memory engine. It covers ingesting conversational turns,
// hybrid search over the accumulated graph, filtered snapshots, and reset.
type Memory interface {
	// Ingest processes a batch of messages up to and including the given
	// processing layer.
	Ingest(ctx context.Context, messages []types.Message, layer ProcessingLayer) error

	// Search performs hybrid lexical + vector retrieval with rank fusion
	// and feature reranking.
	Search(ctx context.Context, query string, opts *types.SearchOptions) ([]types.SearchResult, error)

	// Snapshot returns the nodes and edges matching the filter.
	Snapshot(ctx context.Context, filter *store.Filter) (*types.Snapshot, error)

	// Clear removes all graph state, search indices, and issued ids.
	Clear(ctx context.Context) error

	// GetNode retrieves a specific node.
	GetNode(ctx context.Context, id string) (*types.Node, error)

	// GetEdge retrieves a specific edge.
	GetEdge(ctx context.Context, id string) (*types.Edge, error)

	// Stats reports node and edge counts by type.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying store.
	Close() error
}

// Config holds configuration for the Manager.
type Config struct {
	// Rerank tunes the retrieval reranker.
	Rerank search.RerankConfig
	// CrossEncoder scores query/passage relevance during reranking.
	// Nil disables the cross-encoder feature.
	CrossEncoder search.CrossEncoder
	// CandidateLimit is the per-source candidate pool size for retrieval.
	CandidateLimit int
	// ContextWindow is how many prior episodes from other sessions are
	// offered as extraction context.
	ContextWindow int
	// NeighborLimit caps the similar existing entities offered to
	// deduplication.
	NeighborLimit int
	// LockShards sizes the keyed mutex guarding per-entity writes.
	LockShards int
}

func (c *Config) withDefaults() *Config {
	out := &Config{}
	if c != nil {
		*out = *c
	}
	out.Rerank = out.Rerank.WithDefaults()
	if out.CandidateLimit <= 0 {
		out.CandidateLimit = 20
	}
	if out.ContextWindow <= 0 {
		out.ContextWindow = 4
	}
	if out.NeighborLimit <= 0 {
		out.NeighborLimit = 5
	}
	if out.LockShards <= 0 {
		out.LockShards = 64
	}
	return out
}

// Manager is the main implementation of the Memory interface. It owns the
// graph store, both search indices, the id generator, and the capability
// clients, and coordinates the ingestion and retrieval pipelines.
type Manager struct {
	store     store.GraphStore
	ids       *identity.Generator
	lexical   *search.BM25Index
	vectors   *search.VectorIndex
	extractor extraction.Client
	embedder  embedder.Client
	locks     *store.KeyedMutex
	config    *Config
	logger    *slog.Logger
}

// NewManager creates a Manager over the given store and capability clients.
// extractor and embed may be nil when ingestion never goes past the episodic
// layer and search runs lexical-only.
func NewManager(graphStore store.GraphStore, extractor extraction.Client, embed embedder.Client, config *Config, logger *slog.Logger) (*Manager, error) {
	if graphStore == nil {
		return nil, errors.New("graph store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := config.withDefaults()

	return &Manager{
		store:     graphStore,
		ids:       identity.NewGenerator(),
		lexical:   search.NewBM25Index(),
		vectors:   search.NewVectorIndex(),
		extractor: extractor,
		embedder:  embed,
		locks:     store.NewKeyedMutex(cfg.LockShards),
		config:    cfg,
		logger:    logger,
	}, nil
}

var _ Memory = (*Manager)(nil)

// GetNode retrieves a specific node from the graph.
func (m *Manager) GetNode(ctx context.Context, id string) (*types.Node, error) {
	return m.store.GetNode(ctx, id)
}

// GetEdge retrieves a specific edge from the graph.
func (m *Manager) GetEdge(ctx context.Context, id string) (*types.Edge, error) {
	return m.store.GetEdge(ctx, id)
}

// Snapshot returns the nodes and edges matching the filter. A nil filter
// returns the full graph, episodes included.
func (m *Manager) Snapshot(ctx context.Context, filter *store.Filter) (*types.Snapshot, error) {
	if filter == nil {
		filter = &store.Filter{IncludeEpisodes: true}
	}
	return m.store.Query(ctx, filter)
}

// Clear removes all nodes, edges, index entries, and issued ids.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	m.lexical.Reset()
	m.vectors.Reset()
	m.ids.Reset()
	m.logger.Info("cleared graph memory")
	return nil
}

// Stats reports node and edge counts by type.
type Stats struct {
	Nodes      map[string]int `json:"nodes"`
	Edges      map[string]int `json:"edges"`
	TotalNodes int            `json:"total_nodes"`
	TotalEdges int            `json:"total_edges"`
}

// Stats counts the graph's nodes and edges grouped by type.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	snapshot, err := m.store.Query(ctx, &store.Filter{IncludeEpisodes: true})
	if err != nil {
		return nil, fmt.Errorf("failed to query store: %w", err)
	}
	stats := &Stats{Nodes: make(map[string]int), Edges: make(map[string]int)}
	for _, n := range snapshot.Nodes {
		stats.Nodes[string(n.Type)]++
		stats.TotalNodes++
	}
	for _, e := range snapshot.Edges {
		stats.Edges[string(e.Type)]++
		stats.TotalEdges++
	}
	return stats, nil
}

// Reindex rebuilds both search indices from store contents. Call after
// constructing a Manager over a durable store that already holds data.
func (m *Manager) Reindex(ctx context.Context) error {
	snapshot, err := m.store.Query(ctx, &store.Filter{IncludeEpisodes: true})
	if err != nil {
		return fmt.Errorf("failed to scan store: %w", err)
	}
	m.lexical.Reset()
	m.vectors.Reset()
	for _, n := range snapshot.Nodes {
		m.indexNode(n)
	}
	m.logger.Info("rebuilt search indices", "nodes", len(snapshot.Nodes))
	return nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// indexNode registers the node with both search indices.
func (m *Manager) indexNode(n *types.Node) {
	if text := n.SearchText(); text != "" {
		m.lexical.Add(n.ID, text)
	}
	if len(n.Embedding) > 0 {
		m.vectors.Add(n.ID, n.Embedding)
	}
}

// unindexNode removes the node from both search indices.
func (m *Manager) unindexNode(id string) {
	m.lexical.Remove(id)
	m.vectors.Remove(id)
}
