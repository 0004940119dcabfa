package store

import (
	"context"
	"sync"
	"time"

	"github.com/soundprediction/graphmem/pkg/types"
)

// MemoryStore is the in-memory reference implementation of GraphStore.
// All methods are safe for concurrent use; the RWMutex serializes
// structural mutation against readers.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*types.Node
	edges map[string]*types.Edge
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*types.Node),
		edges: make(map[string]*types.Edge),
	}
}

var _ GraphStore = (*MemoryStore)(nil)

// AddNode stores a new node. The node's CreatedAt is stamped if zero.
func (s *MemoryStore) AddNode(ctx context.Context, node *types.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	if err := validateNodeTemporal(node); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[node.ID]; ok {
		return ErrNodeExists
	}
	s.nodes[node.ID] = cloneNode(node)
	return nil
}

// GetNode returns a copy of the node, or ErrNodeNotFound.
func (s *MemoryStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return cloneNode(node), nil
}

// UpdateNode merges the partial update into the stored node.
func (s *MemoryStore) UpdateNode(ctx context.Context, id string, update *NodeUpdate) (*types.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}

	applyNodeUpdate(node, update)
	if err := validateNodeTemporal(node); err != nil {
		return nil, err
	}
	return cloneNode(node), nil
}

// DeleteNode removes the node. Deletion is refused with ErrNodeInUse while
// any edge references the node.
func (s *MemoryStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return ErrNodeNotFound
	}
	for _, e := range s.edges {
		if e.SourceID == id || e.TargetID == id {
			return ErrNodeInUse
		}
	}
	delete(s.nodes, id)
	return nil
}

// AddEdge stores a new edge after verifying both endpoints exist.
func (s *MemoryStore) AddEdge(ctx context.Context, edge *types.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	if err := validateEdgeTemporal(edge); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[edge.SourceID]; !ok {
		return ErrMissingEndpoint
	}
	if _, ok := s.nodes[edge.TargetID]; !ok {
		return ErrMissingEndpoint
	}
	if _, ok := s.edges[edge.ID]; ok {
		return ErrEdgeExists
	}
	s.edges[edge.ID] = cloneEdge(edge)
	return nil
}

// GetEdge returns a copy of the edge, or ErrEdgeNotFound.
func (s *MemoryStore) GetEdge(ctx context.Context, id string) (*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edge, ok := s.edges[id]
	if !ok {
		return nil, ErrEdgeNotFound
	}
	return cloneEdge(edge), nil
}

// UpdateEdge merges the partial update into the stored edge.
func (s *MemoryStore) UpdateEdge(ctx context.Context, id string, update *EdgeUpdate) (*types.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, ok := s.edges[id]
	if !ok {
		return nil, ErrEdgeNotFound
	}

	applyEdgeUpdate(edge, update)
	if err := validateEdgeTemporal(edge); err != nil {
		return nil, err
	}
	return cloneEdge(edge), nil
}

// DeleteEdge removes the edge.
func (s *MemoryStore) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return ErrEdgeNotFound
	}
	delete(s.edges, id)
	return nil
}

// Query applies the filter and returns matching nodes plus edges whose
// endpoints both matched.
func (s *MemoryStore) Query(ctx context.Context, filter *Filter) (*types.Snapshot, error) {
	if filter == nil {
		filter = &Filter{IncludeEpisodes: true}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &types.Snapshot{Nodes: []*types.Node{}, Edges: []*types.Edge{}}
	matched := make(map[string]bool, len(s.nodes))
	for _, n := range s.nodes {
		if matchesFilter(n, filter) {
			matched[n.ID] = true
			snapshot.Nodes = append(snapshot.Nodes, cloneNode(n))
		}
	}
	for _, e := range s.edges {
		if !matched[e.SourceID] || !matched[e.TargetID] {
			continue
		}
		if filter.AsOf != nil && !e.VisibleAt(*filter.AsOf) {
			continue
		}
		snapshot.Edges = append(snapshot.Edges, cloneEdge(e))
	}
	return snapshot, nil
}

// EdgesForNode returns all edges touching the node, in either direction.
func (s *MemoryStore) EdgesForNode(ctx context.Context, nodeID string) ([]*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Edge
	for _, e := range s.edges {
		if e.SourceID == nodeID || e.TargetID == nodeID {
			out = append(out, cloneEdge(e))
		}
	}
	return out, nil
}

// EdgesBetween returns edges connecting the two nodes in either direction.
func (s *MemoryStore) EdgesBetween(ctx context.Context, aID, bID string) ([]*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Edge
	for _, e := range s.edges {
		if (e.SourceID == aID && e.TargetID == bID) || (e.SourceID == bID && e.TargetID == aID) {
			out = append(out, cloneEdge(e))
		}
	}
	return out, nil
}

// NodesByType returns all nodes of the given type; entity types match by
// prefix.
func (s *MemoryStore) NodesByType(ctx context.Context, nodeType types.NodeType) ([]*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Node
	for _, n := range s.nodes {
		if n.Type == nodeType || (nodeType == types.EntityNodeType && n.Type.IsEntity()) {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

// Clear removes all nodes and edges.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*types.Node)
	s.edges = make(map[string]*types.Edge)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func applyNodeUpdate(node *types.Node, update *NodeUpdate) {
	if update == nil {
		return
	}
	if update.Name != nil {
		node.Name = *update.Name
	}
	if update.EntityType != nil {
		node.EntityType = *update.EntityType
	}
	if update.Summary != nil {
		node.Summary = *update.Summary
	}
	if update.Content != nil {
		node.Content = *update.Content
	}
	if update.AlternateNames != nil {
		node.AlternateNames = append([]string(nil), update.AlternateNames...)
	}
	if update.Members != nil {
		node.Members = append([]string(nil), update.Members...)
	}
	if update.DivergenceScore != nil {
		node.DivergenceScore = *update.DivergenceScore
	}
	if update.Embedding != nil {
		node.Embedding = append([]float32(nil), update.Embedding...)
	}
	if update.ValidAt != nil {
		node.ValidAt = update.ValidAt
	}
	if update.ExpiredAt != nil {
		node.ExpiredAt = update.ExpiredAt
	}
	if len(update.Metadata) > 0 {
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			node.Metadata[k] = v
		}
	}
}

func applyEdgeUpdate(edge *types.Edge, update *EdgeUpdate) {
	if update == nil {
		return
	}
	if update.Fact != nil {
		edge.Fact = *update.Fact
	}
	if update.ValidAt != nil {
		edge.ValidAt = update.ValidAt
	}
	if update.InvalidAt != nil {
		edge.InvalidAt = update.InvalidAt
	}
	if update.ExpiredAt != nil {
		edge.ExpiredAt = update.ExpiredAt
	}
	if len(update.Metadata) > 0 {
		if edge.Metadata == nil {
			edge.Metadata = make(map[string]any, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			edge.Metadata[k] = v
		}
	}
}

func cloneNode(n *types.Node) *types.Node {
	out := *n
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	out.AlternateNames = append([]string(nil), n.AlternateNames...)
	out.Members = append([]string(nil), n.Members...)
	out.Embedding = append([]float32(nil), n.Embedding...)
	return &out
}

func cloneEdge(e *types.Edge) *types.Edge {
	out := *e
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
