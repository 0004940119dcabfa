// Package store provides keyed graph storage with temporal-aware filtered
// queries. The GraphStore interface is the pluggable persistence seam: the
// in-memory implementation is the reference design, the Badger implementation
// adds durability.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/soundprediction/graphmem/pkg/types"
)

var (
	// ErrNodeNotFound is returned when a node id does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when an edge id does not exist.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrNodeExists is returned when adding a node whose id is taken.
	ErrNodeExists = errors.New("node already exists")
	// ErrEdgeExists is returned when adding an edge whose id is taken.
	ErrEdgeExists = errors.New("edge already exists")
	// ErrMissingEndpoint is returned when an edge references a node that
	// is not in the store.
	ErrMissingEndpoint = errors.New("edge endpoint not found")
	// ErrNodeInUse is returned when deleting a node that edges still
	// reference. Deletion is refused rather than cascaded so that no
	// dangling edges can be created.
	ErrNodeInUse = errors.New("node is referenced by edges")
	// ErrInvalidTemporal is returned when a unit's temporal fields are
	// inconsistent (expiry before creation, validity after expiry).
	ErrInvalidTemporal = errors.New("inconsistent temporal fields")
)

// Filter selects nodes and edges for Query. Clauses apply in order:
// node type, temporal, metadata.
type Filter struct {
	// NodeTypes is an allow-list of node types. Empty means all types.
	NodeTypes []types.NodeType
	// AsOf selects units visible at a point in time.
	AsOf *time.Time
	// ValidAfter/ValidBefore bound valid time as a range. Ignored when
	// AsOf is set.
	ValidAfter  *time.Time
	ValidBefore *time.Time
	// Metadata requires every listed key to equal the stored value.
	Metadata map[string]any
	// IncludeEpisodes adds episode nodes to the result. Episodes and
	// entities occupy separate query surfaces, so entity-oriented
	// queries exclude episodes unless asked.
	IncludeEpisodes bool
}

// NodeUpdate carries partial node changes for UpdateNode. Nil pointer
// fields are left untouched.
type NodeUpdate struct {
	Name            *string
	EntityType      *string
	Summary         *string
	Content         *string
	AlternateNames  []string
	Members         []string
	DivergenceScore *float64
	Metadata        map[string]any
	Embedding       []float32
	ValidAt         *time.Time
	ExpiredAt       *time.Time
}

// EdgeUpdate carries partial edge changes for UpdateEdge.
type EdgeUpdate struct {
	Fact      *string
	Metadata  map[string]any
	ValidAt   *time.Time
	InvalidAt *time.Time
	ExpiredAt *time.Time
}

// GraphStore is keyed storage for nodes and edges. Implementations must be
// safe for concurrent readers; concurrent writers to the same id are the
// caller's responsibility to serialize (see KeyedMutex).
type GraphStore interface {
	AddNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, id string) (*types.Node, error)
	UpdateNode(ctx context.Context, id string, update *NodeUpdate) (*types.Node, error)
	DeleteNode(ctx context.Context, id string) error

	// AddEdge fails with ErrMissingEndpoint unless both endpoints exist.
	AddEdge(ctx context.Context, edge *types.Edge) error
	GetEdge(ctx context.Context, id string) (*types.Edge, error)
	UpdateEdge(ctx context.Context, id string, update *EdgeUpdate) (*types.Edge, error)
	DeleteEdge(ctx context.Context, id string) error

	// Query applies the filter clauses in order (type, temporal,
	// metadata) and returns matching nodes plus the edges whose
	// endpoints both matched.
	Query(ctx context.Context, filter *Filter) (*types.Snapshot, error)

	// EdgesForNode returns all edges touching the node, in either
	// direction.
	EdgesForNode(ctx context.Context, nodeID string) ([]*types.Edge, error)
	// EdgesBetween returns edges connecting the two nodes in either
	// direction.
	EdgesBetween(ctx context.Context, aID, bID string) ([]*types.Edge, error)
	// NodesByType returns every node of the given type. Entity types
	// match by prefix, so types.EntityNodeType returns all entities.
	NodesByType(ctx context.Context, nodeType types.NodeType) ([]*types.Node, error)

	// Clear removes everything.
	Clear(ctx context.Context) error

	Close() error
}

// validateNodeTemporal enforces the bitemporal invariants on a node.
func validateNodeTemporal(n *types.Node) error {
	if n.ExpiredAt != nil && !n.ExpiredAt.After(n.CreatedAt) {
		return ErrInvalidTemporal
	}
	if n.ValidAt != nil && n.ExpiredAt != nil && n.ValidAt.After(*n.ExpiredAt) {
		return ErrInvalidTemporal
	}
	return nil
}

// validateEdgeTemporal enforces the bitemporal invariants on an edge.
func validateEdgeTemporal(e *types.Edge) error {
	if e.ExpiredAt != nil && !e.ExpiredAt.After(e.CreatedAt) {
		return ErrInvalidTemporal
	}
	if e.ValidAt != nil {
		if e.InvalidAt != nil && e.ValidAt.After(*e.InvalidAt) {
			return ErrInvalidTemporal
		}
		if e.ExpiredAt != nil && e.ValidAt.After(*e.ExpiredAt) {
			return ErrInvalidTemporal
		}
	}
	return nil
}

// matchesFilter applies the filter's node clauses in the specified order.
func matchesFilter(n *types.Node, f *Filter) bool {
	if n.Type == types.EpisodeNodeType && !f.IncludeEpisodes && len(f.NodeTypes) == 0 {
		return false
	}
	if len(f.NodeTypes) > 0 {
		matched := false
		for _, t := range f.NodeTypes {
			if n.Type == t || (t == types.EntityNodeType && n.Type.IsEntity()) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.AsOf != nil {
		if !n.VisibleAt(*f.AsOf) {
			return false
		}
	} else {
		if f.ValidAfter != nil && (n.ValidAt == nil || n.ValidAt.Before(*f.ValidAfter)) {
			return false
		}
		if f.ValidBefore != nil && (n.ValidAt == nil || n.ValidAt.After(*f.ValidBefore)) {
			return false
		}
	}
	for k, want := range f.Metadata {
		got, ok := n.Metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
