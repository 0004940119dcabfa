package types

import (
	"errors"
	"strings"
	"time"
)

// Validation errors.
var (
	ErrEmptyID       = errors.New("id cannot be empty")
	ErrEmptyName     = errors.New("name cannot be empty")
	ErrEmptyContent  = errors.New("content cannot be empty")
	ErrEmptySession  = errors.New("session id cannot be empty")
	ErrEmptyEndpoint = errors.New("edge endpoints cannot be empty")
	ErrInvalidLimit  = errors.New("limit must be positive")
)

// NodeType tags the variant a Node represents. Entity nodes use a
// dotted subtype such as "entity.person" or "entity.concept".
type NodeType string

const (
	// EpisodeNodeType is an immutable record of one conversational turn.
	EpisodeNodeType NodeType = "episode"
	// EntityNodeType is the prefix for deduplicated real-world referents.
	EntityNodeType NodeType = "entity"
	// CommunityNodeType is a computed cluster of related entities.
	CommunityNodeType NodeType = "community"
)

// EntityNode builds the full node type for an entity subtype,
// e.g. EntityNode("person") == "entity.person".
func EntityNode(subtype string) NodeType {
	if subtype == "" {
		return EntityNodeType
	}
	return NodeType(string(EntityNodeType) + "." + strings.ToLower(subtype))
}

// IsEntity reports whether t is an entity node type (any subtype).
func (t NodeType) IsEntity() bool {
	return t == EntityNodeType || strings.HasPrefix(string(t), string(EntityNodeType)+".")
}

// Subtype returns the entity subtype, or "" for non-entity types.
func (t NodeType) Subtype() string {
	if !t.IsEntity() || t == EntityNodeType {
		return ""
	}
	return strings.TrimPrefix(string(t), string(EntityNodeType)+".")
}

// EdgeType tags the kind of relationship an Edge represents.
type EdgeType string

const (
	// MentionsEdgeType links an episode to an entity it mentions.
	MentionsEdgeType EdgeType = "MENTIONS"
	// HasMemberEdgeType links a community to a member entity.
	HasMemberEdgeType EdgeType = "HAS_MEMBER"
)

// Node is a unit of the knowledge graph. The variant payload is flattened
// onto the struct; which fields are meaningful depends on Type.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Transaction time.
	CreatedAt time.Time  `json:"created_at"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
	// Valid time.
	ValidAt *time.Time `json:"valid_at,omitempty"`

	// Episode payload.
	Actor     string    `json:"actor,omitempty"`
	Content   string    `json:"content,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	TurnID    string    `json:"turn_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Entity payload.
	Name           string   `json:"name,omitempty"`
	EntityType     string   `json:"entity_type,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	AlternateNames []string `json:"alternate_names,omitempty"`

	// Community payload.
	Members         []string `json:"members,omitempty"`
	DivergenceScore float64  `json:"divergence_score,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`
}

// Validate checks the fields required for the node's variant.
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrEmptyID
	}
	switch {
	case n.Type == EpisodeNodeType:
		if n.Content == "" {
			return ErrEmptyContent
		}
		if n.SessionID == "" {
			return ErrEmptySession
		}
	case n.Type.IsEntity():
		if n.Name == "" {
			return ErrEmptyName
		}
	}
	return nil
}

// SearchText returns the text that search indices should see for this node.
func (n *Node) SearchText() string {
	switch {
	case n.Type == EpisodeNodeType:
		return n.Content
	case n.Type.IsEntity():
		parts := []string{n.Name}
		if n.Summary != "" {
			parts = append(parts, n.Summary)
		}
		if len(n.AlternateNames) > 0 {
			parts = append(parts, strings.Join(n.AlternateNames, " "))
		}
		return strings.Join(parts, " ")
	case n.Type == CommunityNodeType:
		return n.Summary
	}
	return n.Content
}

// VisibleAt reports whether the node is visible as of time t under the
// bitemporal visibility rule.
func (n *Node) VisibleAt(t time.Time) bool {
	if n.CreatedAt.After(t) {
		return false
	}
	if n.ExpiredAt != nil && !n.ExpiredAt.After(t) {
		return false
	}
	if n.ValidAt != nil && n.ValidAt.After(t) {
		return false
	}
	return true
}

// Edge is a directed, typed relationship between two nodes. Fact holds the
// free-text statement the edge asserts. InvalidAt ends the edge's valid
// time; ExpiredAt ends its transaction time.
type Edge struct {
	ID       string         `json:"id"`
	Type     EdgeType       `json:"type"`
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Fact     string         `json:"fact,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
	ValidAt   *time.Time `json:"valid_at,omitempty"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
}

// Validate checks the fields required for any edge.
func (e *Edge) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.SourceID == "" || e.TargetID == "" {
		return ErrEmptyEndpoint
	}
	return nil
}

// VisibleAt reports whether the edge is visible as of time t. Edges add
// the valid-time end (InvalidAt) to the node visibility rule.
func (e *Edge) VisibleAt(t time.Time) bool {
	if e.CreatedAt.After(t) {
		return false
	}
	if e.ExpiredAt != nil && !e.ExpiredAt.After(t) {
		return false
	}
	if e.ValidAt != nil && e.ValidAt.After(t) {
		return false
	}
	if e.InvalidAt != nil && !e.InvalidAt.After(t) {
		return false
	}
	return true
}

// Message is one incoming conversational turn handed to Ingest.
type Message struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

// Validate checks the fields required to ingest a message.
func (m *Message) Validate() error {
	if m.Body == "" {
		return ErrEmptyContent
	}
	if m.SessionID == "" {
		return ErrEmptySession
	}
	return nil
}

// Snapshot is a filtered view of the graph: the nodes and edges that
// matched a store query.
type Snapshot struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// TimeRange bounds valid time for filtering.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SearchFilters constrain search results after reranking.
type SearchFilters struct {
	// Role restricts episode results to turns from this actor.
	Role string `json:"role,omitempty"`
	// TimeRange restricts results by valid time.
	TimeRange *TimeRange `json:"time_range,omitempty"`
	// NodeTypes restricts results to the listed node types.
	NodeTypes []NodeType `json:"node_types,omitempty"`
}

// SearchOptions tune a search call. The zero value is usable.
type SearchOptions struct {
	// Timestamp queries the graph as of this instant. Zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`
	// Limit caps the number of results. Zero means the engine default.
	Limit int `json:"limit,omitempty"`
	// Filters constrain results.
	Filters *SearchFilters `json:"filters,omitempty"`
}

// SearchResult is one scored node returned from Search.
type SearchResult struct {
	Node *Node `json:"node"`
	// Score is the reranker's final combined score.
	Score float64 `json:"score"`
	// Confidence is derived from Score with boosts for well-defined
	// validity windows, clamped to [0,1].
	Confidence float64 `json:"confidence"`
}
