package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem/pkg/types"
)

func date(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func entityNode(id, name string) *types.Node {
	return &types.Node{ID: id, Type: types.EntityNode("concept"), Name: name}
}

func TestMemoryStoreNodeCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	node := entityNode("concept_1", "ordering")
	require.NoError(t, s.AddNode(ctx, node))
	assert.ErrorIs(t, s.AddNode(ctx, node), ErrNodeExists)

	got, err := s.GetNode(ctx, "concept_1")
	require.NoError(t, err)
	assert.Equal(t, "ordering", got.Name)
	assert.False(t, got.CreatedAt.IsZero(), "CreatedAt stamped on add")

	// Returned nodes are copies; mutating them must not touch the store.
	got.Name = "mutated"
	again, err := s.GetNode(ctx, "concept_1")
	require.NoError(t, err)
	assert.Equal(t, "ordering", again.Name)

	summary := "entities get summaries merged in"
	updated, err := s.UpdateNode(ctx, "concept_1", &NodeUpdate{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, summary, updated.Summary)
	assert.Equal(t, "ordering", updated.Name, "unset fields untouched")

	_, err = s.UpdateNode(ctx, "missing", &NodeUpdate{Summary: &summary})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, s.DeleteNode(ctx, "concept_1"))
	_, err = s.GetNode(ctx, "concept_1")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestReferentialIntegrity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))

	edge := &types.Edge{ID: "rel_1", Type: "KNOWS", SourceID: "a", TargetID: "ghost"}
	assert.ErrorIs(t, s.AddEdge(ctx, edge), ErrMissingEndpoint)

	// The failed add must not have mutated the store.
	_, err := s.GetEdge(ctx, "rel_1")
	assert.ErrorIs(t, err, ErrEdgeNotFound)

	require.NoError(t, s.AddNode(ctx, entityNode("b", "b")))
	edge.TargetID = "b"
	require.NoError(t, s.AddEdge(ctx, edge))
	assert.ErrorIs(t, s.AddEdge(ctx, edge), ErrEdgeExists)
}

func TestDeleteNodeRefusedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))
	require.NoError(t, s.AddNode(ctx, entityNode("b", "b")))
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_ab", Type: "KNOWS", SourceID: "a", TargetID: "b"}))

	assert.ErrorIs(t, s.DeleteNode(ctx, "a"), ErrNodeInUse)

	require.NoError(t, s.DeleteEdge(ctx, "rel_ab"))
	assert.NoError(t, s.DeleteNode(ctx, "a"))
}

func TestTemporalInvariants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created := date("2025-06-01T00:00:00Z")
	before := date("2025-05-01T00:00:00Z")
	node := entityNode("x", "x")
	node.CreatedAt = created
	node.ExpiredAt = &before
	assert.ErrorIs(t, s.AddNode(ctx, node), ErrInvalidTemporal)

	node.ExpiredAt = nil
	require.NoError(t, s.AddNode(ctx, node))

	// validAt after expiredAt is rejected on update too.
	after := date("2025-08-01T00:00:00Z")
	wayAfter := date("2025-09-01T00:00:00Z")
	_, err := s.UpdateNode(ctx, "x", &NodeUpdate{ValidAt: &wayAfter, ExpiredAt: &after})
	assert.ErrorIs(t, err, ErrInvalidTemporal)
}

func TestQueryTemporalVisibility(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	d1 := date("2025-01-01T00:00:00Z")
	d2 := date("2025-02-01T00:00:00Z")
	d3 := date("2025-03-01T00:00:00Z")

	node := entityNode("concept_t", "temporal")
	node.CreatedAt = d1
	node.ValidAt = &d1
	node.ExpiredAt = &d3
	require.NoError(t, s.AddNode(ctx, node))

	for _, at := range []time.Time{d1, d2} {
		snap, err := s.Query(ctx, &Filter{AsOf: &at})
		require.NoError(t, err)
		assert.Len(t, snap.Nodes, 1, "visible at %s", at)
	}
	for _, at := range []time.Time{d3, d3.Add(time.Hour)} {
		snap, err := s.Query(ctx, &Filter{AsOf: &at})
		require.NoError(t, err)
		assert.Empty(t, snap.Nodes, "expired at %s", at)
	}
}

func TestQueryFilterClauses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	person := &types.Node{ID: "person_1", Type: types.EntityNode("person"), Name: "alice",
		Metadata: map[string]any{"team": "support"}}
	concept := entityNode("concept_1", "refunds")
	episode := &types.Node{ID: "ep_s1_1", Type: types.EpisodeNodeType, Content: "hi", SessionID: "s1"}
	require.NoError(t, s.AddNode(ctx, person))
	require.NoError(t, s.AddNode(ctx, concept))
	require.NoError(t, s.AddNode(ctx, episode))

	// Episodes are excluded from entity-oriented queries by default.
	snap, err := s.Query(ctx, &Filter{})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)

	snap, err = s.Query(ctx, &Filter{IncludeEpisodes: true})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 3)

	// Type allow-list, with "entity" matching every subtype.
	snap, err = s.Query(ctx, &Filter{NodeTypes: []types.NodeType{types.EntityNode("person")}})
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "person_1", snap.Nodes[0].ID)

	snap, err = s.Query(ctx, &Filter{NodeTypes: []types.NodeType{types.EntityNodeType}})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)

	// Metadata exact match.
	snap, err = s.Query(ctx, &Filter{Metadata: map[string]any{"team": "support"}})
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "person_1", snap.Nodes[0].ID)

	snap, err = s.Query(ctx, &Filter{Metadata: map[string]any{"team": "billing"}})
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes)
}

func TestQueryReturnsEdgesAmongMatchedNodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))
	require.NoError(t, s.AddNode(ctx, entityNode("b", "b")))
	episode := &types.Node{ID: "ep_s_1", Type: types.EpisodeNodeType, Content: "x", SessionID: "s"}
	require.NoError(t, s.AddNode(ctx, episode))
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_ab", Type: "KNOWS", SourceID: "a", TargetID: "b"}))
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_ea", Type: types.MentionsEdgeType, SourceID: "ep_s_1", TargetID: "a"}))

	snap, err := s.Query(ctx, &Filter{})
	require.NoError(t, err)
	require.Len(t, snap.Edges, 1, "edges with an unmatched endpoint are dropped")
	assert.Equal(t, "rel_ab", snap.Edges[0].ID)
}

func TestEdgesBetweenAndForNode(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))
	require.NoError(t, s.AddNode(ctx, entityNode("b", "b")))
	require.NoError(t, s.AddNode(ctx, entityNode("c", "c")))
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_ab", Type: "KNOWS", SourceID: "a", TargetID: "b"}))
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_ba", Type: "LIKES", SourceID: "b", TargetID: "a"}))
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_bc", Type: "KNOWS", SourceID: "b", TargetID: "c"}))

	between, err := s.EdgesBetween(ctx, "a", "b")
	require.NoError(t, err)
	assert.Len(t, between, 2, "both directions count")

	touching, err := s.EdgesForNode(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, touching, 3)
}

func TestSupersededEdgeIsKeptNotDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))
	require.NoError(t, s.AddNode(ctx, entityNode("b", "b")))

	old := &types.Edge{ID: "rel_old", Type: "WORKS_AT", SourceID: "a", TargetID: "b",
		Fact: "a works at b", CreatedAt: date("2025-01-01T00:00:00Z")}
	require.NoError(t, s.AddEdge(ctx, old))

	cutover := date("2025-06-01T00:00:00Z")
	_, err := s.UpdateEdge(ctx, "rel_old", &EdgeUpdate{InvalidAt: &cutover})
	require.NoError(t, err)

	// Point-in-time reconstruction: the old fact is there before the
	// cutover and gone after it, but never physically deleted.
	before := date("2025-03-01T00:00:00Z")
	snap, err := s.Query(ctx, &Filter{AsOf: &before})
	require.NoError(t, err)
	assert.Len(t, snap.Edges, 1)

	after := date("2025-07-01T00:00:00Z")
	snap, err = s.Query(ctx, &Filter{AsOf: &after})
	require.NoError(t, err)
	assert.Empty(t, snap.Edges)

	_, err = s.GetEdge(ctx, "rel_old")
	assert.NoError(t, err)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))
	require.NoError(t, s.Clear(ctx))
	snap, err := s.Query(ctx, &Filter{IncludeEpisodes: true})
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes)
	assert.Empty(t, snap.Edges)
}

func TestKeyedMutex(t *testing.T) {
	m := NewKeyedMutex(8)
	done := make(chan struct{})
	m.Lock("entity_1")
	go func() {
		m.Lock("entity_1")
		m.Unlock("entity_1")
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second locker should block until release")
	case <-time.After(20 * time.Millisecond):
	}
	m.Unlock("entity_1")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second locker never acquired the lock")
	}
}
