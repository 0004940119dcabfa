package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem/pkg/types"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	require.NoError(t, s.AddNode(ctx, entityNode("concept_b", "durable")))
	assert.ErrorIs(t, s.AddNode(ctx, entityNode("concept_b", "durable")), ErrNodeExists)

	got, err := s.GetNode(ctx, "concept_b")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Name)

	summary := "persisted summary"
	updated, err := s.UpdateNode(ctx, "concept_b", &NodeUpdate{Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, summary, updated.Summary)

	_, err = s.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestBadgerStoreEdgesAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	require.NoError(t, s.AddNode(ctx, entityNode("a", "a")))
	require.NoError(t, s.AddNode(ctx, entityNode("b", "b")))

	assert.ErrorIs(t, s.AddEdge(ctx, &types.Edge{ID: "rel_x", Type: "KNOWS", SourceID: "a", TargetID: "ghost"}), ErrMissingEndpoint)
	require.NoError(t, s.AddEdge(ctx, &types.Edge{ID: "rel_ab", Type: "KNOWS", SourceID: "a", TargetID: "b"}))

	assert.ErrorIs(t, s.DeleteNode(ctx, "a"), ErrNodeInUse)

	snap, err := s.Query(ctx, &Filter{})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)

	invalid := time.Now().UTC()
	_, err = s.UpdateEdge(ctx, "rel_ab", &EdgeUpdate{InvalidAt: &invalid})
	require.NoError(t, err)

	later := invalid.Add(time.Hour)
	snap, err = s.Query(ctx, &Filter{AsOf: &later})
	require.NoError(t, err)
	assert.Empty(t, snap.Edges, "invalidated edge hidden as of later time")

	require.NoError(t, s.Clear(ctx))
	snap, err = s.Query(ctx, &Filter{IncludeEpisodes: true})
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes)
}
