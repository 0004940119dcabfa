package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphmem/pkg/types"
)

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	w, err := NewParquetWriter(dir)
	require.NoError(t, err)

	now := time.Now().UTC()
	valid := now.Add(-time.Hour)
	snapshot := &types.Snapshot{
		Nodes: []*types.Node{
			{
				ID: "ep_s1_t1", Type: types.EpisodeNodeType, Actor: "user",
				Content: "hello", SessionID: "s1", TurnID: "t1",
				Timestamp: valid, CreatedAt: now, ValidAt: &valid,
			},
			{
				ID: "person_abc", Type: types.EntityNode("person"), Name: "Alice",
				EntityType: "person", Summary: "A customer.", CreatedAt: now,
				Metadata: map[string]any{"lastUpdateTime": now.Format(time.RFC3339)},
			},
		},
		Edges: []*types.Edge{
			{
				ID: "rel_xyz", Type: "WORKS_AT", SourceID: "person_abc",
				TargetID: "org_def", Fact: "Alice works at Acme",
				CreatedAt: now, ValidAt: &valid,
			},
		},
	}

	paths, err := w.WriteSnapshot(snapshot)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
		assert.Equal(t, ".parquet", filepath.Ext(p))
	}
}

func TestWriteSnapshotEmpty(t *testing.T) {
	w, err := NewParquetWriter(t.TempDir())
	require.NoError(t, err)

	paths, err := w.WriteSnapshot(&types.Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, paths)
}
