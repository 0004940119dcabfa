// Package export writes graph snapshots to Parquet files for offline
// analysis.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/graphmem/pkg/types"
)

// ParquetWriter writes snapshot nodes and edges to Parquet files under a
// base directory, one file per export call.
type ParquetWriter struct {
	baseDir string
}

// NewParquetWriter creates a Parquet writer rooted at baseDir.
func NewParquetWriter(baseDir string) (*ParquetWriter, error) {
	for _, d := range []string{"nodes", "edges"} {
		if err := os.MkdirAll(filepath.Join(baseDir, d), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return &ParquetWriter{baseDir: baseDir}, nil
}

// ParquetNode is the flattened node schema.
type ParquetNode struct {
	ID              string     `parquet:"id"`
	Type            string     `parquet:"type"`
	CreatedAt       *time.Time `parquet:"created_at"`
	ExpiredAt       *time.Time `parquet:"expired_at"`
	ValidAt         *time.Time `parquet:"valid_at"`
	Actor           string     `parquet:"actor"`
	Content         string     `parquet:"content"`
	SessionID       string     `parquet:"session_id"`
	TurnID          string     `parquet:"turn_id"`
	Timestamp       *time.Time `parquet:"timestamp"`
	Name            string     `parquet:"name"`
	EntityType      string     `parquet:"entity_type"`
	Summary         string     `parquet:"summary"`
	AlternateNames  string     `parquet:"alternate_names"` // JSON string
	Members         string     `parquet:"members"`         // JSON string
	DivergenceScore float64    `parquet:"divergence_score"`
	Embedding       []float32  `parquet:"embedding"`
	Metadata        string     `parquet:"metadata"` // JSON string
}

// ParquetEdge is the flattened edge schema.
type ParquetEdge struct {
	ID        string     `parquet:"id"`
	Type      string     `parquet:"type"`
	SourceID  string     `parquet:"source_id"`
	TargetID  string     `parquet:"target_id"`
	Fact      string     `parquet:"fact"`
	CreatedAt *time.Time `parquet:"created_at"`
	ExpiredAt *time.Time `parquet:"expired_at"`
	ValidAt   *time.Time `parquet:"valid_at"`
	InvalidAt *time.Time `parquet:"invalid_at"`
	Metadata  string     `parquet:"metadata"` // JSON string
}

// WriteSnapshot writes the snapshot's nodes and edges as one timestamped
// Parquet file each, and returns the written paths.
func (w *ParquetWriter) WriteSnapshot(snapshot *types.Snapshot) ([]string, error) {
	stamp := time.Now().UnixNano()
	var paths []string

	if len(snapshot.Nodes) > 0 {
		rows := make([]ParquetNode, 0, len(snapshot.Nodes))
		for _, n := range snapshot.Nodes {
			row, err := nodeRow(n)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		path := filepath.Join(w.baseDir, "nodes", fmt.Sprintf("nodes_%d.parquet", stamp))
		if err := parquet.WriteFile(path, rows); err != nil {
			return nil, fmt.Errorf("failed to write node file: %w", err)
		}
		paths = append(paths, path)
	}

	if len(snapshot.Edges) > 0 {
		rows := make([]ParquetEdge, 0, len(snapshot.Edges))
		for _, e := range snapshot.Edges {
			row, err := edgeRow(e)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		path := filepath.Join(w.baseDir, "edges", fmt.Sprintf("edges_%d.parquet", stamp))
		if err := parquet.WriteFile(path, rows); err != nil {
			return nil, fmt.Errorf("failed to write edge file: %w", err)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func nodeRow(n *types.Node) (ParquetNode, error) {
	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return ParquetNode{}, fmt.Errorf("failed to marshal metadata for %s: %w", n.ID, err)
	}
	altJSON, err := json.Marshal(n.AlternateNames)
	if err != nil {
		return ParquetNode{}, fmt.Errorf("failed to marshal alternate names for %s: %w", n.ID, err)
	}
	membersJSON, err := json.Marshal(n.Members)
	if err != nil {
		return ParquetNode{}, fmt.Errorf("failed to marshal members for %s: %w", n.ID, err)
	}

	row := ParquetNode{
		ID:              n.ID,
		Type:            string(n.Type),
		ExpiredAt:       n.ExpiredAt,
		ValidAt:         n.ValidAt,
		Actor:           n.Actor,
		Content:         n.Content,
		SessionID:       n.SessionID,
		TurnID:          n.TurnID,
		Name:            n.Name,
		EntityType:      n.EntityType,
		Summary:         n.Summary,
		AlternateNames:  string(altJSON),
		Members:         string(membersJSON),
		DivergenceScore: n.DivergenceScore,
		Embedding:       n.Embedding,
		Metadata:        string(metadataJSON),
	}
	if !n.CreatedAt.IsZero() {
		created := n.CreatedAt
		row.CreatedAt = &created
	}
	if !n.Timestamp.IsZero() {
		ts := n.Timestamp
		row.Timestamp = &ts
	}
	return row, nil
}

func edgeRow(e *types.Edge) (ParquetEdge, error) {
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return ParquetEdge{}, fmt.Errorf("failed to marshal metadata for %s: %w", e.ID, err)
	}

	row := ParquetEdge{
		ID:        e.ID,
		Type:      string(e.Type),
		SourceID:  e.SourceID,
		TargetID:  e.TargetID,
		Fact:      e.Fact,
		ExpiredAt: e.ExpiredAt,
		ValidAt:   e.ValidAt,
		InvalidAt: e.InvalidAt,
		Metadata:  string(metadataJSON),
	}
	if !e.CreatedAt.IsZero() {
		created := e.CreatedAt
		row.CreatedAt = &created
	}
	return row, nil
}
