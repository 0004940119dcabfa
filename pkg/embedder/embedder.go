// Package embedder provides text embedding clients. The Client interface is
// the engine's embedding capability boundary; implementations batch
// internally based on provider limits.
package embedder

import (
	"context"
	"fmt"
)

// Client generates embedding vectors for text.
type Client interface {
	// Embed returns one vector per input text, parallel to the input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle is a convenience wrapper for one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector length this client produces.
	Dimensions() int
}

// Config holds common embedder settings.
type Config struct {
	Model      string
	Dimensions int
	// BatchSize caps how many texts go into one provider request.
	BatchSize int
}

// embedSingle implements EmbedSingle on top of any batch Embed.
func embedSingle(ctx context.Context, c Client, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}
