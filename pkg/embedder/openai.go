package embedder

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultEmbeddingModel = string(openai.SmallEmbedding3)
	defaultDimensions     = 1536
	defaultBatchSize      = 100
)

// OpenAIClient implements Client against an OpenAI-compatible embeddings
// endpoint.
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates an embedding client. Zero config fields fall back
// to text-embedding-3-small with 1536 dimensions.
func NewOpenAIClient(client *openai.Client, config Config) *OpenAIClient {
	if config.Model == "" {
		config.Model = defaultEmbeddingModel
	}
	if config.Dimensions <= 0 {
		config.Dimensions = defaultDimensions
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	return &OpenAIClient{client: client, config: config}
}

var _ Client = (*OpenAIClient)(nil)

// Embed generates embeddings for the given texts, splitting into provider
// batches as needed.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(texts))
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.config.Model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}

// EmbedSingle generates an embedding for one text.
func (c *OpenAIClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return embedSingle(ctx, c, text)
}

// Dimensions returns the configured vector length.
func (c *OpenAIClient) Dimensions() int {
	return c.config.Dimensions
}
