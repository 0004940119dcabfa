package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// LLMCrossEncoder scores query/passage relevance by running a boolean
// classifier prompt per passage against an OpenAI-compatible chat model.
// Passages are scored concurrently under a semaphore.
type LLMCrossEncoder struct {
	client         *openai.Client
	model          string
	maxConcurrency int
}

// NewLLMCrossEncoder builds a cross-encoder on the given client. An empty
// model falls back to gpt-4o-mini.
func NewLLMCrossEncoder(client *openai.Client, model string, maxConcurrency int) *LLMCrossEncoder {
	if model == "" {
		model = openai.GPT4oMini
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &LLMCrossEncoder{client: client, model: model, maxConcurrency: maxConcurrency}
}

var _ CrossEncoder = (*LLMCrossEncoder)(nil)

// Score returns one relevance score in [0,1] per passage, parallel to the
// input slice.
func (c *LLMCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(passages))
	errs := make([]error, len(passages))
	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup

	for i, passage := range passages {
		wg.Add(1)
		go func(idx int, p string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			}
			scores[idx], errs[idx] = c.scorePassage(ctx, query, p)
		}(i, passage)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to score passage %d: %w", i, err)
		}
	}
	return scores, nil
}

func (c *LLMCrossEncoder) scorePassage(ctx context.Context, query, passage string) (float64, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert tasked with determining whether the passage is relevant to the query",
			},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(`Respond with "True" if PASSAGE is relevant to QUERY and "False" otherwise.
<PASSAGE>
%s
</PASSAGE>
<QUERY>
%s
</QUERY>`, passage, query),
			},
		},
		LogProbs:    true,
		TopLogProbs: 2,
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("empty completion response")
	}

	choice := resp.Choices[0]
	if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
		return scoreFromLogProbs(choice.LogProbs.Content[0]), nil
	}
	// No logprobs available; fall back to binary scoring on the text.
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(choice.Message.Content)), "true") {
		return 1, nil
	}
	return 0, nil
}

// scoreFromLogProbs converts the first token's probability mass into a
// relevance score: P(True) when the model answered True, 1-P(False)
// otherwise.
func scoreFromLogProbs(token openai.LogProb) float64 {
	p := probability(token.LogProb)
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(token.Token)), "true") {
		return p
	}
	return 1 - p
}

func probability(logprob float64) float64 {
	return clamp01(math.Exp(logprob))
}
