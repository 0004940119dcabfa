package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// OpenAIConfig tunes the OpenAI-backed extraction client.
type OpenAIConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// MaxRetries bounds rate-limit retries per call.
	MaxRetries int
	// InitialDelay seeds the exponential retry backoff.
	InitialDelay time.Duration
	// BreakerTimeout is how long an open breaker stays open.
	BreakerTimeout time.Duration
}

// WithDefaults fills zero fields.
func (c OpenAIConfig) WithDefaults() OpenAIConfig {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// OpenAIClient implements Client against an OpenAI-compatible chat API.
// Calls run through a circuit breaker; rate limits are retried with
// exponential backoff; responses are repaired, parsed, and shape-validated
// before they leave this package.
type OpenAIClient struct {
	client  *openai.Client
	config  OpenAIConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewOpenAIClient builds the extraction client.
func NewOpenAIClient(client *openai.Client, config OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	config = config.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	c := &OpenAIClient{client: client, config: config, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "extraction",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn("extraction circuit breaker opened", "from", from.String())
			}
		},
	})
	return c
}

var _ Client = (*OpenAIClient)(nil)

// ExtractEntities implements Client.
func (c *OpenAIClient) ExtractEntities(ctx context.Context, req *ExtractEntitiesRequest) (*ExtractEntitiesResponse, error) {
	system, user, err := extractEntitiesPrompts(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, TaskExtractEntities, system, user)
	if err != nil {
		return nil, err
	}

	var resp ExtractEntitiesResponse
	if err := parseResponse(TaskExtractEntities, raw, &resp); err != nil {
		return nil, err
	}
	for i, e := range resp.Entities {
		if e.Name == "" {
			return nil, malformed(TaskExtractEntities, fmt.Sprintf("entity %d missing name", i), raw)
		}
	}
	return &resp, nil
}

// DedupeNode implements Client.
func (c *OpenAIClient) DedupeNode(ctx context.Context, req *DedupeNodeRequest) (*DedupeNodeResponse, error) {
	system, user, err := dedupeNodePrompts(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, TaskDedupeNodes, system, user)
	if err != nil {
		return nil, err
	}

	var resp DedupeNodeResponse
	if err := parseResponse(TaskDedupeNodes, raw, &resp); err != nil {
		return nil, err
	}
	if resp.DuplicateOf != "" && !containsExisting(req.Existing, resp.DuplicateOf) {
		return nil, malformed(TaskDedupeNodes, fmt.Sprintf("duplicate_of %q is not an offered neighbor", resp.DuplicateOf), raw)
	}
	return &resp, nil
}

// ExtractTemporal implements Client.
func (c *OpenAIClient) ExtractTemporal(ctx context.Context, req *ExtractTemporalRequest) (*ExtractTemporalResponse, error) {
	system, user, err := extractTemporalPrompts(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, TaskExtractTemporal, system, user)
	if err != nil {
		return nil, err
	}

	var resp ExtractTemporalResponse
	if err := parseResponse(TaskExtractTemporal, raw, &resp); err != nil {
		return nil, err
	}
	for i, rel := range resp.Relationships {
		if rel.SourceID == "" || rel.TargetID == "" {
			return nil, malformed(TaskExtractTemporal, fmt.Sprintf("relationship %d missing endpoint ids", i), raw)
		}
		if rel.Type == "" {
			return nil, malformed(TaskExtractTemporal, fmt.Sprintf("relationship %d missing type", i), raw)
		}
	}
	return &resp, nil
}

// ResolveFacts implements Client.
func (c *OpenAIClient) ResolveFacts(ctx context.Context, req *ResolveFactsRequest) (*ResolveFactsResponse, error) {
	system, user, err := resolveFactsPrompts(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, TaskResolveFacts, system, user)
	if err != nil {
		return nil, err
	}

	var resp ResolveFactsResponse
	if err := parseResponse(TaskResolveFacts, raw, &resp); err != nil {
		return nil, err
	}
	offered := make(map[string]bool, len(req.Existing))
	for _, f := range req.Existing {
		offered[f.EdgeID] = true
	}
	for _, inv := range resp.Invalidations {
		if !offered[inv.EdgeID] {
			return nil, malformed(TaskResolveFacts, fmt.Sprintf("invalidation targets unknown edge %q", inv.EdgeID), raw)
		}
	}
	return &resp, nil
}

// SummarizeNode implements Client.
func (c *OpenAIClient) SummarizeNode(ctx context.Context, req *SummarizeNodeRequest) (*SummarizeNodeResponse, error) {
	system, user, err := summarizeNodePrompts(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, TaskSummarizeNode, system, user)
	if err != nil {
		return nil, err
	}

	var resp SummarizeNodeResponse
	if err := parseResponse(TaskSummarizeNode, raw, &resp); err != nil {
		return nil, err
	}
	if resp.Summary == "" {
		return nil, malformed(TaskSummarizeNode, "empty summary", raw)
	}
	return &resp, nil
}

// RefineCommunities implements Client.
func (c *OpenAIClient) RefineCommunities(ctx context.Context, req *RefineCommunitiesRequest) (*RefineCommunitiesResponse, error) {
	system, user, err := refineCommunitiesPrompts(req)
	if err != nil {
		return nil, err
	}
	raw, err := c.complete(ctx, TaskRefineCommunities, system, user)
	if err != nil {
		return nil, err
	}

	var resp RefineCommunitiesResponse
	if err := parseResponse(TaskRefineCommunities, raw, &resp); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(req.Entities))
	for _, e := range req.Entities {
		known[e.ID] = true
	}
	for i, community := range resp.Communities {
		if len(community.MemberIDs) == 0 {
			return nil, malformed(TaskRefineCommunities, fmt.Sprintf("community %d has no members", i), raw)
		}
		for _, id := range community.MemberIDs {
			if !known[id] {
				return nil, malformed(TaskRefineCommunities, fmt.Sprintf("community %d references unknown entity %q", i, id), raw)
			}
		}
	}
	return &resp, nil
}

// complete runs one chat completion through the breaker with rate-limit
// retries and returns the raw response content.
func (c *OpenAIClient) complete(ctx context.Context, task Task, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.InitialDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying extraction call", "task", string(task), "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		content, err := c.completeOnce(ctx, system, user)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !errors.Is(err, &RateLimitError{}) {
			return "", fmt.Errorf("%s call failed: %w", task, err)
		}
	}
	return "", fmt.Errorf("%s call failed after %d retries: %w", task, c.config.MaxRetries, lastErr)
}

func (c *OpenAIClient) completeOnce(ctx context.Context, system, user string) (string, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, classifyAPIError(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return nil, ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// classifyAPIError maps provider errors onto the package's error kinds.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Message: apiErr.Message}
	}
	return err
}

// parseResponse repairs and decodes raw JSON into out, converting any
// failure into a MalformedResponseError for the task.
func parseResponse(task Task, raw string, out any) error {
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		repaired = raw
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return malformed(task, err.Error(), raw)
	}
	return nil
}

func containsExisting(existing []ExistingEntity, id string) bool {
	for _, e := range existing {
		if e.ID == id {
			return true
		}
	}
	return false
}
