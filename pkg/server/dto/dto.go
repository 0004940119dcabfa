// Package dto defines the HTTP request and response shapes.
package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/graphmem/pkg/types"
)

// Validation errors
var (
	ErrEmptyMessages  = errors.New("messages cannot be empty")
	ErrEmptyQuery     = errors.New("query cannot be empty")
	ErrInvalidLayer   = errors.New("layer must be between 1 and 3")
	ErrNotConfirmed   = errors.New("clearing all data requires confirm: true")
	ErrTooManyItems   = errors.New("messages count exceeds maximum (1000)")
	ErrContentTooLong = errors.New("message body exceeds maximum length (1MB)")
)

// Field limits to prevent abuse.
const (
	MaxMessagesCount = 1000
	MaxBodyLength    = 1024 * 1024
)

// IngestRequest carries a batch of messages and the processing layer.
type IngestRequest struct {
	Messages []types.Message `json:"messages" binding:"required"`
	// Layer selects processing depth 1..3. Zero defaults to 1.
	Layer int `json:"layer,omitempty"`
}

// Validate performs validation on IngestRequest.
func (r *IngestRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyMessages
	}
	if len(r.Messages) > MaxMessagesCount {
		return ErrTooManyItems
	}
	if r.Layer < 0 || r.Layer > 3 {
		return ErrInvalidLayer
	}
	for i, msg := range r.Messages {
		if len(msg.Body) > MaxBodyLength {
			return fmt.Errorf("message %d: %w", i, ErrContentTooLong)
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// IngestResponse reports the outcome of an ingest call.
type IngestResponse struct {
	Success  bool   `json:"success"`
	Ingested int    `json:"ingested"`
	Layer    int    `json:"layer"`
	Message  string `json:"message,omitempty"`
}

// SearchRequest carries a search query and options.
type SearchRequest struct {
	Query     string               `json:"query" binding:"required"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Filters   *types.SearchFilters `json:"filters,omitempty"`
}

// Validate performs validation on SearchRequest.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// Options converts the request to engine search options.
func (r *SearchRequest) Options() *types.SearchOptions {
	opts := &types.SearchOptions{Limit: r.Limit, Filters: r.Filters}
	if r.Timestamp != nil {
		opts.Timestamp = *r.Timestamp
	}
	return opts
}

// SearchResponse lists scored results.
type SearchResponse struct {
	Results []types.SearchResult `json:"results"`
	Count   int                  `json:"count"`
}

// SnapshotResponse wraps a graph snapshot.
type SnapshotResponse struct {
	Nodes []*types.Node `json:"nodes"`
	Edges []*types.Edge `json:"edges"`
}

// ClearRequest guards the destructive clear operation.
type ClearRequest struct {
	Confirm bool `json:"confirm"`
}

// Validate performs validation on ClearRequest.
func (r *ClearRequest) Validate() error {
	if !r.Confirm {
		return ErrNotConfirmed
	}
	return nil
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
