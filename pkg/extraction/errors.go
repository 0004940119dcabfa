package extraction

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse indicates the model returned no content.
var ErrEmptyResponse = errors.New("the model returned an empty response")

// RateLimitError indicates the provider rejected the call for rate limiting.
// The client retries these with backoff before surfacing them.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "rate limit exceeded"
	}
	return e.Message
}

// Is implements errors.Is support for RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	_, ok := target.(*RateLimitError)
	return ok
}

// MalformedResponseError indicates the capability returned a shape other
// than the task's schema. Raised at the call boundary so the mismatch does
// not surface as a downstream field-access failure.
type MalformedResponseError struct {
	Task   Task
	Reason string
	// Raw holds the offending payload for diagnostics, truncated.
	Raw string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Task, e.Reason)
}

// Is implements errors.Is support for MalformedResponseError.
func (e *MalformedResponseError) Is(target error) bool {
	_, ok := target.(*MalformedResponseError)
	return ok
}

const rawSnippetLen = 200

func malformed(task Task, reason, raw string) *MalformedResponseError {
	if len(raw) > rawSnippetLen {
		raw = raw[:rawSnippetLen]
	}
	return &MalformedResponseError{Task: task, Reason: reason, Raw: raw}
}
