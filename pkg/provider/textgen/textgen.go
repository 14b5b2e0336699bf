// Package textgen defines the Client interface for text-generation backends.
//
// A text-generation client wraps a remote LLM API and exposes a uniform
// completion interface for the practice engine: prompt generation, the
// qualitative scoring pass, and session summaries all go through [Client].
// Provider failures carry a typed [*Error] so that fallback chains can react
// to rate/quota signals specifically (see [CompleteWithQuotaRetry]).
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package textgen

import (
	"context"
	"errors"
)

// Message is a single turn in the conversation sent to the backend.
type Message struct {
	// Role is one of "user" or "assistant".
	Role string

	// Content is the text content of the turn.
	Content string
}

// Request carries everything the backend needs to produce a completion.
type Request struct {
	// System is a high-priority instruction injected before the turns.
	System string

	// Messages is the ordered list of prior turns plus the current user
	// turn. Must be non-empty.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the full completion returned by [Client.Complete].
type Response struct {
	// Content is the generated text. It is expected to sometimes be
	// JSON-shaped; callers that requested structured output must parse it
	// defensively.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Client is the abstraction over any text-generation backend.
type Client interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// minShrunkTokens is the floor for the halved MaxTokens retry in
// [CompleteWithQuotaRetry].
const minShrunkTokens = 64

// CompleteWithQuotaRetry calls c.Complete and, when the failure is a
// rate/quota signal, halves the MaxTokens request (floor 64) and retries
// exactly once. All other failures are returned unchanged.
//
// Every caller that feeds a fallback chain should go through this helper so
// quota pressure shrinks the ask before the chain gives up on a tier.
func CompleteWithQuotaRetry(ctx context.Context, c Client, req Request) (*Response, error) {
	resp, err := c.Complete(ctx, req)
	if err == nil || !IsRateLimited(err) {
		return resp, err
	}

	shrunk := req
	if shrunk.MaxTokens > minShrunkTokens {
		shrunk.MaxTokens /= 2
		if shrunk.MaxTokens < minShrunkTokens {
			shrunk.MaxTokens = minShrunkTokens
		}
	} else {
		shrunk.MaxTokens = minShrunkTokens
	}
	return c.Complete(ctx, shrunk)
}

// Error is the typed failure returned by text-generation clients.
type Error struct {
	// Code is the provider error code when one was reported (e.g.,
	// "insufficient_quota"). May be empty for transport-level failures.
	Code string

	// Message is a human-readable description of the failure.
	Message string

	// RateLimited marks rate-limit and quota/payment signals that fallback
	// chains must recognise and react to by shrinking the request.
	RateLimited bool

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return "textgen: " + e.Code + ": " + e.Message
	}
	return "textgen: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is (or wraps) a rate/quota-limited
// text-generation [*Error].
func IsRateLimited(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.RateLimited
}
