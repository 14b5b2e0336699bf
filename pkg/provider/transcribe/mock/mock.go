// Package mock provides a test double for the transcribe.Client interface.
package mock

import (
	"context"
	"sync"

	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req transcribe.Request
}

// Client is a mock implementation of transcribe.Client.
// Zero values cause Transcribe to return an empty transcript and nil error.
type Client struct {
	mu sync.Mutex

	// Transcript is returned by Transcribe. May be nil (an empty transcript
	// is substituted so callers never see a nil result without an error).
	Transcript *transcribe.Transcript

	// Err, if non-nil, is returned by Transcribe instead of a transcript.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Compile-time interface assertion.
var _ transcribe.Client = (*Client)(nil)

// Transcribe implements transcribe.Client.
func (c *Client) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Transcript, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, TranscribeCall{Ctx: ctx, Req: req})

	if c.Err != nil {
		return nil, c.Err
	}
	if c.Transcript == nil {
		return &transcribe.Transcript{}, nil
	}
	return c.Transcript, nil
}

// CallCount returns the number of Transcribe invocations so far.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
