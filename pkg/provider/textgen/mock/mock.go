// Package mock provides a test double for the textgen.Client interface.
//
// Use Client in unit tests to feed controlled completions without a live
// backend and to verify what the engine asked for. Responses can be queued so
// that successive calls (e.g., the tiers of a fallback chain) each receive
// their own result.
//
// Example:
//
//	c := &mock.Client{}
//	c.Queue(&textgen.Response{Content: `{"topic":"travel","suggested_prompt":"..."}`}, nil)
//	c.Queue(nil, &textgen.Error{Message: "boom"})
package mock

import (
	"context"
	"sync"

	"github.com/parlano/parlano/pkg/provider/textgen"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req textgen.Request
}

// step is one queued outcome for a Complete call.
type step struct {
	resp *textgen.Response
	err  error
}

// Client is a mock implementation of textgen.Client.
//
// If outcomes have been queued via [Client.Queue], each Complete call
// consumes the next one; once the queue is drained, or when nothing was
// queued, Complete returns Response/Err.
type Client struct {
	mu sync.Mutex

	// Response is returned by Complete when the queue is empty. May be nil.
	Response *textgen.Response

	// Err, if non-nil, is returned by Complete when the queue is empty.
	Err error

	// Calls records every invocation of Complete in order.
	Calls []CompleteCall

	queue []step
}

// Compile-time interface assertion.
var _ textgen.Client = (*Client)(nil)

// Queue appends one outcome to the response queue.
func (c *Client) Queue(resp *textgen.Response, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, step{resp: resp, err: err})
}

// Complete implements textgen.Client.
func (c *Client) Complete(ctx context.Context, req textgen.Request) (*textgen.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, CompleteCall{Ctx: ctx, Req: req})

	if len(c.queue) > 0 {
		s := c.queue[0]
		c.queue = c.queue[1:]
		return s.resp, s.err
	}
	return c.Response, c.Err
}

// CallCount returns the number of Complete invocations so far.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
