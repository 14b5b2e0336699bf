// Package openai provides a text-generation client backed by the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parlano/parlano/pkg/provider/textgen"
)

// Client implements textgen.Client using the OpenAI chat completions API.
type Client struct {
	client oai.Client
	model  string
}

// Compile-time interface assertion.
var _ textgen.Client = (*Client)(nil)

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI text-generation client.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements textgen.Client.
func (c *Client) Complete(ctx context.Context, req textgen.Request) (*textgen.Response, error) {
	params := c.buildParams(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, convertError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &textgen.Error{Message: "empty choices in response"}
	}

	choice := resp.Choices[0]
	return &textgen.Response{
		Content: choice.Message.Content,
		Usage: textgen.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams converts a textgen.Request into OpenAI SDK params.
func (c *Client) buildParams(req textgen.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// convertError maps OpenAI SDK errors to the typed textgen error, marking
// rate-limit (429) and quota/payment signals so fallback chains can shrink
// the request and retry.
func convertError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		rateLimited := apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusPaymentRequired ||
			apiErr.Code == "insufficient_quota" ||
			apiErr.Code == "rate_limit_exceeded"
		return &textgen.Error{
			Code:        apiErr.Code,
			Message:     apiErr.Message,
			RateLimited: rateLimited,
			Err:         err,
		}
	}
	return &textgen.Error{Message: err.Error(), Err: err}
}
