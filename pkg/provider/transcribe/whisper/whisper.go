// Package whisper provides a transcription client backed by a running
// whisper-server binary (the whisper.cpp REST frontend).
//
// The adapter reads the referenced audio file from disk and submits it to
// POST /inference as multipart/form-data, requesting verbose JSON output so
// that segment and word timings are available for the round analysis.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := c.Transcribe(ctx, transcribe.Request{AudioRef: "/tmp/round-3.wav"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// defaultTimeout bounds a single inference request when the caller's context
// carries no deadline. Queued-path callers typically pass a tighter deadline.
const defaultTimeout = 3 * time.Minute

// Compile-time assertion that Client implements transcribe.Client.
var _ transcribe.Client = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the language code sent to the server (e.g., "en").
// Empty lets the server auto-detect.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
// Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a transcribe.Client that talks to a whisper-server instance.
type Client struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Client for the whisper-server at serverURL (e.g.,
// "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// inferenceResponse mirrors whisper-server verbose JSON output.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe implements transcribe.Client. The request's AudioRef must be a
// path to an audio file readable by this process. Failures are returned as a
// typed [*transcribe.Error]; callers treat them as recoverable.
func (c *Client) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Transcript, error) {
	if req.AudioRef == "" {
		return nil, &transcribe.Error{Stage: "read-audio", Err: fmt.Errorf("empty audio reference")}
	}

	audio, err := os.ReadFile(req.AudioRef)
	if err != nil {
		return nil, &transcribe.Error{Stage: "read-audio", Err: err}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	body, contentType, err := c.buildForm(req, audio)
	if err != nil {
		return nil, &transcribe.Error{Stage: "request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", body)
	if err != nil {
		return nil, &transcribe.Error{Stage: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		stage := "request"
		if ctx.Err() != nil {
			stage = "timeout"
		}
		return nil, &transcribe.Error{Stage: stage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &transcribe.Error{
			Stage: "request",
			Err:   fmt.Errorf("server returned HTTP %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transcribe.Error{Stage: "decode-response", Err: err}
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &transcribe.Error{Stage: "decode-response", Err: err}
	}

	return convertResponse(&result), nil
}

// buildForm assembles the multipart request body for one inference call.
func (c *Client) buildForm(req transcribe.Request, audio []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioRef))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", fmt.Errorf("write response_format field: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = c.language
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return nil, "", fmt.Errorf("write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// convertResponse maps the server's verbose JSON shape onto the provider
// transcript type, converting second offsets into durations.
func convertResponse(in *inferenceResponse) *transcribe.Transcript {
	out := &transcribe.Transcript{Text: in.Text}
	for _, seg := range in.Segments {
		out.Segments = append(out.Segments, transcribe.Segment{
			Text:  seg.Text,
			Start: secs(seg.Start),
			End:   secs(seg.End),
		})
		for _, w := range seg.Words {
			out.Words = append(out.Words, transcribe.Word{
				Word:       w.Word,
				Start:      secs(w.Start),
				End:        secs(w.End),
				Confidence: w.Probability,
			})
		}
	}
	return out
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
