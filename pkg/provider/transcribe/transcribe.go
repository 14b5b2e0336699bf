// Package transcribe defines the Client interface for speech-to-text backends.
//
// A transcription client wraps a batch speech-to-text service (e.g., a local
// whisper-server or a hosted API) and exposes a uniform one-shot interface:
// one audio reference in, one structured [Transcript] out. The engine's queue
// workers and scoring pipeline depend only on this interface, never on how
// the remote call is transported.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation; long-running requests are bounded by the caller's context
// deadline rather than by an internal cancellation primitive.
package transcribe

import (
	"context"
	"time"
)

// Request describes a single transcription job.
type Request struct {
	// AudioRef locates the recorded utterance. For the whisper adapter this
	// is a local file path; other adapters may accept URLs.
	AudioRef string

	// Model is an optional model hint forwarded to the backend (e.g.,
	// "base.en"). Empty means the backend default.
	Model string

	// Language is the BCP-47 language code of the expected speech.
	// Empty lets the backend auto-detect, if supported.
	Language string
}

// Transcript is the structured result of one transcription.
type Transcript struct {
	// Text is the full transcribed speech content.
	Text string `json:"text"`

	// Segments are contiguous spans of recognised speech in utterance order.
	// May be empty for backends that only return flat text.
	Segments []Segment `json:"segments,omitempty"`

	// Words contains per-word timing and confidence when the backend
	// supports word-level output. May be nil.
	Words []Word `json:"words,omitempty"`
}

// Segment is a contiguous span of recognised speech.
type Segment struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Word holds per-word metadata from backends that support it.
type Word struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// Client is the abstraction over any speech-to-text backend.
//
// Transcribe failures surface as a [*Error] so that callers can distinguish
// recoverable transcription problems (timeout, unreachable backend, bad
// audio) from programming errors. Callers are expected to treat a [*Error]
// as recoverable: the round is finalised with a degraded result, not dropped.
type Client interface {
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
