package transcribe

import (
	"errors"
	"fmt"
)

// Error is the typed failure returned by [Client.Transcribe]. It wraps the
// underlying cause and names the stage that failed so that degraded-round
// feedback can say what went wrong without exposing transport details.
type Error struct {
	// Stage identifies where the failure happened: "read-audio", "request",
	// "timeout", or "decode-response".
	Stage string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTranscriptionError reports whether err is (or wraps) a transcription
// [*Error].
func IsTranscriptionError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
