package model

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by stores when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrRoundNotFound is returned by stores when a round id does not exist.
var ErrRoundNotFound = errors.New("round not found")

// ValidationError rejects bad session or round parameters. It is always
// surfaced synchronously to the caller, never from the background path.
type ValidationError struct {
	// Field names the offending parameter.
	Field string

	// Reason says what is wrong with it.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a [*ValidationError].
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SessionConflictError is returned when a learner already has an active
// session with incomplete rounds. It references the conflicting session so
// callers can resume or finalise it.
type SessionConflictError struct {
	LearnerID string

	// ExistingSessionID is the id of the active session blocking creation.
	ExistingSessionID string

	// RoundsRecorded is how many rounds the existing session already has.
	RoundsRecorded int
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("learner %s already has an active session %s (%d/%d rounds)",
		e.LearnerID, e.ExistingSessionID, e.RoundsRecorded, RoundsPerSession)
}

// IsSessionConflict reports whether err is (or wraps) a
// [*SessionConflictError].
func IsSessionConflict(err error) bool {
	var ce *SessionConflictError
	return errors.As(err, &ce)
}

// PersistenceError wraps a storage failure. On the synchronous path it is
// propagated to the caller; on the background path it is logged and the job
// is treated as processed so the queue never gets stuck.
type PersistenceError struct {
	// Op is the store operation that failed (e.g., "create session").
	Op string

	// Err is the underlying driver error.
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a [*PersistenceError].
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
