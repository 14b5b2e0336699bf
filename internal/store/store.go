// Package store persists sessions, rounds, quick evaluations, and the
// practice-history ledger.
//
// The interfaces are deliberately narrow so components depend only on the
// operations they use; [PostgresStore] implements all of them on a single
// PostgreSQL database. An in-memory implementation for tests lives in the
// mock subpackage.
package store

import (
	"context"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// SessionStore persists practice sessions.
type SessionStore interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, s *model.Session) error

	// GetSession retrieves a session by id. Returns
	// [model.ErrSessionNotFound] when no such session exists.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// ActiveSession returns the learner's session with status "active", or
	// (nil, nil) when there is none.
	ActiveSession(ctx context.Context, learnerID string) (*model.Session, error)

	// CompleteSession finalises a session: status becomes "completed" and
	// the aggregate fields are written. Completing an already-completed
	// session is a no-op, which keeps at-least-once summary jobs safe.
	CompleteSession(ctx context.Context, id string, total, average int, summary model.Summary) error
}

// RoundStore persists rounds and their analysis results.
type RoundStore interface {
	// CreateRound inserts a pending round row (score 0, nil transcript and
	// analysis). A duplicate (session, round_number) pair is rejected with
	// a [*model.ValidationError].
	CreateRound(ctx context.Context, r *model.Round) error

	// GetRound retrieves a round by id. Returns [model.ErrRoundNotFound]
	// when no such round exists.
	GetRound(ctx context.Context, id string) (*model.Round, error)

	// ListRounds returns the session's rounds ordered by round number.
	ListRounds(ctx context.Context, sessionID string) ([]model.Round, error)

	// CountRounds returns how many rounds the session has recorded.
	CountRounds(ctx context.Context, sessionID string) (int, error)

	// FinishRound writes the analysis outcome for a round in place. The
	// transcript may be nil on the degraded path.
	FinishRound(ctx context.Context, id string, transcript *transcribe.Transcript, score int, analysis model.Analysis) error

	// UsedPrompts returns the prompts and topics already used in the
	// session, for repetition avoidance.
	UsedPrompts(ctx context.Context, sessionID string) (prompts, topics []string, err error)
}

// EvaluationStore persists the write-once quick-evaluation audit trail.
type EvaluationStore interface {
	// CreateEvaluation inserts the audit record for a round. A second
	// insert for the same round is silently dropped — the first write wins
	// under at-least-once job delivery.
	CreateEvaluation(ctx context.Context, e *model.QuickEvaluation) error
}

// HistoryStore persists the per-session practice-history ledger.
type HistoryStore interface {
	// UpsertHistory writes the ledger row for a completed session,
	// updating it in place if one already exists for the session.
	UpsertHistory(ctx context.Context, h *model.PracticeHistory) error

	// RecentAverage returns the mean of the learner's average scores over
	// their most recent n ledger rows, plus how many rows contributed.
	// count == 0 means the learner has no history yet.
	RecentAverage(ctx context.Context, learnerID string, n int) (average float64, count int, err error)
}

// Store is the full persistence surface used to wire the engine.
type Store interface {
	SessionStore
	RoundStore
	EvaluationStore
	HistoryStore

	// Migrate creates the schema if it does not already exist.
	Migrate(ctx context.Context) error

	// Ping probes connectivity for health checks.
	Ping(ctx context.Context) error
}
