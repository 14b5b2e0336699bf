package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// Schema is the SQL DDL for the practice tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id            TEXT PRIMARY KEY,
    learner_id    TEXT NOT NULL,
    level         INT NOT NULL,
    mode          TEXT NOT NULL DEFAULT 'practice',
    status        TEXT NOT NULL DEFAULT 'active',
    total_score   INT NOT NULL DEFAULT 0,
    average_score INT NOT NULL DEFAULT 0,
    summary       JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_practice_sessions_learner ON practice_sessions(learner_id, status);

CREATE TABLE IF NOT EXISTS practice_rounds (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL REFERENCES practice_sessions(id),
    round_number  INT NOT NULL,
    prompt        TEXT NOT NULL,
    topic         TEXT NOT NULL DEFAULT '',
    audio_ref     TEXT NOT NULL,
    transcript    JSONB,
    time_taken_ms BIGINT NOT NULL DEFAULT 0,
    score         INT NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 100),
    analysis      JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, round_number)
);
CREATE INDEX IF NOT EXISTS idx_practice_rounds_session ON practice_rounds(session_id, round_number);

CREATE TABLE IF NOT EXISTS quick_evaluations (
    id           TEXT PRIMARY KEY,
    round_id     TEXT NOT NULL UNIQUE REFERENCES practice_rounds(id),
    session_id   TEXT NOT NULL,
    learner_id   TEXT NOT NULL,
    score        INT NOT NULL,
    feedback     TEXT NOT NULL DEFAULT '',
    strengths    JSONB NOT NULL DEFAULT '[]',
    improvements JSONB NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS practice_history (
    id            TEXT PRIMARY KEY,
    learner_id    TEXT NOT NULL,
    session_id    TEXT NOT NULL UNIQUE,
    level         INT NOT NULL,
    mode          TEXT NOT NULL,
    rounds        INT NOT NULL,
    total_score   INT NOT NULL,
    average_score INT NOT NULL,
    practiced_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_practice_history_learner ON practice_history(learner_id, practiced_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (summary, transcript, analysis) are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a [PostgresStore] using the given connection or pool.
// Call [PostgresStore.Migrate] before issuing queries.
func NewPostgres(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the practice tables and
// indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return &model.PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

// Ping probes connectivity with a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return &model.PersistenceError{Op: "ping", Err: err}
	}
	return nil
}

// ---- sessions ---------------------------------------------------------------

// CreateSession implements [SessionStore].
func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	const query = `
		INSERT INTO practice_sessions (id, learner_id, level, mode, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		sess.ID, sess.LearnerID, sess.Level, string(sess.Mode), string(sess.Status),
	).Scan(&sess.CreatedAt)
	if err != nil {
		return &model.PersistenceError{Op: "create session", Err: err}
	}
	return nil
}

// sessionColumns is the select list shared by the session readers.
const sessionColumns = `id, learner_id, level, mode, status,
       total_score, average_score, summary, created_at, completed_at`

// GetSession implements [SessionStore].
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM practice_sessions WHERE id = $1`

	sess, err := scanSession(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, &model.PersistenceError{Op: "get session", Err: err}
	}
	return sess, nil
}

// ActiveSession implements [SessionStore].
func (s *PostgresStore) ActiveSession(ctx context.Context, learnerID string) (*model.Session, error) {
	const query = `SELECT ` + sessionColumns + `
		FROM practice_sessions
		WHERE learner_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`

	sess, err := scanSession(s.db.QueryRow(ctx, query, learnerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &model.PersistenceError{Op: "active session", Err: err}
	}
	return sess, nil
}

// CompleteSession implements [SessionStore].
func (s *PostgresStore) CompleteSession(ctx context.Context, id string, total, average int, summary model.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return &model.PersistenceError{Op: "marshal summary", Err: err}
	}

	const query = `
		UPDATE practice_sessions SET
			status = 'completed', total_score = $2, average_score = $3,
			summary = $4, completed_at = now()
		WHERE id = $1 AND status = 'active'`

	// Zero rows affected means the session is already completed (or does
	// not exist); both are no-ops for an at-least-once summary job.
	if _, err := s.db.Exec(ctx, query, id, total, average, summaryJSON); err != nil {
		return &model.PersistenceError{Op: "complete session", Err: err}
	}
	return nil
}

// scanSession reads one session row.
func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		sess        model.Session
		mode        string
		status      string
		summaryJSON []byte
	)
	err := row.Scan(&sess.ID, &sess.LearnerID, &sess.Level, &mode, &status,
		&sess.TotalScore, &sess.AverageScore, &summaryJSON, &sess.CreatedAt, &sess.CompletedAt)
	if err != nil {
		return nil, err
	}
	sess.Mode = model.SessionMode(mode)
	sess.Status = model.SessionStatus(status)
	if len(summaryJSON) > 0 {
		sess.Summary = &model.Summary{}
		if err := json.Unmarshal(summaryJSON, sess.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return &sess, nil
}

// ---- rounds -----------------------------------------------------------------

// CreateRound implements [RoundStore].
func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round) error {
	const query = `
		INSERT INTO practice_rounds (id, session_id, round_number, prompt, topic, audio_ref, time_taken_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		r.ID, r.SessionID, r.RoundNumber, r.Prompt, r.Topic, r.AudioRef,
		r.TimeTaken.Milliseconds(),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return &model.ValidationError{
				Field:  "round_number",
				Reason: fmt.Sprintf("round %d already recorded for session %s", r.RoundNumber, r.SessionID),
			}
		}
		return &model.PersistenceError{Op: "create round", Err: err}
	}
	return nil
}

// roundColumns is the select list shared by the round readers.
const roundColumns = `id, session_id, round_number, prompt, topic, audio_ref,
       transcript, time_taken_ms, score, analysis, created_at, updated_at`

// GetRound implements [RoundStore].
func (s *PostgresStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	const query = `SELECT ` + roundColumns + ` FROM practice_rounds WHERE id = $1`

	r, err := scanRound(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRoundNotFound
		}
		return nil, &model.PersistenceError{Op: "get round", Err: err}
	}
	return r, nil
}

// ListRounds implements [RoundStore].
func (s *PostgresStore) ListRounds(ctx context.Context, sessionID string) ([]model.Round, error) {
	const query = `SELECT ` + roundColumns + `
		FROM practice_rounds
		WHERE session_id = $1
		ORDER BY round_number`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list rounds", Err: err}
	}
	defer rows.Close()

	var out []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, &model.PersistenceError{Op: "list rounds scan", Err: err}
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.PersistenceError{Op: "list rounds", Err: err}
	}
	return out, nil
}

// CountRounds implements [RoundStore].
func (s *PostgresStore) CountRounds(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM practice_rounds WHERE session_id = $1`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, &model.PersistenceError{Op: "count rounds", Err: err}
	}
	return n, nil
}

// FinishRound implements [RoundStore].
func (s *PostgresStore) FinishRound(ctx context.Context, id string, transcript *transcribe.Transcript, score int, analysis model.Analysis) error {
	var transcriptJSON []byte
	if transcript != nil {
		var err error
		if transcriptJSON, err = json.Marshal(transcript); err != nil {
			return &model.PersistenceError{Op: "marshal transcript", Err: err}
		}
	}
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return &model.PersistenceError{Op: "marshal analysis", Err: err}
	}

	const query = `
		UPDATE practice_rounds SET
			transcript = $2, score = $3, analysis = $4, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, transcriptJSON, score, analysisJSON)
	if err != nil {
		return &model.PersistenceError{Op: "finish round", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return model.ErrRoundNotFound
	}
	return nil
}

// UsedPrompts implements [RoundStore].
func (s *PostgresStore) UsedPrompts(ctx context.Context, sessionID string) ([]string, []string, error) {
	const query = `SELECT prompt, topic FROM practice_rounds WHERE session_id = $1 ORDER BY round_number`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, nil, &model.PersistenceError{Op: "used prompts", Err: err}
	}
	defer rows.Close()

	var prompts, topics []string
	for rows.Next() {
		var prompt, topic string
		if err := rows.Scan(&prompt, &topic); err != nil {
			return nil, nil, &model.PersistenceError{Op: "used prompts scan", Err: err}
		}
		prompts = append(prompts, prompt)
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &model.PersistenceError{Op: "used prompts", Err: err}
	}
	return prompts, topics, nil
}

// scanRound reads one round row.
func scanRound(row pgx.Row) (*model.Round, error) {
	var (
		r              model.Round
		transcriptJSON []byte
		analysisJSON   []byte
		timeTakenMs    int64
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.RoundNumber, &r.Prompt, &r.Topic,
		&r.AudioRef, &transcriptJSON, &timeTakenMs, &r.Score, &analysisJSON,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.TimeTaken = time.Duration(timeTakenMs) * time.Millisecond
	if len(transcriptJSON) > 0 {
		r.Transcript = &transcribe.Transcript{}
		if err := json.Unmarshal(transcriptJSON, r.Transcript); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}
	}
	if len(analysisJSON) > 0 {
		r.Analysis = &model.Analysis{}
		if err := json.Unmarshal(analysisJSON, r.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	return &r, nil
}

// ---- quick evaluations ------------------------------------------------------

// CreateEvaluation implements [EvaluationStore]. A duplicate round_id is
// dropped silently: the audit trail is write-once and job delivery is
// at-least-once.
func (s *PostgresStore) CreateEvaluation(ctx context.Context, e *model.QuickEvaluation) error {
	strengthsJSON, err := json.Marshal(emptySlice(e.Strengths))
	if err != nil {
		return &model.PersistenceError{Op: "marshal strengths", Err: err}
	}
	improvementsJSON, err := json.Marshal(emptySlice(e.Improvements))
	if err != nil {
		return &model.PersistenceError{Op: "marshal improvements", Err: err}
	}

	const query = `
		INSERT INTO quick_evaluations (id, round_id, session_id, learner_id, score, feedback, strengths, improvements)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round_id) DO NOTHING`

	if _, err := s.db.Exec(ctx, query,
		e.ID, e.RoundID, e.SessionID, e.LearnerID, e.Score, e.Feedback,
		strengthsJSON, improvementsJSON,
	); err != nil {
		return &model.PersistenceError{Op: "create evaluation", Err: err}
	}
	return nil
}

// ---- practice history -------------------------------------------------------

// UpsertHistory implements [HistoryStore].
func (s *PostgresStore) UpsertHistory(ctx context.Context, h *model.PracticeHistory) error {
	const query = `
		INSERT INTO practice_history (id, learner_id, session_id, level, mode, rounds, total_score, average_score, practiced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			rounds = EXCLUDED.rounds,
			total_score = EXCLUDED.total_score,
			average_score = EXCLUDED.average_score,
			practiced_at = EXCLUDED.practiced_at`

	if _, err := s.db.Exec(ctx, query,
		h.ID, h.LearnerID, h.SessionID, h.Level, string(h.Mode),
		h.Rounds, h.TotalScore, h.AverageScore, h.PracticedAt,
	); err != nil {
		return &model.PersistenceError{Op: "upsert history", Err: err}
	}
	return nil
}

// RecentAverage implements [HistoryStore].
func (s *PostgresStore) RecentAverage(ctx context.Context, learnerID string, n int) (float64, int, error) {
	const query = `
		SELECT coalesce(avg(average_score), 0), count(*)
		FROM (
			SELECT average_score
			FROM practice_history
			WHERE learner_id = $1
			ORDER BY practiced_at DESC
			LIMIT $2
		) recent`

	var (
		average float64
		count   int
	)
	if err := s.db.QueryRow(ctx, query, learnerID, n).Scan(&average, &count); err != nil {
		return 0, 0, &model.PersistenceError{Op: "recent average", Err: err}
	}
	return average, count, nil
}

// ---- helpers ----------------------------------------------------------------

// emptySlice returns s if non-nil, otherwise an empty non-nil slice, so JSON
// marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
