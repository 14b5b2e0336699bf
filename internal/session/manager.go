// Package session creates and finalises practice sessions.
//
// The [Manager] guards the single-active-session invariant at creation time;
// the [Aggregator] computes the session score and narrative summary once all
// rounds are in.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/observe"
	"github.com/parlano/parlano/internal/store"
)

const (
	minLevel = 1
	maxLevel = 5
)

// Manager creates sessions and serves session reads.
type Manager struct {
	sessions store.SessionStore
	rounds   store.RoundStore
	metrics  *observe.Metrics
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithManagerMetrics overrides the metrics instance, letting tests observe
// recorded values.
func WithManagerMetrics(m *observe.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a Manager.
func NewManager(sessions store.SessionStore, rounds store.RoundStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: sessions,
		rounds:   rounds,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateSession starts a new practice session for a learner.
//
// A learner has at most one active session at a time: when an active session
// with incomplete rounds exists, creation fails with a
// [*model.SessionConflictError] referencing it. An active session whose
// rounds are all recorded does not block creation — it is merely awaiting its
// summary. The existence check and the insert are not atomic; the rare
// double-create under concurrent requests is tolerated.
func (m *Manager) CreateSession(ctx context.Context, learnerID string, level int, mode model.SessionMode) (*model.Session, error) {
	if learnerID == "" {
		return nil, &model.ValidationError{Field: "learner_id", Reason: "must not be empty"}
	}
	if level < minLevel || level > maxLevel {
		return nil, &model.ValidationError{
			Field:  "level",
			Reason: fmt.Sprintf("must be between %d and %d", minLevel, maxLevel),
		}
	}
	if mode == "" {
		mode = model.ModePractice
	}
	if !mode.IsValid() {
		return nil, &model.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	active, err := m.sessions.ActiveSession(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("session: check active session: %w", err)
	}
	if active != nil {
		recorded, err := m.rounds.CountRounds(ctx, active.ID)
		if err != nil {
			return nil, fmt.Errorf("session: count rounds of active session: %w", err)
		}
		if recorded < model.RoundsPerSession {
			return nil, &model.SessionConflictError{
				LearnerID:         learnerID,
				ExistingSessionID: active.ID,
				RoundsRecorded:    recorded,
			}
		}
		slog.Info("active session has all rounds recorded, allowing a new one",
			"learner_id", learnerID, "session_id", active.ID)
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Level:     level,
		Mode:      mode,
		Status:    model.StatusActive,
	}
	if err := m.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	m.metrics.RecordSessionStarted(ctx)

	slog.Info("session created",
		"session_id", sess.ID, "learner_id", learnerID, "level", level, "mode", mode)
	return sess, nil
}

// GetSession returns a session with its rounds.
func (m *Manager) GetSession(ctx context.Context, id string) (*model.Session, []model.Round, error) {
	sess, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rounds, err := m.rounds.ListRounds(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, rounds, nil
}
