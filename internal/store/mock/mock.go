// Package mock provides an in-memory [store.Store] for tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/store"
	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// Store is an in-memory implementation of [store.Store]. Safe for concurrent
// use. The Err fields inject failures per operation family.
type Store struct {
	mu sync.Mutex

	sessions    map[string]*model.Session
	rounds      map[string]*model.Round
	evaluations map[string]*model.QuickEvaluation // keyed by round id
	history     map[string]*model.PracticeHistory // keyed by session id

	// SessionErr, RoundErr, EvaluationErr, and HistoryErr are returned from
	// the respective operation family when set.
	SessionErr    error
	RoundErr      error
	EvaluationErr error
	HistoryErr    error
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]*model.Session),
		rounds:      make(map[string]*model.Round),
		evaluations: make(map[string]*model.QuickEvaluation),
		history:     make(map[string]*model.PracticeHistory),
	}
}

func (s *Store) Migrate(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error    { return nil }

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	if s.SessionErr != nil {
		return s.SessionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetSession implements [store.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if s.SessionErr != nil {
		return nil, s.SessionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// ActiveSession implements [store.SessionStore].
func (s *Store) ActiveSession(ctx context.Context, learnerID string) (*model.Session, error) {
	if s.SessionErr != nil {
		return nil, s.SessionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Session
	for _, sess := range s.sessions {
		if sess.LearnerID != learnerID || sess.Status != model.StatusActive {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// CompleteSession implements [store.SessionStore].
func (s *Store) CompleteSession(ctx context.Context, id string, total, average int, summary model.Summary) error {
	if s.SessionErr != nil {
		return s.SessionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.StatusActive {
		return nil
	}
	now := time.Now()
	sess.Status = model.StatusCompleted
	sess.TotalScore = total
	sess.AverageScore = average
	sess.Summary = &summary
	sess.CompletedAt = &now
	return nil
}

// CreateRound implements [store.RoundStore].
func (s *Store) CreateRound(ctx context.Context, r *model.Round) error {
	if s.RoundErr != nil {
		return s.RoundErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rounds {
		if existing.SessionID == r.SessionID && existing.RoundNumber == r.RoundNumber {
			return &model.ValidationError{
				Field:  "round_number",
				Reason: fmt.Sprintf("round %d already recorded for session %s", r.RoundNumber, r.SessionID),
			}
		}
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	cp := *r
	s.rounds[r.ID] = &cp
	return nil
}

// GetRound implements [store.RoundStore].
func (s *Store) GetRound(ctx context.Context, id string) (*model.Round, error) {
	if s.RoundErr != nil {
		return nil, s.RoundErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, model.ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRounds implements [store.RoundStore].
func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]model.Round, error) {
	if s.RoundErr != nil {
		return nil, s.RoundErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Round
	for _, r := range s.rounds {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

// CountRounds implements [store.RoundStore].
func (s *Store) CountRounds(ctx context.Context, sessionID string) (int, error) {
	if s.RoundErr != nil {
		return 0, s.RoundErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rounds {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

// FinishRound implements [store.RoundStore].
func (s *Store) FinishRound(ctx context.Context, id string, transcript *transcribe.Transcript, score int, analysis model.Analysis) error {
	if s.RoundErr != nil {
		return s.RoundErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return model.ErrRoundNotFound
	}
	r.Transcript = transcript
	r.Score = score
	r.Analysis = &analysis
	r.UpdatedAt = time.Now()
	return nil
}

// UsedPrompts implements [store.RoundStore].
func (s *Store) UsedPrompts(ctx context.Context, sessionID string) ([]string, []string, error) {
	if s.RoundErr != nil {
		return nil, nil, s.RoundErr
	}
	rounds, err := s.ListRounds(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	var prompts, topics []string
	for _, r := range rounds {
		prompts = append(prompts, r.Prompt)
		if r.Topic != "" {
			topics = append(topics, r.Topic)
		}
	}
	return prompts, topics, nil
}

// CreateEvaluation implements [store.EvaluationStore].
func (s *Store) CreateEvaluation(ctx context.Context, e *model.QuickEvaluation) error {
	if s.EvaluationErr != nil {
		return s.EvaluationErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.evaluations[e.RoundID]; exists {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	s.evaluations[e.RoundID] = &cp
	return nil
}

// UpsertHistory implements [store.HistoryStore].
func (s *Store) UpsertHistory(ctx context.Context, h *model.PracticeHistory) error {
	if s.HistoryErr != nil {
		return s.HistoryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.history[h.SessionID] = &cp
	return nil
}

// RecentAverage implements [store.HistoryStore].
func (s *Store) RecentAverage(ctx context.Context, learnerID string, n int) (float64, int, error) {
	if s.HistoryErr != nil {
		return 0, 0, s.HistoryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*model.PracticeHistory
	for _, h := range s.history {
		if h.LearnerID == learnerID {
			rows = append(rows, h)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PracticedAt.After(rows[j].PracticedAt) })
	if len(rows) > n {
		rows = rows[:n]
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	sum := 0
	for _, h := range rows {
		sum += h.AverageScore
	}
	return float64(sum) / float64(len(rows)), len(rows), nil
}

// Evaluation returns the recorded audit row for a round, or nil. Test helper.
func (s *Store) Evaluation(roundID string) *model.QuickEvaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.evaluations[roundID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// History returns the ledger row for a session, or nil. Test helper.
func (s *Store) History(sessionID string) *model.PracticeHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[sessionID]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}
