package round

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/prompt"
	"github.com/parlano/parlano/internal/queue"
	"github.com/parlano/parlano/internal/store"
)

const (
	// analyzePriority orders round-analysis jobs in the middle of the 0–9
	// priority band.
	analyzePriority = 5

	// analyzeAttempts is the desired redelivery cap. The broker may enforce
	// its own consumer-level limit instead.
	analyzeAttempts = 3
)

// SubmitRequest is one round submission.
type SubmitRequest struct {
	SessionID   string
	RoundNumber int

	// AudioRef locates the recorded utterance.
	AudioRef string

	// TimeTaken is how long the learner took to record the attempt.
	TimeTaken time.Duration

	// Prompt is the sentence the learner spoke. When empty, the recorder
	// fetches one from the prompt generator using the session's level and
	// round position.
	Prompt string
}

// Recorder accepts round submissions. The synchronous path is one validation
// read, one insert, and one enqueue; the caller never waits on transcription
// or scoring.
type Recorder struct {
	sessions store.SessionStore
	rounds   store.RoundStore
	prompts  *prompt.Generator
	queue    queue.Queue
	analyzer *Analyzer
}

// NewRecorder creates a Recorder. The analyzer is used as the inline
// fallback when enqueueing fails.
func NewRecorder(sessions store.SessionStore, rounds store.RoundStore, prompts *prompt.Generator, q queue.Queue, analyzer *Analyzer) *Recorder {
	return &Recorder{
		sessions: sessions,
		rounds:   rounds,
		prompts:  prompts,
		queue:    q,
		analyzer: analyzer,
	}
}

// Submit records a round and schedules its analysis. The returned round is
// still pending; the learner polls for the score later. When the queue is
// unavailable the analysis runs inline as a best-effort synchronous path, so
// no round is silently lost.
func (r *Recorder) Submit(ctx context.Context, req SubmitRequest) (*model.Round, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	sess, err := r.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.StatusActive {
		return nil, &model.ValidationError{
			Field:  "session_id",
			Reason: fmt.Sprintf("session %s is already completed", sess.ID),
		}
	}

	// Round numbers form a contiguous sequence: each submission must be the
	// next round after the ones already recorded.
	recorded, err := r.rounds.CountRounds(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.RoundNumber != recorded+1 {
		return nil, &model.ValidationError{
			Field:  "round_number",
			Reason: fmt.Sprintf("rounds are sequential: expected round %d, got %d", recorded+1, req.RoundNumber),
		}
	}

	promptText := req.Prompt
	topic := ""
	if promptText == "" {
		p := r.prompts.GetPrompt(ctx, prompt.Request{
			LearnerID:   sess.LearnerID,
			SessionID:   sess.ID,
			Level:       sess.Level,
			RoundNumber: req.RoundNumber,
			Mode:        sess.Mode,
		})
		promptText, topic = p.Text, p.Topic
	}

	round := &model.Round{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		RoundNumber: req.RoundNumber,
		Prompt:      promptText,
		Topic:       topic,
		AudioRef:    req.AudioRef,
		TimeTaken:   req.TimeTaken,
	}
	if err := r.rounds.CreateRound(ctx, round); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(analyzeJob{RoundID: round.ID, SessionID: round.SessionID})
	if err != nil {
		return nil, fmt.Errorf("round: marshal analysis job: %w", err)
	}

	err = r.queue.Enqueue(ctx, TopicAnalyzeRound, payload, queue.Options{
		Priority: analyzePriority,
		Attempts: analyzeAttempts,
	})
	if err != nil {
		slog.Warn("enqueueing analysis failed, running inline",
			"round_id", round.ID, "session_id", round.SessionID, "error", err)
		if err := r.analyzer.AnalyzeRound(ctx, round.ID); err != nil {
			slog.Error("inline analysis failed, round stays pending",
				"round_id", round.ID, "error", err)
		}
	}

	slog.Info("round submitted",
		"round_id", round.ID, "session_id", round.SessionID,
		"round_number", round.RoundNumber)
	return round, nil
}

// GetRound returns a round by id for result polling.
func (r *Recorder) GetRound(ctx context.Context, id string) (*model.Round, error) {
	return r.rounds.GetRound(ctx, id)
}

// validateSubmit checks the submission parameters.
func validateSubmit(req SubmitRequest) error {
	if req.SessionID == "" {
		return &model.ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if req.RoundNumber < 1 || req.RoundNumber > model.RoundsPerSession {
		return &model.ValidationError{
			Field:  "round_number",
			Reason: fmt.Sprintf("must be between 1 and %d", model.RoundsPerSession),
		}
	}
	if req.AudioRef == "" {
		return &model.ValidationError{Field: "audio_ref", Reason: "must not be empty"}
	}
	if req.TimeTaken < 0 {
		return &model.ValidationError{Field: "time_taken", Reason: "must not be negative"}
	}
	return nil
}
