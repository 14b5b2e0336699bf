// Package round accepts submitted rounds and runs their background analysis.
//
// The [Recorder] is the synchronous half: it validates the submission, writes
// a pending row, and enqueues an analysis job. The [Analyzer] is the
// asynchronous half: it transcribes the audio, scores the transcript, and
// finalises the row — degrading to a zero score with an explanation rather
// than leaving a round pending.
package round

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/observe"
	"github.com/parlano/parlano/internal/scoring"
	"github.com/parlano/parlano/internal/store"
	"github.com/parlano/parlano/pkg/provider/transcribe"
)

const (
	// TopicAnalyzeRound is the queue topic for round-analysis jobs.
	TopicAnalyzeRound = "practice.round.analyze"

	// transcribeTimeout bounds one transcription call on the queued path.
	transcribeTimeout = 180 * time.Second

	// reanalyzeConcurrency bounds how many rounds a bulk re-analysis batch
	// processes at once, protecting the transcription service.
	reanalyzeConcurrency = 3

	// degradedReason explains a round finalised through the failure path.
	degradedReason = "audio analysis failed"
)

// analyzeJob is the queue payload for one round analysis.
type analyzeJob struct {
	RoundID   string `json:"round_id"`
	SessionID string `json:"session_id"`
}

// Analyzer runs the background analysis pipeline for submitted rounds.
type Analyzer struct {
	store       store.Store
	transcriber transcribe.Client
	scorer      *scoring.Engine
	metrics     *observe.Metrics
	timeout     time.Duration
}

// AnalyzerOption is a functional option for Analyzer.
type AnalyzerOption func(*Analyzer)

// WithTranscribeTimeout overrides the per-round transcription timeout.
func WithTranscribeTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) AnalyzerOption {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(st store.Store, transcriber transcribe.Client, scorer *scoring.Engine, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		store:       st,
		transcriber: transcriber,
		scorer:      scorer,
		metrics:     observe.DefaultMetrics(),
		timeout:     transcribeTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// HandleJob is the queue processor for [TopicAnalyzeRound]. It always returns
// nil: bad payloads, missing rounds, and persistence failures are logged and
// the delivery is treated as processed, so the queue never gets stuck on a
// job that cannot make progress. Transcription failures finalise the round
// through the degraded path and are likewise terminal.
func (a *Analyzer) HandleJob(ctx context.Context, payload []byte) error {
	var job analyzeJob
	if err := json.Unmarshal(payload, &job); err != nil {
		slog.Error("discarding malformed analysis job", "error", err)
		a.metrics.RecordQueueJob(ctx, TopicAnalyzeRound, "malformed")
		return nil
	}

	if err := a.AnalyzeRound(ctx, job.RoundID); err != nil {
		slog.Error("round analysis failed, treating job as processed",
			"round_id", job.RoundID, "session_id", job.SessionID, "error", err)
		a.metrics.RecordQueueJob(ctx, TopicAnalyzeRound, "error")
		return nil
	}

	a.metrics.RecordQueueJob(ctx, TopicAnalyzeRound, "ok")
	return nil
}

// AnalyzeRound processes one round: transcription, scoring, and the final row
// update. Rounds that already left the pending state are skipped, which makes
// redelivered jobs harmless. Only persistence failures are returned as
// errors; pipeline failures finalise the round with a degraded analysis.
func (a *Analyzer) AnalyzeRound(ctx context.Context, roundID string) error {
	start := time.Now()

	r, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return fmt.Errorf("round: load for analysis: %w", err)
	}
	if !r.Pending() {
		slog.Debug("round already analysed, skipping", "round_id", roundID)
		a.metrics.RecordRoundProcessed(ctx, "skipped", r.Score)
		return nil
	}

	transcript, err := a.transcribeAudio(ctx, r)
	if err != nil {
		slog.Warn("transcription failed, finalising round as degraded",
			"round_id", r.ID, "session_id", r.SessionID, "error", err)
		a.metrics.RecordProviderError(ctx, "whisper", "transcribe")
		return a.finalizeDegraded(ctx, r)
	}

	scoreStart := time.Now()
	res := a.scorer.Score(ctx, transcript.Text, r.Prompt)
	a.metrics.ScoringDuration.Record(ctx, time.Since(scoreStart).Seconds())

	analysis := model.Analysis{
		Feedback:     res.Feedback,
		MissingWords: res.MissingWords,
		NearMisses:   res.NearMisses,
		Words:        res.Words,
		Strengths:    res.Strengths,
		Improvements: res.Improvements,
	}
	if err := a.store.FinishRound(ctx, r.ID, transcript, res.Score, analysis); err != nil {
		return fmt.Errorf("round: finalise: %w", err)
	}

	if res.AIAssisted {
		a.recordEvaluation(ctx, r, res)
	}

	a.metrics.RecordRoundProcessed(ctx, "scored", res.Score)
	a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())

	slog.Info("round analysed",
		"round_id", r.ID, "session_id", r.SessionID,
		"round_number", r.RoundNumber, "score", res.Score,
		"ai_assisted", res.AIAssisted)
	return nil
}

// ReanalyzeSession re-runs analysis for the session's pending and degraded
// rounds, at most three at a time. Returns the number of rounds processed and
// the first error encountered.
func (a *Analyzer) ReanalyzeSession(ctx context.Context, sessionID string) (int, error) {
	rounds, err := a.store.ListRounds(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("round: list for re-analysis: %w", err)
	}

	var targets []model.Round
	for _, r := range rounds {
		if r.Pending() || r.Analysis.Failed {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reanalyzeConcurrency)
	for _, r := range targets {
		g.Go(func() error {
			return a.analyzeAgain(ctx, r.ID)
		})
	}
	if err := g.Wait(); err != nil {
		return len(targets), err
	}
	return len(targets), nil
}

// analyzeAgain forces a fresh analysis of a round, including one previously
// finalised through the degraded path.
func (a *Analyzer) analyzeAgain(ctx context.Context, roundID string) error {
	r, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return fmt.Errorf("round: load for re-analysis: %w", err)
	}

	transcript, err := a.transcribeAudio(ctx, r)
	if err != nil {
		slog.Warn("re-analysis transcription failed",
			"round_id", r.ID, "session_id", r.SessionID, "error", err)
		a.metrics.RecordProviderError(ctx, "whisper", "transcribe")
		if r.Pending() {
			return a.finalizeDegraded(ctx, r)
		}
		// Already degraded; keep the existing terminal state.
		return nil
	}

	res := a.scorer.Score(ctx, transcript.Text, r.Prompt)
	analysis := model.Analysis{
		Feedback:     res.Feedback,
		MissingWords: res.MissingWords,
		NearMisses:   res.NearMisses,
		Words:        res.Words,
		Strengths:    res.Strengths,
		Improvements: res.Improvements,
	}
	if err := a.store.FinishRound(ctx, r.ID, transcript, res.Score, analysis); err != nil {
		return fmt.Errorf("round: finalise re-analysis: %w", err)
	}
	a.metrics.RecordRoundProcessed(ctx, "scored", res.Score)
	return nil
}

// transcribeAudio runs the bounded transcription call for a round.
func (a *Analyzer) transcribeAudio(ctx context.Context, r *model.Round) (*transcribe.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	transcript, err := a.transcriber.Transcribe(ctx, transcribe.Request{AudioRef: r.AudioRef})
	a.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	return transcript, err
}

// finalizeDegraded gives a round a terminal zero score with an explanation
// instead of leaving it pending.
func (a *Analyzer) finalizeDegraded(ctx context.Context, r *model.Round) error {
	analysis := model.Analysis{
		Feedback:      "We couldn't analyse your recording this time. Your other rounds still count — please try the next one.",
		Failed:        true,
		FailureReason: degradedReason,
	}
	if err := a.store.FinishRound(ctx, r.ID, nil, 0, analysis); err != nil {
		return fmt.Errorf("round: finalise degraded: %w", err)
	}
	a.metrics.RecordRoundProcessed(ctx, "degraded", 0)
	return nil
}

// recordEvaluation writes the write-once audit row for an AI-assisted score.
// Best-effort: a failure here never fails the round.
func (a *Analyzer) recordEvaluation(ctx context.Context, r *model.Round, res *scoring.Result) {
	sess, err := a.store.GetSession(ctx, r.SessionID)
	if err != nil {
		slog.Warn("loading session for evaluation record failed",
			"session_id", r.SessionID, "error", err)
		return
	}
	if err := a.store.CreateEvaluation(ctx, &model.QuickEvaluation{
		ID:           uuid.NewString(),
		RoundID:      r.ID,
		SessionID:    r.SessionID,
		LearnerID:    sess.LearnerID,
		Score:        res.Score,
		Feedback:     res.Feedback,
		Strengths:    res.Strengths,
		Improvements: res.Improvements,
	}); err != nil {
		slog.Warn("writing quick evaluation failed", "round_id", r.ID, "error", err)
	}
}
