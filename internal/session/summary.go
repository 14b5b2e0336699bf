package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/observe"
	"github.com/parlano/parlano/internal/resilience"
	"github.com/parlano/parlano/internal/store"
	"github.com/parlano/parlano/pkg/provider/textgen"
)

// narrativeTimeout bounds the summary narrative generation call.
const narrativeTimeout = 30 * time.Second

// summarySystemPrompt instructs the model for the narrative pass. The JSON
// shape matches model.Summary.
const summarySystemPrompt = `You are an English speaking coach writing a short end-of-session summary for a learner.
You will receive the learner's per-round scores and the words they struggled with.
Respond with a single JSON object:
{"feedback": "<two or three sentences>", "common_mistakes": ["..."], "strengths": ["..."], "improvements": ["..."], "encouragement": "<one warm sentence>"}
Be specific, kind, and brief. Do not include any text outside the JSON object.`

// Aggregator finalises completed sessions: aggregate score, narrative
// summary, and the practice-history ledger row.
type Aggregator struct {
	sessions store.SessionStore
	rounds   store.RoundStore
	history  store.HistoryStore
	client   textgen.Client
	metrics  *observe.Metrics

	// onComplete, if set, is called with the learner id after a successful
	// finalisation, letting the prompt generator drop its cached stats.
	onComplete func(learnerID string)
}

// AggregatorOption is a functional option for Aggregator.
type AggregatorOption func(*Aggregator)

// WithCompletionHook registers a callback invoked after each finalisation.
func WithCompletionHook(fn func(learnerID string)) AggregatorOption {
	return func(a *Aggregator) {
		a.onComplete = fn
	}
}

// WithAggregatorMetrics overrides the metrics instance, letting tests observe
// recorded values.
func WithAggregatorMetrics(m *observe.Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates an Aggregator. A nil client always uses the
// deterministic narrative.
func NewAggregator(sessions store.SessionStore, rounds store.RoundStore, history store.HistoryStore, client textgen.Client, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		sessions: sessions,
		rounds:   rounds,
		history:  history,
		client:   client,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Summarize finalises a session: total = sum of round scores, average =
// round(total / 10) — the divisor is always the round target, not the count
// actually present. Already-completed sessions are returned unchanged, which
// makes re-delivered summary requests harmless.
func (a *Aggregator) Summarize(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.StatusCompleted {
		return sess, nil
	}

	rounds, err := a.rounds.ListRounds(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list rounds for summary: %w", err)
	}

	total := 0
	for _, r := range rounds {
		total += r.Score
	}
	average := int(math.Round(float64(total) / float64(model.RoundsPerSession)))

	summary := a.narrative(ctx, sess, rounds, total, average)

	if err := a.sessions.CompleteSession(ctx, sessionID, total, average, summary); err != nil {
		return nil, fmt.Errorf("session: complete: %w", err)
	}
	a.metrics.RecordSessionCompleted(ctx)

	if err := a.history.UpsertHistory(ctx, &model.PracticeHistory{
		ID:           uuid.NewString(),
		LearnerID:    sess.LearnerID,
		SessionID:    sess.ID,
		Level:        sess.Level,
		Mode:         sess.Mode,
		Rounds:       len(rounds),
		TotalScore:   total,
		AverageScore: average,
		PracticedAt:  time.Now(),
	}); err != nil {
		// The session itself is finalised; a missing ledger row only skews
		// future difficulty selection.
		slog.Error("writing practice history failed", "session_id", sess.ID, "error", err)
	}

	if a.onComplete != nil {
		a.onComplete(sess.LearnerID)
	}

	slog.Info("session completed",
		"session_id", sess.ID, "learner_id", sess.LearnerID,
		"rounds", len(rounds), "total", total, "average", average)

	return a.sessions.GetSession(ctx, sessionID)
}

// narrative produces the structured summary, falling back to a deterministic
// one when the generation service is unavailable.
func (a *Aggregator) narrative(ctx context.Context, sess *model.Session, rounds []model.Round, total, average int) model.Summary {
	chain := resilience.NewChain(
		resilience.Strategy[model.Summary]{
			Name: "narrative",
			Run: func(ctx context.Context) (model.Summary, resilience.Outcome, error) {
				return a.generateNarrative(ctx, rounds, average)
			},
		},
		resilience.Strategy[model.Summary]{
			Name: "deterministic",
			Run: func(ctx context.Context) (model.Summary, resilience.Outcome, error) {
				return deterministicSummary(rounds, average), resilience.Success, nil
			},
		},
	)

	summary, winner, err := chain.Execute(ctx)
	if err != nil {
		return deterministicSummary(rounds, average)
	}
	if winner != "narrative" {
		slog.Info("summary narrative generated deterministically", "session_id", sess.ID)
	}
	return summary
}

// generateNarrative is the AI tier of the summary chain.
func (a *Aggregator) generateNarrative(ctx context.Context, rounds []model.Round, average int) (model.Summary, resilience.Outcome, error) {
	if a.client == nil {
		return model.Summary{}, resilience.RetryableFailure, fmt.Errorf("session: no text-generation client configured")
	}

	ctx, cancel := context.WithTimeout(ctx, narrativeTimeout)
	defer cancel()

	resp, err := textgen.CompleteWithQuotaRetry(ctx, a.client, textgen.Request{
		System:      summarySystemPrompt,
		Messages:    []textgen.Message{{Role: "user", Content: describeRounds(rounds, average)}},
		Temperature: 0.5,
		MaxTokens:   400,
	})
	if err != nil {
		return model.Summary{}, resilience.RetryableFailure, err
	}

	summary, err := parseSummary(resp.Content)
	if err != nil {
		return model.Summary{}, resilience.RetryableFailure, err
	}
	return *summary, resilience.Success, nil
}

// describeRounds builds the user turn for the narrative pass.
func describeRounds(rounds []model.Round, average int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Average score: %d/100 over %d rounds.\n", average, len(rounds))
	for _, r := range rounds {
		fmt.Fprintf(&b, "Round %d: score %d, prompt %q", r.RoundNumber, r.Score, r.Prompt)
		if r.Analysis != nil && len(r.Analysis.MissingWords) > 0 {
			fmt.Fprintf(&b, ", missed words: %s", strings.Join(r.Analysis.MissingWords, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseSummary extracts the JSON summary from provider output that may be
// wrapped in prose or code fences.
func parseSummary(content string) (*model.Summary, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("session: no JSON object in narrative output")
	}

	var summary model.Summary
	if err := json.Unmarshal([]byte(content[start:end+1]), &summary); err != nil {
		return nil, fmt.Errorf("session: parse narrative: %w", err)
	}
	if summary.Feedback == "" {
		return nil, fmt.Errorf("session: narrative has empty feedback")
	}
	return &summary, nil
}

// deterministicSummary builds the fallback narrative from the scores alone.
func deterministicSummary(rounds []model.Round, average int) model.Summary {
	mistakes := collectCommonMistakes(rounds)

	var feedback string
	switch {
	case average >= 85:
		feedback = fmt.Sprintf("Excellent session — you averaged %d out of 100 across %d rounds.", average, len(rounds))
	case average >= 60:
		feedback = fmt.Sprintf("Solid session — you averaged %d out of 100 across %d rounds.", average, len(rounds))
	default:
		feedback = fmt.Sprintf("You averaged %d out of 100 across %d rounds. Regular practice will bring this up.", average, len(rounds))
	}

	s := model.Summary{
		Feedback:       feedback,
		CommonMistakes: mistakes,
		Encouragement:  "Keep going — every round of practice makes the next one easier.",
	}
	if len(mistakes) > 0 {
		s.Improvements = []string{"Practice the words you missed most often: " + strings.Join(mistakes, ", ")}
	}
	return s
}

// collectCommonMistakes returns the words missed more than once across the
// session, in first-seen order, capped at five.
func collectCommonMistakes(rounds []model.Round) []string {
	counts := make(map[string]int)
	var order []string
	for _, r := range rounds {
		if r.Analysis == nil {
			continue
		}
		for _, w := range r.Analysis.MissingWords {
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}

	var out []string
	for _, w := range order {
		if counts[w] > 1 {
			out = append(out, w)
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
