package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/parlano/parlano/internal/model"
	storemock "github.com/parlano/parlano/internal/store/mock"
	"github.com/parlano/parlano/pkg/provider/textgen"
	textgenmock "github.com/parlano/parlano/pkg/provider/textgen/mock"
)

// seedSession creates an active session with the given round scores.
func seedSession(t *testing.T, st *storemock.Store, learnerID string, scores []int) *model.Session {
	t.Helper()
	ctx := context.Background()

	sess := &model.Session{
		ID: "sess-" + learnerID, LearnerID: learnerID, Level: 2,
		Mode: model.ModePractice, Status: model.StatusActive,
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	for i, score := range scores {
		r := &model.Round{
			ID: fmt.Sprintf("%s-r%d", sess.ID, i+1), SessionID: sess.ID,
			RoundNumber: i + 1, Prompt: "p", AudioRef: "a.wav",
		}
		if err := st.CreateRound(ctx, r); err != nil {
			t.Fatalf("CreateRound() error: %v", err)
		}
		if err := st.FinishRound(ctx, r.ID, nil, score, model.Analysis{Feedback: "ok"}); err != nil {
			t.Fatalf("FinishRound() error: %v", err)
		}
	}
	return sess
}

func TestSummarize_AggregatesScores(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{80, 70, 90, 60, 75, 85, 95, 65, 70, 80})

	a := NewAggregator(st, st, st, nil)
	got, err := a.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	if got.TotalScore != 770 {
		t.Errorf("TotalScore = %d, want 770", got.TotalScore)
	}
	if got.AverageScore != 77 {
		t.Errorf("AverageScore = %d, want 77", got.AverageScore)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.Summary == nil || got.Summary.Feedback == "" {
		t.Error("Summary missing or empty after finalisation")
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil after finalisation")
	}
}

func TestSummarize_AverageDividesByFixedTarget(t *testing.T) {
	t.Parallel()

	// Only 4 rounds present; the average still divides by the 10-round
	// target.
	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{80, 80, 80, 80})

	a := NewAggregator(st, st, st, nil)
	got, err := a.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got.TotalScore != 320 {
		t.Errorf("TotalScore = %d, want 320", got.TotalScore)
	}
	if got.AverageScore != 32 {
		t.Errorf("AverageScore = %d, want 32 (320/10)", got.AverageScore)
	}
}

func TestSummarize_UsesNarrativeTier(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{90, 90, 90, 90, 90, 90, 90, 90, 90, 90})

	client := &textgenmock.Client{
		Response: &textgen.Response{Content: `{"feedback": "Great fluency throughout.", "common_mistakes": [], "strengths": ["rhythm"], "improvements": [], "encouragement": "Keep it up!"}`},
	}
	a := NewAggregator(st, st, st, client)
	got, err := a.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got.Summary.Feedback != "Great fluency throughout." {
		t.Errorf("Feedback = %q, want narrative-tier output", got.Summary.Feedback)
	}
	if len(got.Summary.Strengths) != 1 {
		t.Errorf("Strengths = %v, want one entry", got.Summary.Strengths)
	}
}

func TestSummarize_NarrativeFailureFallsBack(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{50, 50, 50, 50, 50, 50, 50, 50, 50, 50})

	client := &textgenmock.Client{Err: &textgen.Error{Message: "backend down"}}
	a := NewAggregator(st, st, st, client)
	got, err := a.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got.Summary == nil || got.Summary.Feedback == "" {
		t.Error("deterministic fallback produced no feedback")
	}
	if got.Summary.Encouragement == "" {
		t.Error("deterministic fallback produced no encouragement")
	}
}

func TestSummarize_WritesHistoryLedger(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{70, 70, 70, 70, 70, 70, 70, 70, 70, 70})

	a := NewAggregator(st, st, st, nil)
	if _, err := a.Summarize(context.Background(), sess.ID); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	h := st.History(sess.ID)
	if h == nil {
		t.Fatal("no practice-history row written")
	}
	if h.AverageScore != 70 || h.TotalScore != 700 || h.Rounds != 10 {
		t.Errorf("history = %+v, want avg 70 total 700 rounds 10", h)
	}
	if h.LearnerID != "l1" {
		t.Errorf("LearnerID = %s, want l1", h.LearnerID)
	}
}

func TestSummarize_IdempotentOnCompletedSession(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{60, 60, 60, 60, 60, 60, 60, 60, 60, 60})

	a := NewAggregator(st, st, st, nil)
	first, err := a.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("first Summarize() error: %v", err)
	}
	second, err := a.Summarize(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("second Summarize() error: %v", err)
	}
	if second.TotalScore != first.TotalScore || second.AverageScore != first.AverageScore {
		t.Errorf("second Summarize changed aggregates: %+v vs %+v", second, first)
	}
}

func TestSummarize_CompletionHookFires(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	sess := seedSession(t, st, "l1", []int{80, 80, 80, 80, 80, 80, 80, 80, 80, 80})

	var hooked string
	a := NewAggregator(st, st, st, nil, WithCompletionHook(func(learnerID string) {
		hooked = learnerID
	}))
	if _, err := a.Summarize(context.Background(), sess.ID); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if hooked != "l1" {
		t.Errorf("completion hook got %q, want l1", hooked)
	}
}

func TestDeterministicSummary_CollectsRepeatedMistakes(t *testing.T) {
	t.Parallel()

	rounds := []model.Round{
		{Analysis: &model.Analysis{MissingWords: []string{"through", "thought"}}},
		{Analysis: &model.Analysis{MissingWords: []string{"through"}}},
		{Analysis: nil},
	}
	s := deterministicSummary(rounds, 55)
	if len(s.CommonMistakes) != 1 || s.CommonMistakes[0] != "through" {
		t.Errorf("CommonMistakes = %v, want [through]", s.CommonMistakes)
	}
}
