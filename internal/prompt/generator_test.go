package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/parlano/parlano/internal/difficulty"
	"github.com/parlano/parlano/internal/model"
	storemock "github.com/parlano/parlano/internal/store/mock"
	"github.com/parlano/parlano/pkg/provider/textgen"
	textgenmock "github.com/parlano/parlano/pkg/provider/textgen/mock"
)

func newTestGenerator(client textgen.Client, st *storemock.Store) *Generator {
	return NewGenerator(client, st, st)
}

func TestGetPrompt_StructuredTier(t *testing.T) {
	t.Parallel()

	client := &textgenmock.Client{
		Response: &textgen.Response{Content: `{"topic": "travel", "suggested_prompt": "I want to visit Japan next spring."}`},
	}
	g := newTestGenerator(client, storemock.New())

	p := g.GetPrompt(context.Background(), Request{
		LearnerID: "l1", SessionID: "s1", Level: 2, RoundNumber: 1, Mode: model.ModePractice,
	})

	if p.Text != "I want to visit Japan next spring." {
		t.Errorf("Text = %q", p.Text)
	}
	if p.Topic != "travel" {
		t.Errorf("Topic = %q, want travel", p.Topic)
	}
	if p.Tier != difficulty.TierEasy {
		t.Errorf("Tier = %s, want easy for round 1 with no history", p.Tier)
	}
}

func TestGetPrompt_FallsBackToPlainText(t *testing.T) {
	t.Parallel()

	client := &textgenmock.Client{}
	client.Queue(nil, &textgen.Error{Message: "backend down"})
	client.Queue(&textgen.Response{Content: `"The sun sets behind the hills every evening."`}, nil)

	g := newTestGenerator(client, storemock.New())
	p := g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 1})

	if p.Text != "The sun sets behind the hills every evening." {
		t.Errorf("Text = %q, want plain-text tier result without quotes", p.Text)
	}
	if p.Topic != "" {
		t.Errorf("Topic = %q, want empty on plain-text tier", p.Topic)
	}
}

func TestGetPrompt_FallsBackToCanned(t *testing.T) {
	t.Parallel()

	client := &textgenmock.Client{Err: &textgen.Error{Message: "backend down"}}
	g := newTestGenerator(client, storemock.New())

	p := g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 2})

	if p.Text == "" {
		t.Fatal("canned tier returned empty prompt")
	}
	if p.Tier != difficulty.TierEasy {
		t.Errorf("Tier = %s, want easy", p.Tier)
	}
	if want := cannedPrompt(difficulty.TierEasy, 2).Text; p.Text != want {
		t.Errorf("Text = %q, want canned %q", p.Text, want)
	}
}

func TestGetPrompt_NilClientUsesCanned(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(nil, storemock.New())
	p := g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 9})

	if p.Tier != difficulty.TierHard {
		t.Errorf("Tier = %s, want hard for round 9 with no history", p.Tier)
	}
	if p.Text == "" {
		t.Error("canned prompt is empty")
	}
}

func TestGetPrompt_DuplicateReRequestedOnce(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	used := "I like to drink tea in the evening."
	if err := st.CreateRound(context.Background(), &model.Round{
		ID: "r1", SessionID: "s1", RoundNumber: 1, Prompt: used, AudioRef: "a.wav",
	}); err != nil {
		t.Fatalf("CreateRound() error: %v", err)
	}

	client := &textgenmock.Client{}
	client.Queue(&textgen.Response{Content: `{"topic": "drinks", "suggested_prompt": "` + used + `"}`}, nil)
	client.Queue(&textgen.Response{Content: `{"topic": "sport", "suggested_prompt": "We play football in the park on Sundays."}`}, nil)

	g := newTestGenerator(client, st)
	p := g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 2})

	if p.Text != "We play football in the park on Sundays." {
		t.Errorf("Text = %q, want the re-requested prompt", p.Text)
	}
	if client.CallCount() != 2 {
		t.Errorf("Complete called %d times, want 2", client.CallCount())
	}
}

func TestGetPrompt_SecondDuplicateAccepted(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	used := "The weather is very nice today."
	_ = st.CreateRound(context.Background(), &model.Round{
		ID: "r1", SessionID: "s1", RoundNumber: 1, Prompt: used, AudioRef: "a.wav",
	})

	dup := &textgen.Response{Content: `{"topic": "weather", "suggested_prompt": "` + used + `"}`}
	client := &textgenmock.Client{}
	client.Queue(dup, nil)
	client.Queue(dup, nil)

	g := newTestGenerator(client, st)
	p := g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 2})

	if p.Text != used {
		t.Errorf("Text = %q, want the duplicate accepted after one re-request", p.Text)
	}
	if client.CallCount() != 2 {
		t.Errorf("Complete called %d times, want 2", client.CallCount())
	}
}

func TestGetPrompt_HistoryDrivesDifficulty(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	_ = st.UpsertHistory(context.Background(), &model.PracticeHistory{
		ID: "h1", LearnerID: "l1", SessionID: "old", AverageScore: 95,
		PracticedAt: time.Now(),
	})

	// A draw of 0.99 lands in the hard bucket for the >= 85 weights.
	g := NewGenerator(nil, st, st, WithSelector(difficulty.NewSelector(func() float64 { return 0.99 })))
	p := g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 1})

	if p.Tier != difficulty.TierHard {
		t.Errorf("Tier = %s, want hard for draw 0.99 with average 95", p.Tier)
	}
}

func TestGetPrompt_UsedTopicsBiasRequest(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	_ = st.CreateRound(context.Background(), &model.Round{
		ID: "r1", SessionID: "s1", RoundNumber: 1, Prompt: "old prompt", Topic: "food", AudioRef: "a.wav",
	})

	client := &textgenmock.Client{
		Response: &textgen.Response{Content: `{"topic": "sport", "suggested_prompt": "He runs five kilometers every morning before work."}`},
	}
	g := newTestGenerator(client, st)
	_ = g.GetPrompt(context.Background(), Request{LearnerID: "l1", SessionID: "s1", RoundNumber: 2})

	if client.CallCount() != 1 {
		t.Fatalf("Complete called %d times, want 1", client.CallCount())
	}
	user := client.Calls[0].Req.Messages[0].Content
	if !strings.Contains(user, "food") {
		t.Errorf("user turn %q does not mention the used topic", user)
	}
}

func TestCannedPrompt_CyclesByRound(t *testing.T) {
	t.Parallel()

	a := cannedPrompt(difficulty.TierMedium, 1)
	b := cannedPrompt(difficulty.TierMedium, 2)
	if a.Text == b.Text {
		t.Error("consecutive canned prompts are identical")
	}
	if got := cannedPrompt(difficulty.TierMedium, 1+len(cannedPrompts[difficulty.TierMedium])); got.Text != a.Text {
		t.Error("canned prompts do not cycle")
	}
}

func TestParseStructured_RejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	if _, err := parseStructured(`{"topic": "x", "suggested_prompt": "  "}`); err == nil {
		t.Error("parseStructured accepted an empty suggested_prompt")
	}
}
