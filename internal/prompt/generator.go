// Package prompt generates the practice sentence for each round.
//
// Generation is a three-tier fallback chain: a structured call asking the
// text-generation service for JSON, a plain-text retry, and finally a
// deterministic canned sentence. The chain bottoms out locally, so GetPrompt
// never fails. Difficulty comes from the learner's rolling average score
// (read through a short-lived cache) and the round number.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/parlano/parlano/internal/cache"
	"github.com/parlano/parlano/internal/difficulty"
	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/internal/resilience"
	"github.com/parlano/parlano/internal/store"
	"github.com/parlano/parlano/pkg/provider/textgen"
)

const (
	// generationTimeout bounds each text-generation call.
	generationTimeout = 30 * time.Second

	// statsTTL is how long cached learner stats stay fresh.
	statsTTL = 5 * time.Minute

	// historyWindow is how many recent sessions feed the rolling average.
	historyWindow = 5
)

// tierParams tunes generation per difficulty tier: harder tiers get longer
// sentences and a higher temperature.
var tierParams = map[difficulty.Tier]struct {
	minWords    int
	maxWords    int
	temperature float64
}{
	difficulty.TierEasy:   {minWords: 6, maxWords: 10, temperature: 0.4},
	difficulty.TierMedium: {minWords: 10, maxWords: 16, temperature: 0.7},
	difficulty.TierHard:   {minWords: 16, maxWords: 24, temperature: 0.9},
}

// Prompt is one generated practice sentence.
type Prompt struct {
	// Text is the sentence the learner should speak.
	Text string

	// Topic labels the sentence, used to bias later prompts in the session
	// away from repetition. Empty when the provider did not supply one.
	Topic string

	// Tier is the difficulty tier the sentence was generated for.
	Tier difficulty.Tier
}

// Request identifies the round a prompt is needed for.
type Request struct {
	LearnerID   string
	SessionID   string
	Level       int
	RoundNumber int
	Mode        model.SessionMode
}

// learnerStats is the cached view of a learner's practice history.
type learnerStats struct {
	average float64
	count   int
}

// Generator produces prompts. Safe for concurrent use.
type Generator struct {
	client   textgen.Client
	rounds   store.RoundStore
	selector *difficulty.Selector
	stats    *cache.Keyed[learnerStats]
}

// Option is a functional option for Generator.
type Option func(*Generator)

// WithSelector overrides the difficulty selector, letting tests inject a
// deterministic random source.
func WithSelector(s *difficulty.Selector) Option {
	return func(g *Generator) {
		g.selector = s
	}
}

// NewGenerator creates a Generator. A nil client skips straight to the canned
// tier.
func NewGenerator(client textgen.Client, rounds store.RoundStore, history store.HistoryStore, opts ...Option) *Generator {
	g := &Generator{
		client:   client,
		rounds:   rounds,
		selector: difficulty.NewSelector(nil),
	}
	g.stats = cache.NewKeyed(statsTTL, func(ctx context.Context, learnerID string) (learnerStats, error) {
		avg, count, err := history.RecentAverage(ctx, learnerID, historyWindow)
		if err != nil {
			return learnerStats{}, err
		}
		return learnerStats{average: avg, count: count}, nil
	})
	for _, o := range opts {
		o(g)
	}
	return g
}

// GetPrompt returns the next practice sentence for the round. It never fails:
// when every generation tier is unavailable a deterministic canned sentence
// is returned.
func (g *Generator) GetPrompt(ctx context.Context, req Request) Prompt {
	tier := g.selector.Resolve(g.rollingAverage(ctx, req.LearnerID), req.RoundNumber)

	usedPrompts, usedTopics := g.usedInSession(ctx, req.SessionID)

	p := g.generate(ctx, req, tier, usedPrompts, usedTopics)
	if slices.Contains(usedPrompts, p.Text) {
		// One re-request, then the duplicate is accepted as is.
		slog.Debug("generated prompt already used in session, re-requesting",
			"session_id", req.SessionID, "round", req.RoundNumber)
		p = g.generate(ctx, req, tier, usedPrompts, usedTopics)
	}
	return p
}

// InvalidateStats drops the cached history view for a learner, typically
// after their session completes.
func (g *Generator) InvalidateStats(learnerID string) {
	g.stats.Invalidate(learnerID)
}

// rollingAverage returns the learner's cached average score, or nil when
// they have no history (or the store is unreachable).
func (g *Generator) rollingAverage(ctx context.Context, learnerID string) *float64 {
	stats, err := g.stats.Get(ctx, learnerID)
	if err != nil {
		slog.Warn("loading learner stats failed, treating learner as new", "learner_id", learnerID, "error", err)
		return nil
	}
	if stats.count == 0 {
		return nil
	}
	return &stats.average
}

// usedInSession collects prompts and topics already used in the session.
// Best-effort: a store failure just disables repetition avoidance.
func (g *Generator) usedInSession(ctx context.Context, sessionID string) (prompts, topics []string) {
	prompts, topics, err := g.rounds.UsedPrompts(ctx, sessionID)
	if err != nil {
		slog.Warn("loading used prompts failed", "session_id", sessionID, "error", err)
		return nil, nil
	}
	return prompts, topics
}

// generate runs the three-tier fallback chain once.
func (g *Generator) generate(ctx context.Context, req Request, tier difficulty.Tier, usedPrompts, usedTopics []string) Prompt {
	chain := resilience.NewChain(
		resilience.Strategy[Prompt]{
			Name: "structured",
			Run: func(ctx context.Context) (Prompt, resilience.Outcome, error) {
				return g.structuredCall(ctx, req, tier, usedTopics)
			},
		},
		resilience.Strategy[Prompt]{
			Name: "plain-text",
			Run: func(ctx context.Context) (Prompt, resilience.Outcome, error) {
				return g.plainTextCall(ctx, req, tier)
			},
		},
		resilience.Strategy[Prompt]{
			Name: "canned",
			Run: func(ctx context.Context) (Prompt, resilience.Outcome, error) {
				return cannedPrompt(tier, req.RoundNumber), resilience.Success, nil
			},
		},
	)

	p, winner, err := chain.Execute(ctx)
	if err != nil {
		// Only reachable via context cancellation; still hand back a
		// deterministic sentence rather than failing the round.
		slog.Warn("prompt chain exhausted, using canned sentence", "error", err)
		return cannedPrompt(tier, req.RoundNumber)
	}
	if winner != "structured" {
		slog.Info("prompt generated by fallback tier", "tier", winner, "difficulty", tier)
	}
	return p
}

// structuredResponse is the JSON shape requested from the primary tier.
type structuredResponse struct {
	Topic           string `json:"topic"`
	SuggestedPrompt string `json:"suggested_prompt"`
}

// structuredCall is the primary tier: a JSON-shaped generation request.
func (g *Generator) structuredCall(ctx context.Context, req Request, tier difficulty.Tier, usedTopics []string) (Prompt, resilience.Outcome, error) {
	if g.client == nil {
		return Prompt{}, resilience.RetryableFailure, fmt.Errorf("prompt: no text-generation client configured")
	}

	params := tierParams[tier]
	system := fmt.Sprintf(`You are generating one practice sentence for an English learner at level %d.
The sentence must be natural spoken English, %d to %d words long, %s difficulty.
Respond with a single JSON object: {"topic": "<short topic label>", "suggested_prompt": "<the sentence>"}.
Do not include any text outside the JSON object.`, req.Level, params.minWords, params.maxWords, tier)

	user := g.userTurn(req, usedTopics)

	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	resp, err := textgen.CompleteWithQuotaRetry(ctx, g.client, textgen.Request{
		System:      system,
		Messages:    []textgen.Message{{Role: "user", Content: user}},
		Temperature: params.temperature,
		MaxTokens:   200,
	})
	if err != nil {
		return Prompt{}, resilience.RetryableFailure, err
	}

	parsed, err := parseStructured(resp.Content)
	if err != nil {
		return Prompt{}, resilience.RetryableFailure, err
	}
	return Prompt{Text: parsed.SuggestedPrompt, Topic: parsed.Topic, Tier: tier}, resilience.Success, nil
}

// plainTextCall is the secondary tier: just a sentence, no structure.
func (g *Generator) plainTextCall(ctx context.Context, req Request, tier difficulty.Tier) (Prompt, resilience.Outcome, error) {
	if g.client == nil {
		return Prompt{}, resilience.RetryableFailure, fmt.Errorf("prompt: no text-generation client configured")
	}

	params := tierParams[tier]
	system := fmt.Sprintf(`Write exactly one natural English sentence for a learner to practice speaking aloud.
It must be %d to %d words long, %s difficulty. Respond with the sentence only.`,
		params.minWords, params.maxWords, tier)

	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	resp, err := textgen.CompleteWithQuotaRetry(ctx, g.client, textgen.Request{
		System:      system,
		Messages:    []textgen.Message{{Role: "user", Content: g.userTurn(req, nil)}},
		Temperature: params.temperature,
		MaxTokens:   120,
	})
	if err != nil {
		return Prompt{}, resilience.RetryableFailure, err
	}

	text := cleanSentence(resp.Content)
	if text == "" {
		return Prompt{}, resilience.RetryableFailure, fmt.Errorf("prompt: empty plain-text generation")
	}
	return Prompt{Text: text, Tier: tier}, resilience.Success, nil
}

// userTurn builds the user message, biasing away from topics already used
// and, in story mode, asking for narrative continuity.
func (g *Generator) userTurn(req Request, usedTopics []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of %d.", req.RoundNumber, model.RoundsPerSession)
	if req.Mode == model.ModeStory {
		b.WriteString(" This session tells one continuing story; the sentence should plausibly follow the previous rounds.")
	}
	if len(usedTopics) > 0 {
		fmt.Fprintf(&b, " Avoid these topics already used this session: %s.", strings.Join(usedTopics, ", "))
	}
	return b.String()
}

// parseStructured extracts the JSON object from primary-tier output that may
// be wrapped in prose or code fences.
func parseStructured(content string) (*structuredResponse, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("prompt: no JSON object in generation output")
	}

	var parsed structuredResponse
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("prompt: parse generation output: %w", err)
	}
	if strings.TrimSpace(parsed.SuggestedPrompt) == "" {
		return nil, fmt.Errorf("prompt: generation output has empty suggested_prompt")
	}
	parsed.SuggestedPrompt = cleanSentence(parsed.SuggestedPrompt)
	return &parsed, nil
}

// cleanSentence trims whitespace and surrounding quote characters.
func cleanSentence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'“”")
	return strings.TrimSpace(s)
}
