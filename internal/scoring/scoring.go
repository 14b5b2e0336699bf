// Package scoring turns a transcript and the expected prompt into a scored,
// explained result.
//
// The numeric score is anchored in deterministic word matching: the
// transcript is aligned against the expected prompt token by token and the
// accuracy ratio sets both the baseline and the ceiling. A qualitative AI
// pass contributes feedback and may pull the score down toward 70% of the
// baseline, but can never raise it above the ratio-derived ceiling. When the
// AI pass fails entirely the engine falls back to a deterministic message,
// so scoring itself never fails.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/parlano/parlano/internal/model"
	"github.com/parlano/parlano/pkg/provider/textgen"
)

const (
	// defaultAITimeout bounds the qualitative scoring pass.
	defaultAITimeout = 20 * time.Second

	// minContainedLen is the minimum transcript-token length, in runes, for
	// the "expected contains transcript token" direction of the match rule.
	// Shorter fragments match too much by accident.
	minContainedLen = 3

	// nearMissThreshold is the Jaro-Winkler similarity above which a missed
	// expected word is reported as a near miss.
	nearMissThreshold = 0.84

	// floorFactor is how far below the ratio-derived baseline the AI score
	// may pull the final score.
	floorFactor = 0.7
)

// evalSystemPrompt instructs the model for the qualitative pass. The JSON
// shape matches aiEvaluation below.
const evalSystemPrompt = `You are an English speaking coach evaluating a learner's spoken attempt at a practice sentence.
Compare what the learner said with what they were asked to say. Respond with a single JSON object:
{"score": <0-10>, "feedback": "<one or two encouraging sentences>", "strengths": ["..."], "improvements": ["..."]}
Keep feedback short, specific, and kind. Do not include any text outside the JSON object.`

// Result is the outcome of scoring one round.
type Result struct {
	// Score is the final blended score in [0, 100].
	Score int

	// Feedback is a short human-readable assessment.
	Feedback string

	// MissingWords lists expected words with no matching transcript token.
	MissingWords []string

	// NearMisses lists missed words the learner almost said.
	NearMisses []model.NearMiss

	// Words is the per-word breakdown of the expected prompt.
	Words []model.WordMatch

	// Strengths and Improvements come from the AI pass; empty on the
	// deterministic path.
	Strengths    []string
	Improvements []string

	// AIAssisted reports whether the qualitative pass contributed. When
	// false, Feedback was built deterministically.
	AIAssisted bool
}

// Engine scores transcripts against expected prompts.
type Engine struct {
	client  textgen.Client
	timeout time.Duration
}

// Option is a functional option for Engine.
type Option func(*Engine)

// WithAITimeout overrides the qualitative-pass timeout.
func WithAITimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// NewEngine creates an Engine. A nil client disables the qualitative pass;
// every round then gets the deterministic feedback path.
func NewEngine(client textgen.Client, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		timeout: defaultAITimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Score evaluates transcriptText against expectedText. It never fails: when
// the qualitative pass is unavailable a deterministic result is produced
// instead. The returned score is always an integer in [0, 100].
func (e *Engine) Score(ctx context.Context, transcriptText, expectedText string) *Result {
	expected := tokenize(expectedText)
	heard := tokenize(transcriptText)

	if len(heard) == 0 {
		return &Result{
			Score:        0,
			Feedback:     "No speech detected. Make sure your microphone is working and try again.",
			MissingWords: expected,
			Words:        allUnmatched(expected),
		}
	}

	matched, missing, words := alignTokens(expected, heard)
	res := &Result{
		MissingWords: missing,
		NearMisses:   nearMisses(missing, heard),
		Words:        words,
	}

	if matched == 0 {
		res.Score = 0
		res.Feedback = "None of the expected words were recognised. Listen to the prompt again and give it another try."
		return res
	}

	base := float64(matched) / float64(len(expected)) * 100

	eval := e.evaluate(ctx, transcriptText, expectedText)
	if eval == nil {
		res.Score = clampScore(base)
		res.Feedback = deterministicFeedback(matched, len(expected), missing)
		return res
	}

	res.AIAssisted = true
	res.Feedback = eval.Feedback
	res.Strengths = eval.Strengths
	res.Improvements = eval.Improvements

	if eval.Score != nil {
		// The AI score may only pull the result down toward 70% of the
		// ratio-derived baseline, never above the ratio-derived ceiling.
		ai := *eval.Score * 10
		res.Score = clampScore(math.Min(math.Max(ai, base*floorFactor), base))
	} else {
		res.Score = clampScore(base)
	}
	if res.Feedback == "" {
		res.Feedback = deterministicFeedback(matched, len(expected), missing)
	}
	return res
}

// aiEvaluation is the JSON shape expected back from the qualitative pass.
type aiEvaluation struct {
	Score        *float64 `json:"score"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// evaluate runs the qualitative AI pass. Returns nil when the pass is
// disabled or fails; the caller then uses the deterministic path.
func (e *Engine) evaluate(ctx context.Context, transcriptText, expectedText string) *aiEvaluation {
	if e.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	user := fmt.Sprintf("Expected sentence: %q\nLearner said: %q", expectedText, transcriptText)
	resp, err := textgen.CompleteWithQuotaRetry(ctx, e.client, textgen.Request{
		System:      evalSystemPrompt,
		Messages:    []textgen.Message{{Role: "user", Content: user}},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		slog.Warn("qualitative scoring pass failed, using deterministic feedback", "error", err)
		return nil
	}

	eval, err := parseEvaluation(resp.Content)
	if err != nil {
		slog.Warn("qualitative scoring pass returned unusable output", "error", err)
		return nil
	}
	if eval.Score != nil && (*eval.Score < 0 || *eval.Score > 10) {
		eval.Score = nil
	}
	return eval
}

// parseEvaluation extracts the JSON object from provider output that may be
// wrapped in prose or code fences.
func parseEvaluation(content string) (*aiEvaluation, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("scoring: no JSON object in evaluation output")
	}

	var eval aiEvaluation
	if err := json.Unmarshal([]byte(content[start:end+1]), &eval); err != nil {
		return nil, fmt.Errorf("scoring: parse evaluation: %w", err)
	}
	return &eval, nil
}

// tokenize splits s on whitespace, strips trailing punctuation per token,
// and lower-cases.
func tokenize(s string) []string {
	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.ToLower(strings.TrimRight(f, ".,!?;:'\"”’)"))
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// tokensMatch reports whether transcript token heard counts as a match for
// expected token want: exact equality after cleanup, the heard token
// containing the expected one, or the expected token containing a heard
// token of at least minContainedLen runes (tolerating truncated or extended
// speech).
func tokensMatch(want, heard string) bool {
	if want == heard {
		return true
	}
	if len(heard) >= len(want) && strings.Contains(heard, want) {
		return true
	}
	if utf8.RuneCountInString(heard) >= minContainedLen && strings.Contains(want, heard) {
		return true
	}
	return false
}

// alignTokens matches each expected token against the transcript tokens,
// returning the matched count, the missing words, and the per-word
// breakdown.
func alignTokens(expected, heard []string) (matched int, missing []string, words []model.WordMatch) {
	words = make([]model.WordMatch, 0, len(expected))
	for _, want := range expected {
		hit := false
		for _, h := range heard {
			if tokensMatch(want, h) {
				hit = true
				break
			}
		}
		if hit {
			matched++
		} else {
			missing = append(missing, want)
		}
		words = append(words, model.WordMatch{Word: want, Matched: hit})
	}
	return matched, missing, words
}

// nearMisses pairs each missing word with the closest-sounding transcript
// token above the similarity threshold. Hints only; the numeric score is
// unaffected.
func nearMisses(missing, heard []string) []model.NearMiss {
	var out []model.NearMiss
	for _, want := range missing {
		best := ""
		bestScore := 0.0
		for _, h := range heard {
			if s := matchr.JaroWinkler(want, h, false); s > bestScore {
				best, bestScore = h, s
			}
		}
		if bestScore >= nearMissThreshold {
			out = append(out, model.NearMiss{
				Expected:   want,
				Heard:      best,
				Similarity: bestScore,
			})
		}
	}
	return out
}

// allUnmatched builds the per-word breakdown for an empty transcript.
func allUnmatched(expected []string) []model.WordMatch {
	words := make([]model.WordMatch, 0, len(expected))
	for _, w := range expected {
		words = append(words, model.WordMatch{Word: w, Matched: false})
	}
	return words
}

// deterministicFeedback builds the fallback message used when the
// qualitative pass is unavailable.
func deterministicFeedback(matched, total int, missing []string) string {
	msg := fmt.Sprintf("You said %d of %d words correctly.", matched, total)
	if len(missing) > 0 {
		msg += " Practice these words: " + strings.Join(missing, ", ") + "."
	} else {
		msg += " Great job — every word was recognised!"
	}
	return msg
}

// clampScore rounds v to the nearest integer and clamps it into [0, 100].
func clampScore(v float64) int {
	s := int(math.Round(v))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
