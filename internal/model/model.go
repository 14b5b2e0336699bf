// Package model holds the core data types of the practice engine — sessions,
// rounds, evaluations, and the practice-history ledger — together with the
// typed error taxonomy shared by all components.
package model

import (
	"time"

	"github.com/parlano/parlano/pkg/provider/transcribe"
)

// RoundsPerSession is the fixed number of rounds in a practice session. The
// session average always divides by this target, not by the number of rounds
// actually present.
const RoundsPerSession = 10

// SessionStatus is the lifecycle state of a practice session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// SessionMode selects the kind of prompts a session generates.
type SessionMode string

const (
	// ModePractice generates standalone sentences at the resolved difficulty.
	ModePractice SessionMode = "practice"

	// ModeStory generates sentences that continue a short narrative across
	// the session's rounds.
	ModeStory SessionMode = "story"
)

// IsValid reports whether m is a recognised session mode.
func (m SessionMode) IsValid() bool {
	return m == ModePractice || m == ModeStory
}

// Session is an ordered sequence of rounds ending in an aggregate summary.
// A learner has at most one session with status "active" at any time.
type Session struct {
	ID        string
	LearnerID string

	// Level is the learner-chosen difficulty level of the session (1–5).
	Level int

	Mode   SessionMode
	Status SessionStatus

	// TotalScore and AverageScore are written exactly once, when the
	// summary aggregator finalises the session.
	TotalScore   int
	AverageScore int

	// Summary is nil until the session is completed.
	Summary *Summary

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Summary is the structured narrative produced when a session completes.
type Summary struct {
	Feedback       string   `json:"feedback"`
	CommonMistakes []string `json:"common_mistakes"`
	Strengths      []string `json:"strengths"`
	Improvements   []string `json:"improvements"`
	Encouragement  string   `json:"encouragement"`
}

// Round is one timed speaking attempt at a generated prompt within a session.
//
// A round is created with Score 0 and nil Transcript/Analysis, and mutated
// exactly once by the background analysis job (success or degraded-failure
// path). It is never deleted and never returns to the pending state after
// completion.
type Round struct {
	ID        string
	SessionID string

	// RoundNumber is unique and sequential within the session (1..N).
	RoundNumber int

	// Prompt is the sentence the learner was asked to speak.
	Prompt string

	// Topic is the generated prompt's topic, used to bias later prompts in
	// the same session away from repetition. May be empty.
	Topic string

	// AudioRef locates the recorded utterance.
	AudioRef string

	// Transcript is nil until the round has been processed.
	Transcript *transcribe.Transcript

	TimeTaken time.Duration

	// Score is always in [0, 100].
	Score int

	// Analysis is nil while the round is pending and non-nil once the round
	// leaves the pending state, even when processing failed (a degraded
	// analysis is substituted).
	Analysis *Analysis

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the round is still awaiting analysis.
func (r *Round) Pending() bool { return r.Analysis == nil }

// Analysis is the per-round feedback produced by the scoring engine, or a
// degraded substitute when the pipeline failed upstream.
type Analysis struct {
	// Feedback is a short human-readable assessment of the attempt.
	Feedback string `json:"feedback"`

	// MissingWords lists expected words with no matching transcript token.
	MissingWords []string `json:"missing_words"`

	// NearMisses lists expected words the learner almost said. Hints only;
	// they never affect the numeric score.
	NearMisses []NearMiss `json:"near_misses,omitempty"`

	// Words is the per-word breakdown of the expected prompt.
	Words []WordMatch `json:"words,omitempty"`

	// Strengths and Improvements come from the qualitative AI pass and are
	// empty on the deterministic fallback path.
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`

	// Failed marks a degraded round: the automated pipeline failed upstream
	// but the round still received a terminal score and explanation.
	Failed bool `json:"failed,omitempty"`

	// FailureReason explains a degraded round (e.g., "audio analysis
	// failed"). Empty when Failed is false.
	FailureReason string `json:"failure_reason,omitempty"`
}

// WordMatch is one entry of the per-word breakdown.
type WordMatch struct {
	Word    string `json:"word"`
	Matched bool   `json:"matched"`
}

// NearMiss pairs an expected word with the transcript token that almost
// matched it.
type NearMiss struct {
	Expected   string  `json:"expected"`
	Heard      string  `json:"heard"`
	Similarity float64 `json:"similarity"`
}

// QuickEvaluation is the write-once audit record of what the AI scoring pass
// produced for a round, independent of the round's own analysis. Used for
// analytics and future personalisation; never updated.
type QuickEvaluation struct {
	ID        string
	RoundID   string
	SessionID string
	LearnerID string
	Score     int
	Feedback  string

	Strengths    []string
	Improvements []string

	CreatedAt time.Time
}

// PracticeHistory is one ledger row per completed session, used for trend
// tracking. Writing it is idempotent: a second write for the same session
// updates the existing row in place.
type PracticeHistory struct {
	ID        string
	LearnerID string
	SessionID string

	Level        int
	Mode         SessionMode
	Rounds       int
	TotalScore   int
	AverageScore int

	PracticedAt time.Time
}
