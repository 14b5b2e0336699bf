// Package difficulty assigns a difficulty tier to each practice round based
// on the learner's rolling average score and the round number.
//
// Tier selection is a weighted draw: a single uniform sample is compared
// against cumulative weight boundaries. The random source is injectable so
// tests can assert exact tier selection for known draws.
package difficulty

import "math/rand/v2"

// Tier is the easy/medium/hard category controlling prompt length,
// vocabulary complexity, and generation temperature.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	return t == TierEasy || t == TierMedium || t == TierHard
}

// Weights holds the selection probability of each tier. The three fields
// must sum to 1.
type Weights struct {
	Easy   float64
	Medium float64
	Hard   float64
}

// weightsFor returns the configured tier weights for a rolling average
// score. Weaker learners are pushed toward consolidation, stronger learners
// toward stretch, with some variety at every level.
func weightsFor(averageScore float64) Weights {
	switch {
	case averageScore < 50:
		return Weights{Easy: 0.70, Medium: 0.25, Hard: 0.05}
	case averageScore < 70:
		return Weights{Easy: 0.40, Medium: 0.45, Hard: 0.15}
	case averageScore < 85:
		return Weights{Easy: 0.20, Medium: 0.50, Hard: 0.30}
	default:
		return Weights{Easy: 0.10, Medium: 0.40, Hard: 0.50}
	}
}

// Selector resolves difficulty tiers. Safe for concurrent use as long as the
// injected random source is.
type Selector struct {
	random func() float64
}

// NewSelector creates a Selector drawing from random, a source of uniform
// samples in [0, 1). Passing nil uses the shared math/rand/v2 generator.
func NewSelector(random func() float64) *Selector {
	if random == nil {
		random = rand.Float64
	}
	return &Selector{random: random}
}

// Resolve picks a tier for the given round.
//
// When the learner has no score history (averageScore is nil) the tier is
// fixed by round position alone: rounds 1–3 are easy, 4–7 medium, and
// everything later hard — independent of the random draw. With history, a
// single uniform draw is compared against the cumulative weight boundaries
// of the average-score bucket.
func (s *Selector) Resolve(averageScore *float64, roundNumber int) Tier {
	if averageScore == nil {
		switch {
		case roundNumber <= 3:
			return TierEasy
		case roundNumber <= 7:
			return TierMedium
		default:
			return TierHard
		}
	}

	w := weightsFor(*averageScore)
	draw := s.random()
	switch {
	case draw < w.Easy:
		return TierEasy
	case draw < w.Easy+w.Medium:
		return TierMedium
	default:
		return TierHard
	}
}
