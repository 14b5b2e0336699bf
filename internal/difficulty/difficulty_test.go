package difficulty

import (
	"math/rand/v2"
	"testing"
)

// fixedDraw returns a random source that always yields v.
func fixedDraw(v float64) func() float64 {
	return func() float64 { return v }
}

func avg(v float64) *float64 { return &v }

func TestResolve_NoHistoryIsDeterministic(t *testing.T) {
	t.Parallel()

	// The draw must be irrelevant without score history: pick one that
	// would select "hard" in every weighted bucket.
	s := NewSelector(fixedDraw(0.999))

	tests := []struct {
		round int
		want  Tier
	}{
		{1, TierEasy},
		{2, TierEasy},
		{3, TierEasy},
		{4, TierMedium},
		{7, TierMedium},
		{8, TierHard},
		{10, TierHard},
	}
	for _, tt := range tests {
		if got := s.Resolve(nil, tt.round); got != tt.want {
			t.Errorf("Resolve(nil, %d) = %q, want %q", tt.round, got, tt.want)
		}
	}
}

func TestResolve_KnownDraws(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		average float64
		draw    float64
		want    Tier
	}{
		{"weak learner low draw", 40, 0.50, TierEasy},
		{"weak learner mid draw", 40, 0.80, TierMedium},
		{"weak learner high draw", 40, 0.96, TierHard},
		{"mid learner easy boundary", 60, 0.39, TierEasy},
		{"mid learner medium", 60, 0.40, TierMedium},
		{"good learner medium", 75, 0.50, TierMedium},
		{"good learner hard", 75, 0.71, TierHard},
		{"strong learner easy", 90, 0.05, TierEasy},
		{"strong learner hard boundary", 90, 0.50, TierHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSelector(fixedDraw(tt.draw))
			if got := s.Resolve(avg(tt.average), 5); got != tt.want {
				t.Errorf("Resolve(%v, draw=%v) = %q, want %q", tt.average, tt.draw, got, tt.want)
			}
		})
	}
}

func TestResolve_ConvergesToWeights(t *testing.T) {
	t.Parallel()

	// Over many trials at a fixed average bucket the sampled tiers should
	// converge to the configured weights within a loose tolerance.
	rng := rand.New(rand.NewPCG(7, 11))
	s := NewSelector(rng.Float64)

	const trials = 20000
	counts := map[Tier]int{}
	for i := 0; i < trials; i++ {
		counts[s.Resolve(avg(60), 5)]++
	}

	want := weightsFor(60)
	checks := []struct {
		tier Tier
		p    float64
	}{
		{TierEasy, want.Easy},
		{TierMedium, want.Medium},
		{TierHard, want.Hard},
	}
	for _, c := range checks {
		got := float64(counts[c.tier]) / trials
		if got < c.p-0.02 || got > c.p+0.02 {
			t.Errorf("tier %q frequency = %.3f, want %.3f ± 0.02", c.tier, got, c.p)
		}
	}
}

func TestWeightsFor_Buckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		average float64
		want    Weights
	}{
		{0, Weights{0.70, 0.25, 0.05}},
		{49.9, Weights{0.70, 0.25, 0.05}},
		{50, Weights{0.40, 0.45, 0.15}},
		{69.9, Weights{0.40, 0.45, 0.15}},
		{70, Weights{0.20, 0.50, 0.30}},
		{84.9, Weights{0.20, 0.50, 0.30}},
		{85, Weights{0.10, 0.40, 0.50}},
		{100, Weights{0.10, 0.40, 0.50}},
	}
	for _, tt := range tests {
		if got := weightsFor(tt.average); got != tt.want {
			t.Errorf("weightsFor(%v) = %+v, want %+v", tt.average, got, tt.want)
		}
	}
}
