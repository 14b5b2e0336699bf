package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/parlano/parlano/internal/observe"
	"github.com/parlano/parlano/pkg/provider/textgen"
)

// GuardedTextGen implements [textgen.Client] with a circuit breaker in front
// of a real backend. When the backend has failed repeatedly, calls are
// rejected immediately with [ErrBreakerOpen] instead of waiting out another
// timeout — the prompt and scoring fallback chains then drop straight to
// their deterministic tiers.
//
// Every call is recorded to the text-generation latency histogram, and
// failures increment the provider error counter. Because the production
// client is always wrapped, this is the single metering point for prompt,
// scoring, and summary traffic.
type GuardedTextGen struct {
	inner   textgen.Client
	breaker *Breaker
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ textgen.Client = (*GuardedTextGen)(nil)

// GuardedOption configures a [GuardedTextGen].
type GuardedOption func(*GuardedTextGen)

// WithTextGenMetrics overrides the metrics instance, letting tests observe
// recorded values.
func WithTextGenMetrics(m *observe.Metrics) GuardedOption {
	return func(g *GuardedTextGen) {
		g.metrics = m
	}
}

// NewGuardedTextGen wraps inner with a circuit breaker.
func NewGuardedTextGen(inner textgen.Client, cfg BreakerConfig, opts ...GuardedOption) *GuardedTextGen {
	if cfg.Name == "" {
		cfg.Name = "textgen"
	}
	g := &GuardedTextGen{
		inner:   inner,
		breaker: NewBreaker(cfg),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Complete implements textgen.Client.
func (g *GuardedTextGen) Complete(ctx context.Context, req textgen.Request) (*textgen.Response, error) {
	start := time.Now()
	var resp *textgen.Response
	err := g.breaker.Do(func() error {
		var innerErr error
		resp, innerErr = g.inner.Complete(ctx, req)
		return innerErr
	})
	if err != nil {
		g.metrics.RecordTextGenCall(ctx, time.Since(start), "error")
		g.metrics.RecordProviderError(ctx, "textgen", errorKind(err))
		return nil, err
	}
	g.metrics.RecordTextGenCall(ctx, time.Since(start), "ok")
	return resp, nil
}

// BreakerState exposes the current breaker state for health reporting.
func (g *GuardedTextGen) BreakerState() BreakerState {
	return g.breaker.State()
}

// errorKind classifies a text-generation failure for the error counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "breaker_open"
	case textgen.IsRateLimited(err):
		return "rate_limited"
	default:
		return "error"
	}
}
