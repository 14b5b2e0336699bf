// Package resilience provides the fallback and circuit-breaker primitives
// that keep the practice engine responsive when external AI services
// misbehave.
//
// The central type is [Chain], an ordered list of named strategies that each
// yield a tagged outcome. The caller iterates the list until a strategy
// succeeds or the list is exhausted, which also makes each tier unit-testable
// in isolation. [Breaker] is a classic three-state circuit breaker wrapped
// around a single external dependency.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned by [Chain.Execute] when every strategy failed.
var ErrExhausted = errors.New("all strategies failed")

// Outcome tags the result of one strategy attempt.
type Outcome int

const (
	// Success means the strategy produced a usable value.
	Success Outcome = iota

	// RetryableFailure means the strategy failed but the chain should move
	// on to the next tier.
	RetryableFailure

	// FatalFailure means further tiers cannot help (e.g., the context is
	// cancelled); the chain stops immediately.
	FatalFailure
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case FatalFailure:
		return "fatal"
	default:
		return "unknown"
	}
}

// Strategy is one tier of a fallback chain. Run returns the produced value,
// a tagged outcome, and the error that caused a non-success outcome.
type Strategy[T any] struct {
	// Name labels this tier in logs and in the result.
	Name string

	// Run attempts the tier once.
	Run func(ctx context.Context) (T, Outcome, error)
}

// Chain is an ordered list of strategies tried first to last.
type Chain[T any] struct {
	strategies []Strategy[T]
}

// NewChain builds a [Chain] from the given strategies, in try order.
func NewChain[T any](strategies ...Strategy[T]) *Chain[T] {
	return &Chain[T]{strategies: strategies}
}

// Execute runs the chain: strategies are attempted in order until one
// reports [Success]. It returns the value and the name of the winning
// strategy. A [FatalFailure] stops the chain early; otherwise exhaustion
// returns [ErrExhausted] wrapped with the last error.
func (c *Chain[T]) Execute(ctx context.Context) (T, string, error) {
	var (
		zero    T
		lastErr error
	)
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return zero, "", fmt.Errorf("%w: %v", ErrExhausted, ctx.Err())
		}

		value, outcome, err := s.Run(ctx)
		switch outcome {
		case Success:
			return value, s.Name, nil
		case FatalFailure:
			slog.Warn("fallback strategy failed fatally", "strategy", s.Name, "error", err)
			return zero, "", fmt.Errorf("%w: %v", ErrExhausted, err)
		default:
			slog.Warn("fallback strategy failed, trying next", "strategy", s.Name, "error", err)
			lastErr = err
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
