package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cool-down has not yet elapsed.
var ErrBreakerOpen = errors.New("breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls immediately until the cool-down elapses.
	BreakerOpen

	// BreakerProbing allows a single call through after the cool-down; its
	// result decides whether the breaker closes or re-opens.
	BreakerProbing
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker]. Zero values are replaced
// with defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// TripAfter is the number of consecutive failures before the breaker
	// opens. Default: 5.
	TripAfter int

	// CoolDown is how long the breaker stays open before allowing a probe
	// call. Default: 30s.
	CoolDown time.Duration
}

// Breaker is a three-state circuit breaker (closed → open → probing)
// protecting one external dependency. Safe for concurrent use.
type Breaker struct {
	name      string
	tripAfter int
	coolDown  time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker] with the supplied configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		tripAfter: cfg.TripAfter,
		coolDown:  cfg.CoolDown,
		state:     BreakerClosed,
	}
}

// Do runs fn if the breaker allows it. While open it returns
// [ErrBreakerOpen] without calling fn; after the cool-down one probe call is
// let through, and its result decides the next state.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, updating state for probes.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.coolDown {
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probing = false
		slog.Info("breaker allowing probe", "name", b.name)
		fallthrough
	case BreakerProbing:
		if b.probing {
			// A probe is already in flight.
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

// settle records the result of an admitted call.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerProbing {
		b.probing = false
		if err != nil {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			slog.Warn("breaker re-opened after failed probe", "name", b.name)
		} else {
			b.state = BreakerClosed
			b.failures = 0
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.tripAfter {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// State returns the breaker's current state. An open breaker whose cool-down
// has elapsed reports [BreakerProbing]; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.coolDown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker back to closed, clearing failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}
