package marketdata

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradeguard/compliance-engine/pkg/logger"
	"github.com/tradeguard/compliance-engine/pkg/metrics"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// Breaker isolates one external dependency. Closed passes calls through and
// counts failures inside a rolling window; open short-circuits immediately;
// half-open lets a single probe through to test recovery.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures []time.Time
	openedAt time.Time
	probing  bool

	now func() time.Time
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// WithClock substitutes the time source for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call may proceed. In half-open state only one
// in-flight probe is admitted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true

	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(BreakerHalfOpen)
			b.probing = true
			return true
		}
		metrics.BreakerShortCircuits.WithLabelValues(b.name).Inc()
		return false

	case BreakerHalfOpen:
		if b.probing {
			metrics.BreakerShortCircuits.WithLabelValues(b.name).Inc()
			return false
		}
		b.probing = true
		return true
	}

	return false
}

// RecordSuccess closes the breaker after a successful probe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == BreakerHalfOpen {
		b.failures = b.failures[:0]
		b.transition(BreakerClosed)
	}
}

// RecordFailure counts a failure; timeouts count the same as errors. The
// cooldown restarts when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.probing = false

	switch b.state {
	case BreakerHalfOpen:
		b.openedAt = now
		b.transition(BreakerOpen)

	case BreakerClosed:
		b.failures = append(b.failures, now)
		b.trimWindow(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.failures = b.failures[:0]
			b.openedAt = now
			b.transition(BreakerOpen)
		}
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trimWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}

	logger.Warn("circuit breaker state change",
		zap.String("dependency", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", next.String()))

	b.state = next
	metrics.BreakerTransitions.WithLabelValues(b.name, next.String()).Inc()
}
