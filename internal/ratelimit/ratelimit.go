// Package ratelimit implements fixed-interval sliding-window admission control
// keyed by caller identity.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
)

// Class groups requests that share one policy.
type Class string

const (
	ClassTranscribe Class = "transcribe"
	ClassEvaluate   Class = "evaluate"
	ClassHealth     Class = "health"
)

type Policy struct {
	Window      time.Duration `toml:"window"`
	MaxRequests int           `toml:"max_requests"`
}

type Result struct {
	Allowed   bool  `json:"allowed"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAtMs int64 `json:"resetAtMs"`
}

// DefaultPolicies returns the built-in per-class limits.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassTranscribe: {Window: time.Minute, MaxRequests: 30},
		ClassEvaluate:   {Window: time.Minute, MaxRequests: 10},
		ClassHealth:     {Window: time.Minute, MaxRequests: 60},
	}
}

// Store owns the window records. Implementations must be safe for concurrent
// use and must not serialize unrelated keys behind one lock.
type Store interface {
	Check(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
}

// Limiter applies class policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[Class]Policy
	metrics  *metrics.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

// New creates a limiter. A nil store selects the in-memory store and missing
// classes fall back to DefaultPolicies.
func New(store Store, policies map[Class]Policy) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	merged := DefaultPolicies()
	for class, p := range policies {
		if p.MaxRequests > 0 && p.Window > 0 {
			merged[class] = p
		}
	}
	return &Limiter{
		store:    store,
		policies: merged,
		metrics:  metrics.Default,
		now:      time.Now,
		log:      logging.WithComponent("ratelimit"),
	}
}

// SetMetrics replaces the metrics sink.
func (l *Limiter) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

func (l *Limiter) Policy(class Class) Policy {
	return l.policies[class]
}

// Check evaluates one request against an explicit policy.
func (l *Limiter) Check(ctx context.Context, key string, p Policy) (Result, error) {
	return l.store.Check(ctx, key, p, l.now())
}

// Allow admits or rejects one request of the given class from identity. A
// denial is returned as *apperr.RateLimitError alongside the result.
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) (Result, error) {
	p, ok := l.policies[class]
	if !ok {
		return Result{Allowed: true}, nil
	}

	res, err := l.Check(ctx, string(class)+":"+identity, p)
	if err != nil {
		l.log.Error().Err(err).Str("class", string(class)).Msg("ratelimit: store check failed")
		return res, err
	}
	if !res.Allowed {
		if l.metrics != nil {
			l.metrics.RateLimitDenied.WithLabelValues(string(class)).Inc()
		}
		l.log.Debug().
			Str("class", string(class)).
			Str("identity", identity).
			Int64("resetAtMs", res.ResetAtMs).
			Msg("ratelimit: denied")
		return res, &apperr.RateLimitError{
			Limit:     res.Limit,
			Remaining: res.Remaining,
			ResetAtMs: res.ResetAtMs,
		}
	}
	return res, nil
}
