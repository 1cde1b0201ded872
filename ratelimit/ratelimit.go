// Package ratelimit implements the C2 rate limiting component: an org-scoped
// limiter shared across every sync running for an organization (spec
// §4.2.1) and a source-scoped limiter that additionally respects a source's
// own API quota (§4.2.2). Both return *syncerrors.RateLimitExceeded /
// *syncerrors.SourceRateLimitExceeded so callers can back off without
// string-matching an error message.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	syncerrors "airweave.dev/syncengine/errors"
)

// Limiter is satisfied by both the process-local token bucket and the
// Redis-backed distributed limiter, so callers (source drivers, download) can
// depend on the interface regardless of deployment topology.
type Limiter interface {
	// Wait blocks until a slot is available or ctx is cancelled. It never
	// returns a rate-limit error; callers that want a non-blocking check
	// should use Allow instead.
	Wait(ctx context.Context) error

	// Allow returns immediately: true if a slot was available and consumed,
	// false (with a RetryAfter hint) otherwise.
	Allow(ctx context.Context) (bool, time.Duration, error)
}

// Local wraps golang.org/x/time/rate for single-process rate limiting, used
// as the org-scoped limiter when SYNCWORKER_RATELIMIT_REDIS_URL is unset
// (single-worker deployments, spec §4.2.1).
type Local struct {
	limiter *rate.Limiter
	scope   string
}

// NewLocal creates a token bucket refilling at rps with the given burst size.
func NewLocal(scope string, rps float64, burst int) *Local {
	return &Local{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		scope:   scope,
	}
}

func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *Local) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := time.Now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, 0, &syncerrors.RateLimitExceeded{Scope: l.scope, RetryAfter: time.Second}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.Cancel()
		return false, delay, &syncerrors.RateLimitExceeded{Scope: l.scope, RetryAfter: delay}
	}
	return true, 0, nil
}

var _ Limiter = (*Local)(nil)
