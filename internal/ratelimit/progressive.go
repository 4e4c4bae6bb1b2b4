package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/store"
)

// DefaultViolationWindow is how long violations count against a key.
const DefaultViolationWindow = 24 * time.Hour

// Violations tracks how often a key exceeded its quota.
type Violations struct {
	Count          int       `json:"count"`
	FirstViolation time.Time `json:"firstViolation"`
}

// ProgressiveLimiter shrinks the quota of repeat offenders. Each denied
// request adds a violation; each violation cuts the allowance by a further
// 20%, down to 10% of nominal. Violations are forgotten all at once when the
// window that began with the first one ends.
type ProgressiveLimiter struct {
	limiter    *Limiter
	violations store.Store[Violations]
	window     time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// ProgressiveOption configures a ProgressiveLimiter.
type ProgressiveOption func(*ProgressiveLimiter)

// WithViolationWindow overrides DefaultViolationWindow.
func WithViolationWindow(d time.Duration) ProgressiveOption {
	return func(p *ProgressiveLimiter) {
		if d > 0 {
			p.window = d
		}
	}
}

// NewProgressive wraps limiter. The limiter's clock and logger are shared.
func NewProgressive(limiter *Limiter, violations store.Store[Violations], opts ...ProgressiveOption) *ProgressiveLimiter {
	p := &ProgressiveLimiter{
		limiter:    limiter,
		violations: violations,
		window:     DefaultViolationWindow,
		now:        limiter.now,
		logger:     limiter.logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EffectiveLimit returns the allowance for a key with the given number of
// violations: max(1, floor(requests * max(0.1, 1 - 0.2*violations))).
func EffectiveLimit(requests, violations int) int {
	percent := max(10, 100-20*violations)
	return max(1, requests*percent/100)
}

// Check applies the reduced allowance for r's key and records a violation
// when the request is denied.
func (p *ProgressiveLimiter) Check(ctx context.Context, r *http.Request, prof Profile) Result {
	key := prof.Key(r)
	vkey := prof.Name + ":" + key

	v, _, err := p.violations.Get(ctx, vkey)
	if err != nil {
		p.logger.Error("violation lookup failed, using nominal limit",
			"profile", prof.Name,
			"key", key,
			"error", err,
		)
		res := p.limiter.check(ctx, r, key, prof, prof.Requests)
		if res.Outcome == Allowed {
			res.Outcome = Degraded
			res.Err = err
		}
		return res
	}

	res := p.limiter.check(ctx, r, key, prof, EffectiveLimit(prof.Requests, v.Count))
	if res.Outcome != Denied {
		return res
	}

	now := p.now()
	_, err = p.violations.Update(ctx, vkey, func(cur Violations, exists bool) (Violations, time.Duration, error) {
		if !exists || now.Sub(cur.FirstViolation) > p.window {
			cur = Violations{FirstViolation: now}
		}
		cur.Count++
		return cur, cur.FirstViolation.Add(p.window).Sub(now) + entryGrace, nil
	})
	if err != nil {
		p.logger.Error("failed to record rate limit violation",
			"profile", prof.Name,
			"key", key,
			"error", err,
		)
	}
	return res
}

// ViolationCount returns the violations currently held against key under
// profile name.
func (p *ProgressiveLimiter) ViolationCount(ctx context.Context, profile, key string) (int, error) {
	v, _, err := p.violations.Get(ctx, profile+":"+key)
	if err != nil {
		return 0, err
	}
	return v.Count, nil
}
