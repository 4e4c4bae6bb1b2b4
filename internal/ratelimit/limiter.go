// Package ratelimit provides fixed-window request throttling keyed by client
// identity and named profile. Windows roll over lazily on the first request
// after they end; the backing store only reclaims memory. Store faults never
// block traffic: they surface as Degraded results that still admit the
// request.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/clientid"
	"gatekeeper/internal/store"
)

// entryGrace keeps a finished window readable slightly past its reset time
// so the rollover, not the store expiry, decides when counting restarts.
const entryGrace = time.Second

// Outcome tags a limiter decision.
type Outcome int

const (
	// Allowed means the request is within quota.
	Allowed Outcome = iota
	// Denied means the request exceeded its quota.
	Denied
	// Degraded means the limiter could not decide because of an internal
	// fault and admitted the request anyway.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the current window ends
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// Result is the outcome of a single Check.
type Result struct {
	Outcome Outcome
	Key     string
	Info    Info
	Err     error // set when Outcome is Degraded
}

// Admitted reports whether the request may proceed.
func (r Result) Admitted() bool {
	return r.Outcome != Denied
}

// Entry is the per-key window record.
type Entry struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"windowStart"`
	ResetTime   time.Time `json:"resetTime"`
}

// Checker decides whether a request fits a profile's quota. Implementations
// must be safe for concurrent use.
type Checker interface {
	Check(ctx context.Context, r *http.Request, p Profile) Result
}

// Limiter is the fixed-window Checker.
type Limiter struct {
	store  store.Store[Entry]
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for store faults.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter backed by s.
func New(s store.Store[Entry], opts ...Option) *Limiter {
	l := &Limiter{
		store:  s,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts r against p and reports whether it is within quota.
func (l *Limiter) Check(ctx context.Context, r *http.Request, p Profile) Result {
	return l.check(ctx, r, p.Key(r), p, p.Requests)
}

func (l *Limiter) check(ctx context.Context, r *http.Request, key string, p Profile, limit int) Result {
	now := l.now()

	entry, err := l.store.Update(ctx, p.Name+":"+key, func(cur Entry, exists bool) (Entry, time.Duration, error) {
		if !exists || now.After(cur.ResetTime) {
			cur = Entry{WindowStart: now, ResetTime: now.Add(p.Window)}
		}
		cur.Count++
		return cur, cur.ResetTime.Sub(now) + entryGrace, nil
	})
	if err != nil {
		l.logger.Error("rate limit check failed, allowing request",
			"profile", p.Name,
			"key", key,
			"error", err,
		)
		return Result{
			Outcome: Degraded,
			Key:     key,
			Info: Info{
				Limit:     limit,
				Remaining: limit,
				ResetAt:   now.Add(p.Window),
			},
			Err: err,
		}
	}

	info := Info{
		Limit:     limit,
		Remaining: max(0, limit-entry.Count),
		ResetAt:   entry.ResetTime,
	}

	if entry.Count <= limit {
		return Result{Outcome: Allowed, Key: key, Info: info}
	}

	info.RetryAfter = entry.ResetTime.Sub(now)
	if p.OnLimitReached != nil {
		p.OnLimitReached(r, key, info)
	}
	return Result{Outcome: Denied, Key: key, Info: info}
}

// keyOf falls back to the client IP when the profile has no key function
// or it yields nothing.
func keyOf(r *http.Request, fn KeyFunc) string {
	if fn != nil {
		if k := fn(r); k != "" {
			return k
		}
	}
	return clientid.ClientIP(r)
}
