// Package admission puts the rate limiter and the brute-force guard in front
// of every request. Paths are classified into profiles; admin routes turn
// away automated clients; auth routes are checked against active blocks and
// their outcome is fed back into the guard.
package admission

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"gatekeeper/internal/bruteforce"
	"gatekeeper/internal/clientid"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
)

// Guard is the part of bruteforce.Guard admission depends on.
type Guard interface {
	CheckAllowed(ctx context.Context, r *http.Request, account string) bruteforce.Decision
	RecordFailure(ctx context.Context, r *http.Request, account string)
	RecordSuccess(ctx context.Context, r *http.Request, account string)
}

// Emitter receives security events.
type Emitter interface {
	Emit(ctx context.Context, e models.SecurityEvent)
}

// Recorder receives admission metrics.
type Recorder interface {
	Decision(ctx context.Context, profile, outcome string)
	Block(ctx context.Context, blockType string)
	Degraded(ctx context.Context, component string)
}

type nopRecorder struct{}

func (nopRecorder) Decision(context.Context, string, string) {}
func (nopRecorder) Block(context.Context, string)            {}
func (nopRecorder) Degraded(context.Context, string)         {}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, models.SecurityEvent) {}

// Middleware is the admission layer. Build it with New and mount Handler.
type Middleware struct {
	checker   ratelimit.Checker
	profiles  map[string]ratelimit.Profile
	guard     Guard
	events    Emitter
	metrics   Recorder
	blockBots bool
	logger    *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithRateLimit enables rate limiting with checker and the given profile
// table. Profiles missing from the table are not limited.
func WithRateLimit(checker ratelimit.Checker, profiles map[string]ratelimit.Profile) Option {
	return func(m *Middleware) {
		m.checker = checker
		m.profiles = profiles
	}
}

// WithGuard enables brute-force protection on auth routes.
func WithGuard(g Guard) Option {
	return func(m *Middleware) {
		m.guard = g
	}
}

// WithEmitter sets the security event destination.
func WithEmitter(e Emitter) Option {
	return func(m *Middleware) {
		if e != nil {
			m.events = e
		}
	}
}

// WithRecorder sets the metrics destination.
func WithRecorder(r Recorder) Option {
	return func(m *Middleware) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithBotBlocking rejects bot user agents on admin routes.
func WithBotBlocking(enabled bool) Option {
	return func(m *Middleware) {
		m.blockBots = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates the admission middleware. Each profile's OnLimitReached hook
// is chained with one that emits a rate_limit_exceeded event.
func New(opts ...Option) *Middleware {
	m := &Middleware{
		events:  nopEmitter{},
		metrics: nopRecorder{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	profiles := make(map[string]ratelimit.Profile, len(m.profiles))
	for name, p := range m.profiles {
		p.OnLimitReached = m.limitHook(name, p.OnLimitReached)
		profiles[name] = p
	}
	m.profiles = profiles

	return m
}

func (m *Middleware) limitHook(profile string, next ratelimit.LimitHook) ratelimit.LimitHook {
	return func(r *http.Request, key string, info ratelimit.Info) {
		m.events.Emit(r.Context(), models.SecurityEvent{
			Name:       models.EventRateLimitExceeded,
			Severity:   models.SeverityMedium,
			Identifier: key,
			IP:         clientid.ClientIP(r),
			Path:       r.URL.Path,
			UserAgent:  r.UserAgent(),
			Details: map[string]string{
				"profile":     profile,
				"limit":       strconv.Itoa(info.Limit),
				"retry_after": strconv.Itoa(ratelimit.RetryAfterSeconds(info.RetryAfter)),
			},
		})
		if next != nil {
			next(r, key, info)
		}
	}
}

// Handler wraps next with admission control.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := Classify(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if route.Admin && m.blockBots && clientid.IsBot(r.UserAgent()) {
			m.rejectBot(w, r)
			return
		}

		var account string
		guarded := route.Auth && m.guard != nil
		if guarded {
			account = AccountFromBody(r)
			if !m.checkGuard(w, r, account) {
				return
			}
		}

		if !m.checkRate(w, r, route.Profile) {
			return
		}

		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		switch status := rec.Status(); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			m.guard.RecordFailure(r.Context(), r, account)
		case status >= 200 && status < 300:
			m.guard.RecordSuccess(r.Context(), r, account)
		}
	})
}

func (m *Middleware) rejectBot(w http.ResponseWriter, r *http.Request) {
	ip := clientid.ClientIP(r)
	m.logger.Warn("bot rejected on admin route", "ip", ip, "path", r.URL.Path)

	m.events.Emit(r.Context(), models.SecurityEvent{
		Name:      models.EventBotDetected,
		Severity:  models.SeverityMedium,
		IP:        ip,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
	})

	ratelimit.WriteRejection(w, http.StatusForbidden, models.NewRejectionResponse(
		"Forbidden",
		"Automated access to admin routes is not allowed",
		models.ErrorCodeBotDetected,
		0,
	))
}

// checkGuard reports whether the request may continue past the brute-force
// guard, writing the rejection when it may not.
func (m *Middleware) checkGuard(w http.ResponseWriter, r *http.Request, account string) bool {
	d := m.guard.CheckAllowed(r.Context(), r, account)

	switch d.Outcome {
	case bruteforce.Denied:
		m.metrics.Block(r.Context(), string(d.BlockType))

		status, code := http.StatusUnauthorized, models.ErrorCodeAccountBlocked
		if d.BlockType == bruteforce.KeyIP {
			status, code = http.StatusForbidden, models.ErrorCodeIPBlocked
		}
		ratelimit.WriteRejection(w, status, models.NewRejectionResponse(
			http.StatusText(status),
			d.Reason,
			code,
			d.RetryAfterSeconds,
		))
		return false

	case bruteforce.Degraded:
		m.degraded(r, "bruteforce", d.Err)
	}

	return true
}

// checkRate reports whether the request is within its profile's quota,
// writing the 429 when it is not.
func (m *Middleware) checkRate(w http.ResponseWriter, r *http.Request, profileName string) bool {
	if m.checker == nil || profileName == "" {
		return true
	}
	p, ok := m.profiles[profileName]
	if !ok || p.Requests <= 0 || p.Window <= 0 {
		return true
	}

	res := m.checker.Check(r.Context(), r, p)
	m.metrics.Decision(r.Context(), p.Name, res.Outcome.String())
	ratelimit.WriteHeaders(w, res.Info)

	switch res.Outcome {
	case ratelimit.Denied:
		retryAfter := ratelimit.RetryAfterSeconds(res.Info.RetryAfter)
		ratelimit.WriteRejection(w, http.StatusTooManyRequests, models.NewRejectionResponse(
			"Too Many Requests",
			"Rate limit exceeded, please try again later",
			models.ErrorCodeRateLimitExceeded,
			retryAfter,
		))
		return false

	case ratelimit.Degraded:
		m.degraded(r, "ratelimit", res.Err)
	}

	return true
}

func (m *Middleware) degraded(r *http.Request, component string, err error) {
	m.metrics.Degraded(r.Context(), component)

	details := map[string]string{"component": component}
	if err != nil {
		details["error"] = err.Error()
	}
	m.events.Emit(r.Context(), models.SecurityEvent{
		Name:      models.EventAdmissionDegraded,
		Severity:  models.SeverityHigh,
		IP:        clientid.ClientIP(r),
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		Details:   details,
	})
}
