// Package models - Security event records.
// Every block, limit-exceeded and bot-detected decision is captured as a
// SecurityEvent and handed to the event storage backends.
package models

import (
	"time"
)

// Severity grades a security event. The logger maps it onto slog levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event names emitted by the admission layer and admin API.
const (
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventBruteForceBlock   = "brute_force_block"
	EventBotDetected       = "bot_detected"
	EventAdmissionDegraded = "admission_degraded"
	EventAdminLoginFailed  = "admin_login_failed"
	EventAdminUnblock      = "admin_unblock"
)

// SecurityEvent is one structured security-log record.
type SecurityEvent struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Severity   Severity          `json:"severity"`
	Identifier string            `json:"identifier,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Path       string            `json:"path,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EventFilter narrows RecentEvents queries. Zero values match everything;
// Limit <= 0 means DefaultEventLimit.
type EventFilter struct {
	Name  string
	Since time.Time
	Limit int
}

const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// EffectiveLimit clamps the requested limit into [1, MaxEventLimit].
func (f EventFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultEventLimit
	case f.Limit > MaxEventLimit:
		return MaxEventLimit
	default:
		return f.Limit
	}
}

// Matches reports whether the event passes the name and time filters.
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
