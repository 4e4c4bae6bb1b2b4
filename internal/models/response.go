// Package models - API response types and error handling.
// This file defines the outgoing JSON structures shared by the admission
// layer and the admin API.
//
// Response Design Principles:
// - Every rejection carries a machine-readable code and a retry hint
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse is the JSON body of every rejected or failed request.
//
// Rejections from the admission layer always set RetryAfter (seconds) so a
// well-behaved client can honor it without parsing headers.
type ErrorResponse struct {
	Error      string    `json:"error"`                // Short error title
	Message    string    `json:"message"`              // Human-readable description
	Code       string    `json:"code,omitempty"`       // Machine-readable error code
	RetryAfter int       `json:"retryAfter,omitempty"` // Seconds until the client may retry
	Timestamp  time.Time `json:"timestamp"`            // Error occurrence time
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SecurityStatsResponse is the admin view of brute-force guard state.
type SecurityStatsResponse struct {
	TotalAttempts   int       `json:"totalAttempts"`
	BlockedIPs      int       `json:"blockedIPs"`
	BlockedAccounts int       `json:"blockedAccounts"`
	ActiveBlocks    int       `json:"activeBlocks"`
	EventsLastHour  int       `json:"eventsLastHour"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

type UnblockResponse struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	Found      bool   `json:"found"`
	Message    string `json:"message"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ListEventsResponse struct {
	Events     []*SecurityEvent `json:"events"`
	TotalCount int              `json:"total_count"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Quota exhausted
	ErrorCodeAccountBlocked     = "ACCOUNT_BLOCKED"     // 401: Brute-force block on account
	ErrorCodeIPBlocked          = "IP_BLOCKED"          // 403: Brute-force block on IP
	ErrorCodeBotDetected        = "BOT_DETECTED"        // 403: Automated client on admin route
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream unreachable
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewRejectionResponse builds the body returned when the admission layer
// turns a request away.
func NewRejectionResponse(title, message, code string, retryAfter int) *ErrorResponse {
	return &ErrorResponse{
		Error:      title,
		Message:    message,
		Code:       code,
		RetryAfter: retryAfter,
		Timestamp:  time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if status != StatusHealthy && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}
