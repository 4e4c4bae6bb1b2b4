package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/bruteforce"
	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
)

const (
	maxRequestBodyBytes = 1 << 20
	healthCheckTimeout  = 2 * time.Second
)

// Emitter receives security events raised by the admin API.
type Emitter interface {
	Emit(ctx context.Context, e models.SecurityEvent)
}

// Pinger is a component the health endpoint reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthComponent struct {
	name   string
	pinger Pinger
}

// Handlers contains HTTP handlers for the admin API and health checks.
type Handlers struct {
	auth    *auth.Authenticator
	guard   *bruteforce.Guard
	events  storage.Storage
	emitter Emitter
	health  []healthComponent
	version version.Info
	now     func() time.Time
	logger  *slog.Logger
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithEmitter sets where admin security events go.
func WithEmitter(e Emitter) HandlerOption {
	return func(h *Handlers) {
		h.emitter = e
	}
}

// WithHealthComponent adds a named component to the health report.
func WithHealthComponent(name string, p Pinger) HandlerOption {
	return func(h *Handlers) {
		h.health = append(h.health, healthComponent{name: name, pinger: p})
	}
}

func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		h.now = now
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(authn *auth.Authenticator, guard *bruteforce.Guard, events storage.Storage, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		auth:   authn,
		guard:  guard,
		events: events,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health, GET /api/health
//
// Store outages degrade admission rather than stop it, so the endpoint
// answers 200 with status "degraded" when a component fails.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version

	for _, c := range h.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.pinger.Ping(ctx)
		cancel()

		if err != nil {
			h.logger.Warn("health check failed", "component", c.name, "error", err)
			response.AddComponent(c.name, models.StatusUnhealthy, err.Error())
			continue
		}
		response.AddComponent(c.name, models.StatusHealthy, "operational")
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

func (h *Handlers) emit(ctx context.Context, e models.SecurityEvent) {
	if h.emitter != nil {
		h.emitter.Emit(ctx, e)
	}
}

// decodeJSON reads a bounded JSON body into dst and validates it. It writes
// the error response itself and reports whether decoding succeeded.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	if err := validateRequest(dst); err != nil {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeValidation, err.Error())
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; nothing left to tell the client.
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
