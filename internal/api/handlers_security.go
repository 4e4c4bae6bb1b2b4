package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/bruteforce"
	"gatekeeper/internal/clientid"
	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

// AdminLogin exchanges operator credentials for a bearer token.
// POST /admin/login
//
// Wrong credentials answer 401 so the admission layer counts them against
// the brute-force guard.
func (h *Handlers) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	token, expiresAt, err := h.auth.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Admin login is not configured")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.emit(r.Context(), models.SecurityEvent{
			Name:       models.EventAdminLoginFailed,
			Severity:   models.SeverityMedium,
			Identifier: clientid.NormalizeAccount(req.Email),
			IP:         clientid.ClientIP(r),
			Path:       r.URL.Path,
			UserAgent:  r.UserAgent(),
		})
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid email or password")
		return
	case err != nil:
		h.logger.Error("admin login failed", "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Login failed")
		return
	}

	h.logger.Info("admin login", "ip", clientid.ClientIP(r))
	h.writeJSONResponse(w, http.StatusOK, models.LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// SecurityStats reports brute-force guard state and recent event volume.
// GET /admin/security/stats
func (h *Handlers) SecurityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.guard.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect guard stats", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Brute-force store unavailable")
		return
	}

	now := h.now()
	recent, err := h.events.CountEvents(r.Context(), now.Add(-time.Hour))
	if err != nil {
		h.logger.Error("failed to count security events", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Event storage unavailable")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.SecurityStatsResponse{
		TotalAttempts:   stats.TotalAttempts,
		BlockedIPs:      stats.BlockedIPs,
		BlockedAccounts: stats.BlockedAccounts,
		ActiveBlocks:    stats.ActiveBlocks,
		EventsLastHour:  recent,
		GeneratedAt:     now.UTC(),
	})
}

// Unblock removes one brute-force record. Unknown identifiers still answer
// 200 with found=false.
// POST /admin/security/unblock
func (h *Handlers) Unblock(w http.ResponseWriter, r *http.Request) {
	var req models.UnblockRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	typ, err := bruteforce.ParseKeyType(req.Type)
	if err != nil {
		h.writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeValidation, err.Error())
		return
	}

	_, found, err := h.guard.Lookup(r.Context(), req.Identifier, typ)
	if err != nil {
		h.logger.Error("unblock lookup failed", "type", typ, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Brute-force store unavailable")
		return
	}

	if err := h.guard.Unblock(r.Context(), req.Identifier, typ); err != nil {
		h.logger.Error("unblock failed", "type", typ, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Brute-force store unavailable")
		return
	}

	operator := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		operator = claims.Email
	}
	h.emit(r.Context(), models.SecurityEvent{
		Name:       models.EventAdminUnblock,
		Severity:   models.SeverityLow,
		Identifier: req.Identifier,
		IP:         clientid.ClientIP(r),
		Path:       r.URL.Path,
		UserAgent:  r.UserAgent(),
		Details: map[string]string{
			"type":     string(typ),
			"operator": operator,
		},
	})

	message := "Block removed"
	if !found {
		message = "No record found"
	}
	h.writeJSONResponse(w, http.StatusOK, models.UnblockResponse{
		Identifier: req.Identifier,
		Type:       string(typ),
		Found:      found,
		Message:    message,
	})
}

// ListEvents returns recent security events, newest first.
// GET /admin/security/events?limit=&name=&since=
//
// since accepts an RFC 3339 timestamp or a Go duration ("1h") meaning that
// long ago.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{Name: q.Get("name")}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	if v := q.Get("since"); v != "" {
		since, err := h.parseSince(v)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest,
				"since must be an RFC 3339 timestamp or a duration")
			return
		}
		filter.Since = since
	}

	events, err := h.events.RecentEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list security events", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Event storage unavailable")
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	h.writeJSONResponse(w, http.StatusOK, models.ListEventsResponse{Events: events, TotalCount: len(events)})
}

// GetEvent returns one security event.
// GET /admin/security/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	event, err := h.events.GetEvent(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Event not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load security event", "id", id, "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Event storage unavailable")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, event)
}

func (h *Handlers) parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return time.Time{}, errors.New("invalid since")
	}
	return h.now().Add(-d), nil
}
