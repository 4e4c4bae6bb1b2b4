package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/bruteforce"
	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/store"
	"gatekeeper/internal/version"
)

const (
	adminEmail    = "ops@example.com"
	adminPassword = "correct-horse-battery"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (e *recordingEmitter) Emit(_ context.Context, ev models.SecurityEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *recordingEmitter) Events() []models.SecurityEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.SecurityEvent(nil), e.events...)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	handlers *Handlers
	authn    *auth.Authenticator
	guard    *bruteforce.Guard
	events   storage.Storage
	emitter  *recordingEmitter
	router   http.Handler
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()

	hash, err := auth.HashPasswordWithCost(adminPassword, bcrypt.MinCost)
	require.NoError(t, err)
	authn := auth.NewAuthenticator(models.AdminConfig{
		Email:        adminEmail,
		PasswordHash: hash,
		TokenSecret:  "0123456789abcdef0123456789abcdef",
		TokenTTL:     time.Hour,
	})

	attempts := store.NewMemoryStore[bruteforce.Attempt](store.WithSweepInterval(0))
	t.Cleanup(func() { _ = attempts.Close() })
	guard := bruteforce.New(attempts, bruteforce.DefaultConfig())

	events, err := storage.NewMemoryStorage(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	opts = append([]HandlerOption{WithEmitter(emitter), WithVersion(version.Info{Version: "1.2.3"})}, opts...)
	h := NewHandlers(authn, guard, events, opts...)

	return &testEnv{
		handlers: h,
		authn:    authn,
		guard:    guard,
		events:   events,
		emitter:  emitter,
		router:   SetupRoutes(h, nil),
	}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, _, err := e.authn.Login(adminEmail, adminPassword)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t,
		WithHealthComponent("store", pingFunc(func(context.Context) error { return nil })),
		WithHealthComponent("storage", pingFunc(func(context.Context) error { return nil })),
	)

	for _, path := range []string{"/health", "/api/health"} {
		rr := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rr.Code)

		var resp models.HealthCheckResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, models.StatusHealthy, resp.Status)
		assert.Equal(t, "1.2.3", resp.Version)
		assert.Len(t, resp.Components, 2)
	}
}

func TestHealthCheck_DegradedComponent(t *testing.T) {
	env := newTestEnv(t,
		WithHealthComponent("store", pingFunc(func(context.Context) error { return errors.New("connection refused") })),
	)

	rr := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusDegraded, resp.Status)
	assert.Equal(t, models.StatusUnhealthy, resp.Components["store"].Status)
	assert.Contains(t, resp.Components["store"].Message, "connection refused")
}

func TestAdminLogin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/admin/login", models.LoginRequest{Email: adminEmail, Password: adminPassword}, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	_, err := env.authn.ValidateToken(resp.Token)
	assert.NoError(t, err)
}

func TestAdminLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/admin/login", models.LoginRequest{Email: adminEmail, Password: "not-the-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), models.ErrorCodeUnauthorized)

	events := env.emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAdminLoginFailed, events[0].Name)
	assert.Equal(t, adminEmail, events[0].Identifier)
	assert.Equal(t, "203.0.113.10", events[0].IP)
}

func TestAdminLogin_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{"malformed json", `{"email":`, http.StatusBadRequest, "Invalid JSON body"},
		{"missing email", models.LoginRequest{Password: adminPassword}, http.StatusUnprocessableEntity, "email is required"},
		{"bad email", models.LoginRequest{Email: "nope", Password: adminPassword}, http.StatusUnprocessableEntity, "email must be a valid email address"},
		{"short password", models.LoginRequest{Email: adminEmail, Password: "short"}, http.StatusUnprocessableEntity, "password must have at least 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/admin/login", tt.body, "")
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.msg)
		})
	}
}

func TestAdminLogin_NotConfigured(t *testing.T) {
	events, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	h := NewHandlers(auth.NewAuthenticator(models.AdminConfig{}), nil, events)

	rr := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"email":"ops@example.com","password":"whatever-long"}`)
	SetupRoutes(h, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login", body))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSecurityEndpoints_RequireToken(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/admin/security/stats"},
		{http.MethodPost, "/admin/security/unblock"},
		{http.MethodGet, "/admin/security/events"},
		{http.MethodGet, "/admin/security/events/abc"},
	} {
		rr := env.do(t, tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.path)

		rr = env.do(t, tc.method, tc.path, nil, "forged.token.value")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.path)
	}
}

func loginRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("X-Forwarded-For", ip)
	return req
}

func TestSecurityStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.guard.RecordFailure(ctx, loginRequest("198.51.100.1"), "victim@example.com")
	}
	require.NoError(t, env.events.SaveEvent(ctx, &models.SecurityEvent{
		ID: "e1", Name: models.EventBruteForceBlock, Timestamp: time.Now(),
	}))
	require.NoError(t, env.events.SaveEvent(ctx, &models.SecurityEvent{
		ID: "e0", Name: models.EventBotDetected, Timestamp: time.Now().Add(-2 * time.Hour),
	}))

	rr := env.do(t, http.MethodGet, "/admin/security/stats", nil, env.token(t))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.SecurityStatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalAttempts)
	assert.Equal(t, 0, resp.BlockedIPs)
	assert.Equal(t, 1, resp.BlockedAccounts)
	assert.Equal(t, 2, resp.ActiveBlocks)
	assert.Equal(t, 1, resp.EventsLastHour)
}

func TestUnblock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.guard.RecordFailure(ctx, loginRequest("198.51.100.2"), "locked@example.com")
	}
	require.False(t, env.guard.CheckAllowed(ctx, loginRequest("192.0.2.200"), "locked@example.com").Admitted())

	rr := env.do(t, http.MethodPost, "/admin/security/unblock",
		models.UnblockRequest{Identifier: "Locked@Example.com", Type: "account"}, env.token(t))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.UnblockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "account", resp.Type)
	assert.True(t, resp.Found)

	assert.True(t, env.guard.CheckAllowed(ctx, loginRequest("192.0.2.200"), "locked@example.com").Admitted())

	events := env.emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAdminUnblock, events[0].Name)
	assert.Equal(t, adminEmail, events[0].Details["operator"])
	assert.Equal(t, "account", events[0].Details["type"])
}

func TestUnblock_CombinedMixedCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	token := env.token(t)

	for i := 0; i < 5; i++ {
		env.guard.RecordFailure(ctx, loginRequest("198.51.100.7"), "Shopper@Example.com")
	}
	require.NoError(t, env.guard.Unblock(ctx, "shopper@example.com", bruteforce.KeyAccount))
	require.False(t, env.guard.CheckAllowed(ctx, loginRequest("198.51.100.7"), "shopper@example.com").Admitted())

	rr := env.do(t, http.MethodPost, "/admin/security/unblock",
		models.UnblockRequest{Identifier: "198.51.100.7_Shopper@Example.com", Type: "combined"}, token)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.UnblockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.True(t, env.guard.CheckAllowed(ctx, loginRequest("198.51.100.7"), "shopper@example.com").Admitted())

	// A second unblock finds nothing left.
	rr = env.do(t, http.MethodPost, "/admin/security/unblock",
		models.UnblockRequest{Identifier: "198.51.100.7_shopper@example.com", Type: "combined"}, token)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
	assert.Equal(t, "No record found", resp.Message)
}

func TestUnblock_Validation(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	rr := env.do(t, http.MethodPost, "/admin/security/unblock",
		models.UnblockRequest{Identifier: "1.2.3.4", Type: "session"}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "type must be one of")

	rr = env.do(t, http.MethodPost, "/admin/security/unblock", models.UnblockRequest{Type: "ip"}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "identifier is required")
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Now().Add(-30 * time.Minute)

	for i, name := range []string{
		models.EventRateLimitExceeded,
		models.EventBotDetected,
		models.EventRateLimitExceeded,
	} {
		require.NoError(t, env.events.SaveEvent(ctx, &models.SecurityEvent{
			ID:        string(rune('a' + i)),
			Name:      name,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	token := env.token(t)

	rr := env.do(t, http.MethodGet, "/admin/security/events", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.ListEventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, "c", resp.Events[0].ID, "newest first")

	rr = env.do(t, http.MethodGet, "/admin/security/events?name=rate_limit_exceeded&limit=1", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "c", resp.Events[0].ID)

	rr = env.do(t, http.MethodGet, "/admin/security/events?since=10m", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp.Events)
	assert.Contains(t, rr.Body.String(), `"events":[]`)

	rr = env.do(t, http.MethodGet, "/admin/security/events?since=yesterday", nil, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/admin/security/events?limit=-4", nil, token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetEvent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.events.SaveEvent(context.Background(), &models.SecurityEvent{
		ID: "evt-42", Name: models.EventBruteForceBlock, Timestamp: time.Now(),
	}))
	token := env.token(t)

	rr := env.do(t, http.MethodGet, "/admin/security/events/evt-42", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	var event models.SecurityEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &event))
	assert.Equal(t, models.EventBruteForceBlock, event.Name)

	rr = env.do(t, http.MethodGet, "/admin/security/events/missing", nil, token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), models.ErrorCodeNotFound)
}
