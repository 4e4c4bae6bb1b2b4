package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"gatekeeper/internal/auth"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/health"
			}),
		))
	}
}

// WithAdmission mounts the admission layer (rate limiting and brute-force
// protection) in front of every route.
func WithAdmission(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(middleware)
	}
}

// WithAdminRateLimiter limits the token-protected /admin/security endpoints,
// which the path-based admission rules do not rate limit.
func WithAdminRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(func(next http.Handler) http.Handler {
			limited := middleware(next)
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if strings.HasPrefix(req.URL.Path, "/admin/security/") {
					limited.ServeHTTP(w, req)
					return
				}
				next.ServeHTTP(w, req)
			})
		})
	}
}

// SetupRoutes configures the HTTP routes. upstream receives everything the
// gateway does not serve itself; nil means 404 for those paths.
func SetupRoutes(handlers *Handlers, upstream http.Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/health", handlers.HealthCheck).Methods("GET")

	router.HandleFunc("/admin/login", handlers.AdminLogin).Methods("POST")

	security := router.PathPrefix("/admin/security").Subrouter()
	security.Use(auth.Middleware(handlers.auth))
	security.HandleFunc("/stats", handlers.SecurityStats).Methods("GET")
	security.HandleFunc("/unblock", handlers.Unblock).Methods("POST")
	security.HandleFunc("/events", handlers.ListEvents).Methods("GET")
	security.HandleFunc("/events/{id}", handlers.GetEvent).Methods("GET")

	// Admin paths are never proxied.
	router.PathPrefix("/admin").HandlerFunc(notFoundHandler)

	if upstream == nil {
		upstream = http.HandlerFunc(notFoundHandler)
	}
	router.PathPrefix("/").Handler(upstream)

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}
