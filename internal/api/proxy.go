package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"gatekeeper/internal/models"
	"gatekeeper/internal/version"
)

// NewUpstreamProxy forwards admitted requests to cfg.URL. Without an
// upstream it returns a handler that answers 404 JSON.
func NewUpstreamProxy(cfg models.UpstreamConfig) (http.Handler, error) {
	if cfg.URL == "" {
		return http.HandlerFunc(notFoundHandler), nil
	}

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	via := version.GetInfo().Via()
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Add("Via", via)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	proxy.Transport = transport

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("upstream request failed",
			"upstream", target.Host,
			"path", r.URL.Path,
			"error", err)
		writeJSONError(w, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream unavailable")
	}

	return proxy, nil
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusMethodNotAllowed, models.ErrorCodeBadRequest, "Method not allowed")
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
