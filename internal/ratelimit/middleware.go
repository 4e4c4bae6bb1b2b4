package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/models"
)

// Middleware returns HTTP middleware that enforces a single profile. Degraded
// results are admitted; denied requests get a JSON 429.
func Middleware(checker Checker, profile Profile) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := checker.Check(r.Context(), r, profile)

			// Always set rate limit headers
			WriteHeaders(w, res.Info)

			if res.Outcome == Denied {
				retryAfter := RetryAfterSeconds(res.Info.RetryAfter)
				WriteRejection(w, http.StatusTooManyRequests, models.NewRejectionResponse(
					"Too Many Requests",
					"Rate limit exceeded",
					models.ErrorCodeRateLimitExceeded,
					retryAfter,
				))

				slog.Warn("Rate limit exceeded",
					"profile", profile.Name,
					"key", res.Key,
					"limit", res.Info.Limit,
					"retry_after", retryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteHeaders sets the X-RateLimit-* headers from info.
func WriteHeaders(w http.ResponseWriter, info Info) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
}

// WriteRejection writes resp as JSON with status, setting Retry-After from
// resp.RetryAfter when present.
func WriteRejection(w http.ResponseWriter, status int, resp *models.ErrorResponse) {
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
