// Package auth authenticates the single operator account that may use the
// admin API: bcrypt password verification and short-lived HS256 bearer
// tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekeeper/internal/clientid"
	"gatekeeper/internal/models"
)

const issuer = "gatekeeper"

var (
	// ErrInvalidCredentials is returned for a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned for a malformed, forged or expired token.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrDisabled is returned when no operator account is configured.
	ErrDisabled = errors.New("admin authentication is not configured")
)

// Claims are the JWT claims of an admin session token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator verifies operator credentials and issues session tokens.
type Authenticator struct {
	email        string
	passwordHash string
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides time.Now for token issue and validation.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates an Authenticator from the admin config section.
func NewAuthenticator(cfg models.AdminConfig, opts ...Option) *Authenticator {
	a := &Authenticator{
		email:        clientid.NormalizeAccount(cfg.Email),
		passwordHash: cfg.PasswordHash,
		secret:       []byte(cfg.TokenSecret),
		ttl:          cfg.TokenTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether an operator account is configured.
func (a *Authenticator) Enabled() bool {
	return a.email != "" && a.passwordHash != "" && len(a.secret) > 0
}

// Login checks email and password and returns a signed token. The password
// hash is always compared so a wrong email costs as much as a wrong password.
func (a *Authenticator) Login(email, password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrDisabled
	}

	emailOK := subtle.ConstantTimeCompare([]byte(clientid.NormalizeAccount(email)), []byte(a.email)) == 1
	passwordErr := ComparePassword(a.passwordHash, password)
	if !emailOK || passwordErr != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	return a.IssueToken(a.email)
}

// IssueToken signs a token for email valid for the configured TTL.
func (a *Authenticator) IssueToken(email string) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)

	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Email != a.email {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	return claims, nil
}

type contextKey struct{}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}

// Middleware requires a valid "Authorization: Bearer <token>" header and
// stores the token claims in the request context.
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "Authorization required")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeUnauthorized(w, "Invalid authorization format")
				return
			}

			claims, err := a.ValidateToken(authHeader[len(prefix):])
			if err != nil {
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(models.NewErrorResponse(message, models.ErrorCodeUnauthorized))
}
