package ratelimit

import (
	"net/http"
	"time"

	"gatekeeper/internal/models"
)

// Profile names.
const (
	ProfileAPI       = "api"
	ProfileAdminAuth = "adminAuth"
	ProfilePayment   = "payment"
	ProfileOrders    = "orders"
	ProfileAuth      = "auth"
	ProfileSearch    = "search"
	ProfileWebhook   = "webhook"
)

// KeyFunc derives the rate limit key from a request.
type KeyFunc func(r *http.Request) string

// LimitHook runs once for every request that exceeds its quota.
type LimitHook func(r *http.Request, key string, info Info)

// Profile is a named quota: Requests per Window per key.
type Profile struct {
	Name           string
	Requests       int
	Window         time.Duration
	KeyFunc        KeyFunc
	OnLimitReached LimitHook
}

// Key returns the key r is counted under.
func (p Profile) Key(r *http.Request) string {
	return keyOf(r, p.KeyFunc)
}

// DefaultProfiles returns the built-in profile table keyed by name.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileAPI:       {Name: ProfileAPI, Requests: 100, Window: 15 * time.Minute},
		ProfileAdminAuth: {Name: ProfileAdminAuth, Requests: 5, Window: 15 * time.Minute},
		ProfilePayment:   {Name: ProfilePayment, Requests: 10, Window: 5 * time.Minute},
		ProfileOrders:    {Name: ProfileOrders, Requests: 20, Window: 10 * time.Minute},
		ProfileAuth:      {Name: ProfileAuth, Requests: 10, Window: 15 * time.Minute},
		ProfileSearch:    {Name: ProfileSearch, Requests: 200, Window: 15 * time.Minute},
		ProfileWebhook:   {Name: ProfileWebhook, Requests: 1000, Window: 15 * time.Minute},
	}
}

// ProfilesFromConfig applies configured overrides on top of the built-in
// table. Zero fields keep the built-in value; unknown names add a profile,
// which then needs both fields set to be usable.
func ProfilesFromConfig(cfg models.RateLimitConfig) map[string]Profile {
	profiles := DefaultProfiles()
	for name, override := range cfg.Profiles {
		p, ok := profiles[name]
		if !ok {
			p = Profile{Name: name}
		}
		if override.Requests > 0 {
			p.Requests = override.Requests
		}
		if override.Window > 0 {
			p.Window = override.Window
		}
		if p.Requests > 0 && p.Window > 0 {
			profiles[name] = p
		}
	}
	return profiles
}
