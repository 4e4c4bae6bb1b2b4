package admission

import (
	"strings"

	"gatekeeper/internal/ratelimit"
)

// Route is the admission treatment a request path gets.
type Route struct {
	// Profile is the rate limit profile name, empty when the path is not
	// rate limited.
	Profile string
	// Admin routes reject automated clients.
	Admin bool
	// Auth routes consult and feed the brute-force guard.
	Auth bool
}

type routeRule struct {
	prefix string
	route  Route
}

// Rules are matched in order; the first prefix that matches wins.
var routeRules = []routeRule{
	{"/api/admin/auth", Route{Profile: ratelimit.ProfileAdminAuth, Admin: true, Auth: true}},
	{"/admin/login", Route{Profile: ratelimit.ProfileAdminAuth, Admin: true, Auth: true}},
	{"/api/auth", Route{Profile: ratelimit.ProfileAuth, Auth: true}},
	{"/api/payment", Route{Profile: ratelimit.ProfilePayment}},
	{"/api/orders", Route{Profile: ratelimit.ProfileOrders}},
	{"/api/search", Route{Profile: ratelimit.ProfileSearch}},
	{"/api/webhooks", Route{Profile: ratelimit.ProfileWebhook}},
	{"/api/admin", Route{Profile: ratelimit.ProfileAPI, Admin: true}},
	{"/api", Route{Profile: ratelimit.ProfileAPI}},
	{"/admin", Route{Admin: true}},
}

// Classify maps a request path to its Route. ok is false for paths the
// admission layer does not touch.
func Classify(path string) (Route, bool) {
	for _, rule := range routeRules {
		if hasPathPrefix(path, rule.prefix) {
			return rule.route, true
		}
	}
	return Route{}, false
}

// hasPathPrefix matches prefix on a segment boundary, so /api/authors is
// not an auth route.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
