package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gatekeeper/internal/ratelimit"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Route
		ok   bool
	}{
		{"/api/admin/auth/login", Route{Profile: ratelimit.ProfileAdminAuth, Admin: true, Auth: true}, true},
		{"/admin/login", Route{Profile: ratelimit.ProfileAdminAuth, Admin: true, Auth: true}, true},
		{"/api/auth/login", Route{Profile: ratelimit.ProfileAuth, Auth: true}, true},
		{"/api/auth", Route{Profile: ratelimit.ProfileAuth, Auth: true}, true},
		{"/api/payment/charge", Route{Profile: ratelimit.ProfilePayment}, true},
		{"/api/orders/42", Route{Profile: ratelimit.ProfileOrders}, true},
		{"/api/search", Route{Profile: ratelimit.ProfileSearch}, true},
		{"/api/webhooks/stripe", Route{Profile: ratelimit.ProfileWebhook}, true},
		{"/api/admin/menu", Route{Profile: ratelimit.ProfileAPI, Admin: true}, true},
		{"/api/menu", Route{Profile: ratelimit.ProfileAPI}, true},
		{"/api/authors", Route{Profile: ratelimit.ProfileAPI}, true},
		{"/admin/security/stats", Route{Admin: true}, true},
		{"/admin", Route{Admin: true}, true},
		{"/", Route{}, false},
		{"/menu", Route{}, false},
		{"/apiary", Route{}, false},
		{"/administrator", Route{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := Classify(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
