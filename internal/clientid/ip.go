// Package clientid derives a stable client identity from an inbound request.
// It extracts the client IP from proxy headers, classifies user agents for
// logging, and normalizes account identifiers used as brute-force keys.
package clientid

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Unknown is returned when no header or connection address yields a valid IP.
const Unknown = "unknown"

// Header precedence for client IP extraction. The CDN header is Cloudflare's;
// X-Client-IP carries the raw remote address set by some load balancers.
var ipHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"X-Client-IP",
}

// ClientIP returns the normalized client IP for r. Headers are consulted in
// order and only the first X-Forwarded-For entry is considered. The
// connection's RemoteAddr is the last resort. It never returns "".
func ClientIP(r *http.Request) string {
	if r == nil {
		return Unknown
	}

	for _, h := range ipHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if h == "X-Forwarded-For" {
			v, _, _ = strings.Cut(v, ",")
		}
		if ip, ok := NormalizeIP(v); ok {
			return ip
		}
	}

	if ip, ok := NormalizeIP(r.RemoteAddr); ok {
		return ip
	}

	return Unknown
}

// NormalizeIP validates s as an IPv4 or IPv6 address and returns its
// canonical form. A trailing port, surrounding brackets and an IPv6 zone
// are stripped; IPv4-mapped IPv6 addresses are unmapped so one client never
// produces two keys.
func NormalizeIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().WithZone("").String(), true
}

// NormalizeAccount trims and lowercases an account identifier (usually an
// email address) so brute-force keys are case-insensitive.
func NormalizeAccount(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
