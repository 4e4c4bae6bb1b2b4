package security

import (
	"net/netip"
	"strings"
	"unicode/utf8"

	"gatekeeper/internal/clientid"
)

// MaskEmail hides most of an address: "user@example.com" becomes
// "u***@e******.com". Anything without exactly one "@" is fully masked.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[masked]"
	}

	labels := strings.Split(domain, ".")
	keep := len(labels) - 1 // TLD
	if keep == 0 {
		keep = 1
	}
	for i := 0; i < keep; i++ {
		labels[i] = maskLabel(labels[i])
	}

	return firstRune(local) + "***@" + strings.Join(labels, ".")
}

func maskLabel(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= 1 {
		return s
	}
	return firstRune(s) + strings.Repeat("*", n-1)
}

func firstRune(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}

// MaskIdentifier masks the account part of a guard identifier. Plain IPs
// pass through; "<ip>_<account>" keeps the IP.
func MaskIdentifier(id string) string {
	if ip, account, ok := strings.Cut(id, "_"); ok {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip + "_" + maskAccount(account)
		}
	}
	return maskAccount(id)
}

func maskAccount(s string) string {
	if s == clientid.Unknown {
		return s
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return s
	}
	if strings.Contains(s, "@") {
		return MaskEmail(s)
	}
	return maskLabel(s)
}
