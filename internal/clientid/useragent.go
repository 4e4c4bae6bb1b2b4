package clientid

import "strings"

// botKeywords flag automated clients. This is a logging heuristic, never a
// security boundary on its own.
var botKeywords = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python"}

// UserAgent holds coarse user-agent tags for security logs.
type UserAgent struct {
	Raw     string `json:"raw,omitempty"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
	Bot     bool   `json:"bot"`
}

// IsBot reports whether ua contains one of the bot keywords.
func IsBot(ua string) bool {
	lower := strings.ToLower(ua)
	for _, kw := range botKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ParseUserAgent extracts browser, OS and device tags. Unrecognized values
// are reported as "unknown".
func ParseUserAgent(ua string) UserAgent {
	lower := strings.ToLower(ua)
	return UserAgent{
		Raw:     ua,
		Browser: browserOf(lower),
		OS:      osOf(lower),
		Device:  deviceOf(lower),
		Bot:     IsBot(ua),
	}
}

// Order matters: Edge and Opera embed "chrome", Chrome embeds "safari".
func browserOf(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge/"):
		return "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox/"):
		return "firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	case strings.Contains(ua, "msie"), strings.Contains(ua, "trident/"):
		return "ie"
	default:
		return "unknown"
	}
}

func osOf(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "unknown"
	}
}

func deviceOf(ua string) string {
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return "mobile"
	case ua == "":
		return "unknown"
	default:
		return "desktop"
	}
}
