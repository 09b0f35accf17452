// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce the configured access control.
package server

import (
	"net/url"
	"strings"
)

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// originAllowed reports whether a request carrying origin may connect. An
// empty allowed origin admits everyone. Values that do not parse as
// scheme://host are compared verbatim.
func originAllowed(allowed, origin string) bool {
	if allowed == "" {
		return true
	}

	normalizedAllowed, okAllowed := normalizeOrigin(allowed)
	normalizedOrigin, okOrigin := normalizeOrigin(origin)
	if okAllowed && okOrigin {
		return normalizedAllowed == normalizedOrigin
	}

	return allowed == origin
}
