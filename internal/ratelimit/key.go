package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownClient is the key used when no client address header is present.
const UnknownClient = "unknown"

// KeyFunc derives the rate-limit key of a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the first X-Forwarded-For entry, then
// X-Real-IP, then UnknownClient.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	return UnknownClient
}
