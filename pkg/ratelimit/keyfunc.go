package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is used when no client identity can be derived.
const UnknownClient = "unknown"

// ClientIP returns the client address. With trustForwarded set the first
// X-Forwarded-For value wins, then X-Real-IP; otherwise RemoteAddr is used.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		return UnknownClient
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return UnknownClient
}

// Key scopes a client to an endpoint family so each family has its own budget.
func Key(family, client string) string {
	return family + ":" + client
}
