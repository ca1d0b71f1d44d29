package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client address from the request. Forwarding headers
// are only honoured behind a trusted proxy: X-Forwarded-For first (taking the
// first IP in the chain), then X-Real-IP. Otherwise, and as a fallback, the
// host part of RemoteAddr is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return strings.Trim(ip, "[]")
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
