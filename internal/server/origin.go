package server

import (
	"net"
	"net/http"
	"strings"
)

// ClientOrigin extracts the client's network origin from the request.
// The first X-Forwarded-For entry wins, then X-Real-IP, then the
// RemoteAddr host. This ordering is a security boundary: origin
// allow-lists on session tokens are checked against this value, so it
// must stay consistent with what was allow-listed at issue time.
func ClientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
