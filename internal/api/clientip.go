package api

import (
	"net"
	"net/http"
	"strings"
)

// forwardedHeaders is checked in priority order. The first plausible public
// address wins; otherwise the direct connection address is used.
var forwardedHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"X-Client-Ip",
}

// ClientIP derives a best-effort client address from proxy-forwarded
// headers, falling back to the connection's remote address.
func ClientIP(r *http.Request) string {
	for _, header := range forwardedHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		for _, candidate := range strings.Split(value, ",") {
			candidate = strings.TrimSpace(candidate)
			if isPublicIP(candidate) {
				return candidate
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isPublicIP reports whether the string parses as a routable public address
func isPublicIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return false
	}
	return true
}
