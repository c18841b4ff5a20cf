package observability

import (
	"net"
	"net/http"
	"strings"
)

// Identity headers the messaging clients attach to every call; their values
// ride along on published events for correlation.
const (
	headerDeviceID  = "X-Device-Id"
	headerRequestID = "X-Request-Id"
)

// DeviceIDFromRequest returns the caller's device identifier, empty when the
// client sent none.
func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get(headerDeviceID)
}

// RequestIDFromRequest returns the caller-supplied request identifier.
func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get(headerRequestID)
}

// IPFromRequest resolves the client address, preferring the first
// X-Forwarded-For hop set at the edge.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
