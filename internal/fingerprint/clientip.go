package fingerprint

import (
	"net"
	"net/http"
	"strings"
)

const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

// ClientIP returns the caller's IP from the first X-Forwarded-For entry,
// falling back to X-Real-IP. It returns "" when neither header carries a
// parseable address.
func ClientIP(h http.Header) string {
	if fwd := h.Get(HeaderForwardedFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := NormalizeIP(first); ip != "" {
			return ip
		}
	}
	return NormalizeIP(h.Get(HeaderRealIP))
}

// NormalizeIP trims and validates an address, returning its canonical form or ""
func NormalizeIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}
