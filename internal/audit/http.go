package audit

import (
	"net"
	"net/http"
	"strings"
)

// maxUserAgent bounds the stored user agent.
const maxUserAgent = 256

// FromRequest fills the caller address and user agent of entry.
func FromRequest(r *http.Request, entry Entry) Entry {
	if r == nil {
		return entry
	}
	entry.IP = ClientIP(r)
	entry.UserAgent = r.UserAgent()
	if len(entry.UserAgent) > maxUserAgent {
		entry.UserAgent = entry.UserAgent[:maxUserAgent]
	}
	return entry
}

// ClientIP returns the caller address. The first non-empty hop of
// X-Forwarded-For wins, then X-Real-IP, then RemoteAddr. Ports and IPv6
// brackets are stripped.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := stripPort(hop); ip != "" {
			return ip
		}
	}
	if ip := stripPort(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
