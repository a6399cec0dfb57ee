package identity

import (
	"net"
	"strings"
)

// NormalizeIP returns the canonical text form of an address, dropping any port.
// Unparseable input yields "". Which forwarding headers may name the client is
// decided by the router's trusted proxies, not here.
func NormalizeIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
