package audit

import (
	"net"
	"strings"
)

// MaskOrigin redacts the final segment of an IP address: the last octet
// for IPv4, the last group for IPv6. Anything unparsable masks to "?" so
// a raw identifier never reaches the audit trail.
func MaskOrigin(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return "?"
	}

	if ip4 := ip.To4(); ip4 != nil {
		parts := strings.Split(ip4.String(), ".")
		parts[len(parts)-1] = "x"
		return strings.Join(parts, ".")
	}

	// Canonical IPv6 form always contains a colon.
	canonical := ip.String()
	idx := strings.LastIndex(canonical, ":")
	return canonical[:idx+1] + "x"
}
