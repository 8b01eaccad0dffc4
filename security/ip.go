package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller's address.
//
// With trustProxy set, X-Forwarded-For is read from the right: the last
// trustedProxyCount entries belong to our own proxies (at least one is
// assumed) and the entry before them is the client. X-Real-IP is the
// fallback. Otherwise RemoteAddr is used.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")
	proxies := max(trustedProxyCount, 1)

	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
