package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are believed
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// ExtractClientIP returns the caller's address. Forwarding headers are only
// honored when the direct peer is a trusted proxy. X-Forwarded-For is walked
// right to left past trusted hops, since proxies append to it and everything
// left of the first untrusted hop is under client control.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		if xff := strings.Join(r.Header.Values("X-Forwarded-For"), ","); xff != "" {
			if ip := forwardedClient(xff, config.TrustedProxies); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && isValidIP(xri) {
			return xri
		}
	}

	return remoteIP
}

// forwardedClient returns the rightmost X-Forwarded-For entry that is not a
// trusted proxy, or the leftmost entry when every hop is trusted. A malformed
// hop ends the walk with "".
func forwardedClient(xff string, trustedProxies []string) string {
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(hops[i])
		if !isValidIP(ip) {
			return ""
		}
		if i == 0 || !isTrustedProxy(ip, trustedProxies) {
			return ip
		}
	}
	return ""
}

// IsHTTPS reports whether the request reached the edge over TLS. X-Forwarded-Proto
// is only consulted behind a trusted proxy.
func IsHTTPS(r *http.Request, config *IPConfig) bool {
	if r.TLS != nil {
		return true
	}
	if config != nil && isTrustedProxy(getRemoteAddr(r), config.TrustedProxies) {
		return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	}
	return false
}

// IsLocalHost reports whether host (with or without port) names the local machine
func IsLocalHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// getRemoteAddr strips the port from RemoteAddr
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}
	return "unknown"
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return false
	}

	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
