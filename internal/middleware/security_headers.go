package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
	// ConnectSources lists the origins the browser app may call (connect-src)
	ConnectSources []string
}

// contentSecurityPolicy builds the CSP for env. connect-src always includes 'self'.
func contentSecurityPolicy(config SecurityHeadersConfig) string {
	connect := []string{"'self'"}
	for _, src := range config.ConnectSources {
		if src != "" && src != "'self'" {
			connect = append(connect, src)
		}
	}

	if config.Env == "production" {
		return "default-src 'self'; " +
			"script-src 'self'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data: https:; " +
			"font-src 'self'; " +
			"connect-src " + strings.Join(connect, " ") + "; " +
			"frame-ancestors 'none'; " +
			"base-uri 'self'; " +
			"form-action 'self'"
	}

	// dev servers need eval and websockets for hot reload
	connect = append(connect, "ws:", "wss:")
	return "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' 'unsafe-eval'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https: http:; " +
		"font-src 'self' data:; " +
		"connect-src " + strings.Join(connect, " ") + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"
}

// SecurityHeaders returns a middleware that adds security headers to all responses,
// redirects included
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	csp := contentSecurityPolicy(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", csp)
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=(), usb=()")
			h.Set("X-DNS-Prefetch-Control", "off")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			// one year; the redirect below keeps production on TLS
			if config.Env == "production" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			next.ServeHTTP(w, r)
		})
	}
}
