package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/BradenHooton/finvault/internal/models"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
)

// CSRFConfig configures the same-origin gate
type CSRFConfig struct {
	// AllowedOrigins are extra scheme://host[:port] origins accepted besides the request host
	AllowedOrigins []string
	// ExemptPrefixes skip the check (webhooks, cron callers)
	ExemptPrefixes []string
	IPConfig       *pkghttp.IPConfig
	Audit          Auditor
	Logger         *slog.Logger
}

// CSRFProtection rejects state-changing /api/ requests whose Origin (or, failing
// that, Referer) does not match the serving origin or an allowed origin. Both
// scheme and host must match. Requests carrying neither header are rejected.
func CSRFProtection(config CSRFConfig) func(http.Handler) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		if origin := originOf(o); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) || !isAPIPath(r.URL.Path) || isExempt(r.URL.Path, config.ExemptPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			source, origin := requestOrigin(r)
			if origin != "" {
				if origin == servingOrigin(r, config.IPConfig) {
					next.ServeHTTP(w, r)
					return
				}
				if _, ok := allowed[origin]; ok {
					next.ServeHTTP(w, r)
					return
				}
			}

			clientIP := pkghttp.ExtractClientIP(r, config.IPConfig)
			logger.Warn("cross-site request rejected",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("source", source),
				slog.String("origin", origin))

			if config.Audit != nil {
				rc := models.NewRequestContext(r, clientIP, nil)
				config.Audit.Record(r.Context(),
					models.NewSecurityEvent(rc, models.EventCSRFRejected, models.SeverityWarning, "cross-site request rejected").
						With("method", r.Method).
						With("source", source).
						With("origin", origin).
						With("host", r.Host))
			}
			pkghttp.WriteCSRFRejected(w)
		})
	}
}

// requestOrigin returns which header was used and the normalized origin it names
func requestOrigin(r *http.Request) (string, string) {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return "origin", originOf(origin)
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		return "referer", originOf(referer)
	}
	return "none", ""
}

// servingOrigin is the scheme://host the request was addressed to
func servingOrigin(r *http.Request, ipConfig *pkghttp.IPConfig) string {
	scheme := "http"
	if pkghttp.IsHTTPS(r, ipConfig) {
		scheme = "https"
	}
	return normalizeOrigin(scheme, r.Host)
}

// originOf reduces a URL to its lower-cased scheme://host[:port]
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return normalizeOrigin(u.Scheme, u.Host)
}

// normalizeOrigin drops the default port for scheme
func normalizeOrigin(scheme, host string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	return scheme + "://" + host
}

func isExempt(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
