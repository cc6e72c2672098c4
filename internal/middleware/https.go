package middleware

import (
	"net/http"

	pkghttp "github.com/BradenHooton/finvault/pkg/http"
)

// RedirectHTTPS sends plain-HTTP requests to the https:// URL with a 308 so
// the method and body survive. Local hosts are left alone for development.
func RedirectHTTPS(enabled bool, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pkghttp.IsHTTPS(r, ipConfig) || pkghttp.IsLocalHost(r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusPermanentRedirect)
		})
	}
}
