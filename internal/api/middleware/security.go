package middleware

import (
	"net/http"

	"github.com/beewatch/beewatch/internal/api/models"
)

// Content security policies.
const (
	// APIContentSecurityPolicy forbids every resource for JSON endpoints.
	APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

	// MapContentSecurityPolicy lets the bundled map page load its own assets and
	// OpenStreetMap tiles.
	MapContentSecurityPolicy = "default-src 'self'; img-src 'self' data: https://*.tile.openstreetmap.org; " +
		"style-src 'self' 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'"
)

// baseHeaders are sent on every response; the CSP is chosen per surface.
var baseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

// SecurityHeaders sets hardening headers with the API content security policy.
func SecurityHeaders(next http.Handler) http.Handler {
	return securityHeaders(APIContentSecurityPolicy)(next)
}

// MapSecurityHeaders is SecurityHeaders with the policy of the static map page.
func MapSecurityHeaders(next http.Handler) http.Handler {
	return securityHeaders(MapContentSecurityPolicy)(next)
}

func securityHeaders(csp string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range baseHeaders {
				h.Set(kv[0], kv[1])
			}
			h.Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTLS returns a middleware that rejects plain HTTP requests when enabled.
// It checks the X-Forwarded-Proto header set by Cloud Run and load balancers;
// requests without the header are direct connections and pass.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && proto != "https" {
				models.KindTLSRequired.New(GetRequestID(r.Context()), "This endpoint requires HTTPS").Send(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
