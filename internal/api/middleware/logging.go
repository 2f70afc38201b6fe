package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// loggedQuery are the grid query parameters copied into the access log.
// Anything else in the query string is left out.
var loggedQuery = []string{"lat", "lon", "radius", "resolution", "mode", "start", "end", "summary"}

// Logger returns a middleware that writes one access log line per request.
// Server errors log at error level, client errors at warn, successful health checks at debug.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := record(w)

			next.ServeHTTP(wrapped, r)

			event := accessEvent(log, r, wrapped.status)
			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Int("status", wrapped.status).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent())

			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				event.Str("trace_id", sc.TraceID().String())
			}
			if q := gridQuery(r); q != nil {
				event.Dict("grid", q)
			}
			if mode := wrapped.gridMode(); mode != "" {
				event.Str("grid_mode", mode).Str("classifier", wrapped.Header().Get(HeaderGridClassifier))
			}

			event.Msg("request completed")
		})
	}
}

func accessEvent(log zerolog.Logger, r *http.Request, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	case !traced(r):
		return log.Debug()
	default:
		return log.Info()
	}
}

// gridQuery returns the logged query parameters present on r, or nil.
func gridQuery(r *http.Request) *zerolog.Event {
	if !strings.Contains(r.URL.Path, "hexgrid") {
		return nil
	}
	q := r.URL.Query()
	dict := zerolog.Dict()
	found := false
	for _, key := range loggedQuery {
		if v := q.Get(key); v != "" {
			dict.Str(key, v)
			found = true
		}
	}
	if !found {
		return nil
	}
	return dict
}
