package middleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// untracedPrefixes are health check endpoints hit every few seconds by the platform.
var untracedPrefixes = []string{"/v1/ops/health", "/v1/ops/ready"}

// Tracing starts a server span per request from the incoming W3C trace context.
// Spans are renamed to the matched route once routing is done and carry the
// request ID and grid mode. HTTP metrics are left to Metrics.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		annotate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			if id := GetRequestID(r.Context()); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}

			wrapped := record(w)
			next.ServeHTTP(wrapped, r)

			span.SetName(r.Method + " " + routePattern(r))
			if mode := wrapped.gridMode(); mode != "" {
				span.SetAttributes(
					attribute.String("beewatch.grid.mode", mode),
					attribute.String("beewatch.grid.classifier", wrapped.Header().Get(HeaderGridClassifier)),
				)
			}
		})

		return otelhttp.NewHandler(annotate, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithFilter(traced),
			otelhttp.WithMeterProvider(noop.NewMeterProvider()),
		)
	}
}

func traced(r *http.Request) bool {
	for _, p := range untracedPrefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			return false
		}
	}
	return true
}
