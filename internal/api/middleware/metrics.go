package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/beewatch/beewatch/internal/api/middleware"

// durationBuckets cover cached simulated grids up to cold live grids at the radius limit.
var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60}

// Metrics holds the OpenTelemetry HTTP server instruments.
type Metrics struct {
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	bodySize metric.Int64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFor(otel.GetMeterProvider())
}

// NewMetricsFor creates the instruments on mp.
func NewMetricsFor(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	duration, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Number of HTTP requests being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	bodySize, err := meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Size of HTTP response bodies"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{duration: duration, inFlight: inFlight, bodySize: bodySize}, nil
}

// Middleware records every request by method, route pattern and status, plus the grid
// mode of grid responses. Raw paths never become attributes, so coordinates stay out.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			method := metric.WithAttributes(attribute.String("http.request.method", r.Method))
			m.inFlight.Add(ctx, 1, method)
			defer m.inFlight.Add(ctx, -1, method)

			wrapped := record(w)
			next.ServeHTTP(wrapped, r)

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", routePattern(r)),
				attribute.Int("http.response.status_code", wrapped.status),
			}
			if wrapped.status >= 500 {
				attrs = append(attrs, attribute.String("error.type", http.StatusText(wrapped.status)))
			}
			if mode := wrapped.gridMode(); mode != "" {
				attrs = append(attrs, attribute.String("beewatch.grid.mode", mode))
			}

			opt := metric.WithAttributes(attrs...)
			m.duration.Record(ctx, time.Since(start).Seconds(), opt)
			m.bodySize.Record(ctx, wrapped.written, opt)
		})
	}
}
