package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/beewatch/beewatch/internal/api/middleware"
)

func collectDurations(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "http.server.request.duration" {
				h, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				return h.DataPoints
			}
		}
	}
	return nil
}

func newMeteredRouter(t *testing.T) (http.Handler, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := middleware.NewMetricsFor(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/v1/hexgrid", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lat") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set(middleware.HeaderGridMode, "live")
		_, _ = w.Write([]byte(`{"type":"FeatureCollection"}`))
	})
	r.Get("/v1/ops/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return r, reader
}

func TestNewMetrics(t *testing.T) {
	m, err := middleware.NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestMetrics_GridRequest(t *testing.T) {
	router, reader := newMeteredRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hexgrid?lat=-12.5&lon=-69.2", nil))

	points := collectDurations(t, reader)
	require.Len(t, points, 1)
	attrs := points[0].Attributes

	route, _ := attrs.Value("http.route")
	assert.Equal(t, "/v1/hexgrid", route.AsString())
	status, _ := attrs.Value("http.response.status_code")
	assert.Equal(t, int64(200), status.AsInt64())
	mode, ok := attrs.Value("beewatch.grid.mode")
	require.True(t, ok)
	assert.Equal(t, "live", mode.AsString())
	assert.False(t, attrs.HasValue("error.type"))
}

func TestMetrics_ErrorsAndRejections(t *testing.T) {
	router, reader := newMeteredRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hexgrid", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ops/status", nil))

	points := collectDurations(t, reader)
	require.Len(t, points, 2)

	byStatus := make(map[int64]attribute.Set, len(points))
	for _, p := range points {
		status, _ := p.Attributes.Value("http.response.status_code")
		byStatus[status.AsInt64()] = p.Attributes
	}

	rejected := byStatus[http.StatusBadRequest]
	assert.False(t, rejected.HasValue("error.type"))
	assert.False(t, rejected.HasValue("beewatch.grid.mode"), "rejected requests carry no grid mode")

	failed := byStatus[http.StatusServiceUnavailable]
	errType, ok := failed.Value("error.type")
	require.True(t, ok)
	assert.Equal(t, "Service Unavailable", errType.AsString())
}
