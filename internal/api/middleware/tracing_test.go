package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/beewatch/beewatch/internal/api/middleware"
	"github.com/beewatch/beewatch/internal/telemetry"
)

// recordSpans installs a recording global tracer provider for one test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(telemetry.Propagator())
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_ServerSpan(t *testing.T) {
	sr := recordSpans(t)

	h := middleware.Tracing("beewatch-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, trace.SpanFromContext(r.Context()).SpanContext().IsValid())
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hexgrid?lat=-12.5&lon=-69.2", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/hexgrid", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTracing_ContinuesInboundTrace(t *testing.T) {
	sr := recordSpans(t)

	h := middleware.Tracing("beewatch-api")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/hexgrid", nil)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
}

func TestTracing_ServerErrorStatus(t *testing.T) {
	sr := recordSpans(t)

	h := middleware.Tracing("beewatch-api")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hexgrid", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracing_RequestIDAndGridMode(t *testing.T) {
	sr := recordSpans(t)

	h := middleware.RequestID(middleware.Tracing("beewatch-api")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(middleware.HeaderGridMode, "simulated")
		w.Header().Set(middleware.HeaderGridClassifier, "rules")
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodGet, "/v1/hexgrid", nil)
	req.Header.Set(middleware.HeaderRequestID, "lb-1234")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)

	id, ok := spanAttr(spans[0], "request.id")
	require.True(t, ok)
	assert.Equal(t, "lb-1234", id.AsString())

	mode, ok := spanAttr(spans[0], "beewatch.grid.mode")
	require.True(t, ok)
	assert.Equal(t, "simulated", mode.AsString())

	classifier, _ := spanAttr(spans[0], "beewatch.grid.classifier")
	assert.Equal(t, "rules", classifier.AsString())
}

func TestTracing_NamesSpanAfterRoute(t *testing.T) {
	sr := recordSpans(t)

	r := chi.NewRouter()
	r.Use(middleware.Tracing("beewatch-api"))
	r.Delete("/v1/admin/feature-flags/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/v1/admin/feature-flags/max_radius", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "DELETE /v1/admin/feature-flags/{key}", spans[0].Name())
}

func TestTracing_SkipsProbes(t *testing.T) {
	sr := recordSpans(t)

	called := false
	h := middleware.Tracing("beewatch-api")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ops/health", nil))

	assert.True(t, called)
	assert.Empty(t, sr.Ended())
}
