package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/beewatch/beewatch/internal/telemetry"
)

func TestInit_DisabledKeepsNoopProviders(t *testing.T) {
	ctx := context.Background()

	p, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "beewatch-worker",
		OTLPEndpoint: "collector.invalid:4317",
		Attributes:   []attribute.KeyValue{attribute.String("beewatch.grid.mode", "simulated")},
	})
	require.NoError(t, err)

	assert.Nil(t, p.TracerProvider)
	assert.Nil(t, p.MeterProvider)
	require.NotNil(t, p.Tracer)
	require.NotNil(t, p.Meter)

	_, span := p.Tracer.Start(ctx, "grid.generate")
	assert.False(t, span.SpanContext().IsValid(), "noop tracer records nothing")
	span.End()

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
	assert.NoError(t, p.Shutdown(ctx))
}

func TestInit_EnabledInstallsProviders(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	ctx := context.Background()
	// gRPC exporters dial lazily, so no collector is needed to build them.
	p, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "beewatch-api",
		ServiceVersion: "test",
		Environment:    "test",
		Enabled:        true,
		OTLPEndpoint:   "127.0.0.1:4317",
		Insecure:       true,
		SampleRatio:    0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, p.TracerProvider)
	require.NotNil(t, p.MeterProvider)
	assert.Same(t, p.TracerProvider, otel.GetTracerProvider())

	_, span := p.Tracer.Start(ctx, "grid.generate")
	span.End()

	shutdownCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = p.Shutdown(shutdownCtx)
}

func TestProvider_ShutdownWithoutProviders(t *testing.T) {
	assert.NoError(t, (&telemetry.Provider{}).Shutdown(context.Background()))
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{-0.5, "AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		assert.Contains(t, telemetry.NewSampler(tt.ratio).Description(), tt.want)
	}
}

func TestPropagator(t *testing.T) {
	fields := telemetry.Propagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "tracestate")
	assert.Contains(t, fields, "baggage")
}
