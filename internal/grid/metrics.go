package grid

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/beewatch/beewatch/internal/grid"

// Metrics holds the OpenTelemetry instruments for grid generation.
// A nil *Metrics records nothing.
type Metrics struct {
	cellsTotal       metric.Int64Counter
	generateDuration metric.Float64Histogram
	fallbackTotal    metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with initialized instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	cellsTotal, err := meter.Int64Counter(
		"grid.cells.total",
		metric.WithDescription("Number of grid cells processed by outcome"),
		metric.WithUnit("{cell}"),
	)
	if err != nil {
		return nil, err
	}

	generateDuration, err := meter.Float64Histogram(
		"grid.generate.duration",
		metric.WithDescription("Duration of grid generation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	fallbackTotal, err := meter.Int64Counter(
		"grid.fallback.total",
		metric.WithDescription("Number of requests served by the fallback provider"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cellsTotal:       cellsTotal,
		generateDuration: generateDuration,
		fallbackTotal:    fallbackTotal,
	}, nil
}

func (m *Metrics) recordCell(ctx context.Context, provider string, o outcome) {
	if m == nil {
		return
	}
	m.cellsTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("cell.outcome", o.String()),
	))
}

func (m *Metrics) recordGenerate(ctx context.Context, mode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("grid.mode", mode)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	m.generateDuration.Record(context.WithoutCancel(ctx), duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) recordFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.fallbackTotal.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("fallback.reason", reason),
	))
}
