package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability exposes pipeline level instruments through the otel meter,
// exported on the same prometheus registry as the promauto vectors.
type Observability struct {
	meterProvider *metric.MeterProvider
	eventCounter  otelmetric.Int64Counter
	eventDuration otelmetric.Float64Histogram
	jobCounter    otelmetric.Int64Counter
}

func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	eventCounter, err := meter.Int64Counter(
		"alerts.events",
		otelmetric.WithDescription("Property change events handled"),
	)
	if err != nil {
		return nil, err
	}
	eventDuration, err := meter.Float64Histogram(
		"alerts.event.duration",
		otelmetric.WithDescription("End to end event handling time"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	jobCounter, err := meter.Int64Counter(
		"alerts.jobs",
		otelmetric.WithDescription("Notification jobs emitted"),
	)
	if err != nil {
		return nil, err
	}

	return &Observability{
		meterProvider: provider,
		eventCounter:  eventCounter,
		eventDuration: eventDuration,
		jobCounter:    jobCounter,
	}, nil
}

// Noop returns an instance whose recorders do nothing.
func Noop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordEvent(ctx context.Context, status string, duration time.Duration) {
	if o == nil || o.eventCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	o.eventCounter.Add(ctx, 1, attrs)
	o.eventDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *Observability) RecordJobs(ctx context.Context, channel string, n int) {
	if o == nil || o.jobCounter == nil || n == 0 {
		return
	}
	o.jobCounter.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("channel", channel)))
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	return o.meterProvider.Shutdown(ctx)
}
