package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Providers bundles the meter and tracer providers installed for the
// daemon's lifetime. There is no OTLP exporter wired up: this spec has no
// external collector in scope. The meter provider has no reader
// registered and the tracer provider has no span processor, so counters
// are created and spans are started but neither is exported or read
// anywhere.
type Providers struct {
	Meter  metric.Meter
	Tracer trace.Tracer

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// Init installs meter and tracer providers scoped to the given
// instrumentation name (conventionally the daemon's component name, e.g.
// "schedulerd/taskmanager").
func Init(instrumentationName string) *Providers {
	mp := sdkmetric.NewMeterProvider()
	tp := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return &Providers{
		Meter:          mp.Meter(instrumentationName),
		Tracer:         tp.Tracer(instrumentationName),
		meterProvider:  mp,
		tracerProvider: tp,
	}
}

// Shutdown flushes and stops both providers. Call during daemon shutdown
// after draining running tasks.
func (p *Providers) Shutdown() {
	ctx := context.Background()
	_ = p.tracerProvider.Shutdown(ctx)
	_ = p.meterProvider.Shutdown(ctx)
}
