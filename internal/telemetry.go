// Package internal contains the telemetry shared by every component of the runtime.
package internal

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/FerroO2000/pipert"

// Telemetry bundles the logger, the tracer and the meter of a component.
// The kind and the name of the component are attached to every record.
type Telemetry struct {
	kind string
	name string

	providers Providers

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	attrs metric.MeasurementOption
}

// Providers selects the OpenTelemetry providers of a component.
// A nil provider falls back to the global one.
type Providers struct {
	Meter  metric.MeterProvider
	Tracer trace.TracerProvider
}

func (p Providers) meter() metric.Meter {
	if p.Meter == nil {
		return otel.GetMeterProvider().Meter(instrumentationName)
	}
	return p.Meter.Meter(instrumentationName)
}

func (p Providers) tracer() trace.Tracer {
	if p.Tracer == nil {
		return otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return p.Tracer.Tracer(instrumentationName)
}

// NewTelemetry returns the telemetry for the given component.
// It uses the global tracer and meter providers.
func NewTelemetry(kind, name string) *Telemetry {
	return NewTelemetryWithProviders(kind, name, Providers{})
}

// NewTelemetryWithProviders returns the telemetry for the given component
// bound to the given providers.
func NewTelemetryWithProviders(kind, name string, providers Providers) *Telemetry {
	return &Telemetry{
		kind: kind,
		name: name,

		providers: providers,

		logger: slog.New(logHandler()).With("component_kind", kind, "component_name", name),
		tracer: providers.tracer(),
		meter:  providers.meter(),

		attrs: metric.WithAttributes(
			attribute.String("component_kind", kind),
			attribute.String("component_name", name),
		),
	}
}

// Providers returns the providers the telemetry is bound to.
func (t *Telemetry) Providers() Providers {
	return t.providers
}

// Name returns the name of the component.
func (t *Telemetry) Name() string {
	return t.name
}

// LogDebug logs a debug message.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.Debug(msg, args...)
}

// LogInfo logs an info message.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a warning message.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs an error message.
// The error is attached with the "error" key.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{"error", err}, args...)...)
}

// NewCounter registers an observable counter whose value is read from fn.
// Components sharing the counter name report distinct data points.
func (t *Telemetry) NewCounter(name string, fn func() int64) {
	counter, err := t.meter.Int64ObservableCounter(name)
	if err != nil {
		t.LogError("failed to create counter", err, "counter", name)
		return
	}

	t.observe(counter, fn)
}

// NewUpDownCounter registers an observable up/down counter whose value is read from fn.
func (t *Telemetry) NewUpDownCounter(name string, fn func() int64) {
	counter, err := t.meter.Int64ObservableUpDownCounter(name)
	if err != nil {
		t.LogError("failed to create up/down counter", err, "counter", name)
		return
	}

	t.observe(counter, fn)
}

func (t *Telemetry) observe(inst metric.Int64Observable, fn func() int64) {
	_, err := t.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(inst, fn(), t.attrs)
		return nil
	}, inst)

	if err != nil {
		t.LogError("failed to register callback", err)
	}
}

// Histogram is a synchronous histogram bound to the attributes of a component.
type Histogram struct {
	hist  metric.Float64Histogram
	attrs metric.MeasurementOption
}

// Record records a value into the histogram.
func (h *Histogram) Record(ctx context.Context, value float64) {
	if h.hist == nil {
		return
	}

	h.hist.Record(ctx, value, h.attrs)
}

// NewHistogram returns a new histogram.
func (t *Telemetry) NewHistogram(name string, opts ...metric.Float64HistogramOption) *Histogram {
	hist, err := t.meter.Float64Histogram(name, opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "histogram", name)
	}

	return &Histogram{
		hist:  hist,
		attrs: t.attrs,
	}
}

// NewTrace starts a new span.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("component_kind", t.kind),
			attribute.String("component_name", t.name),
		),
	)
}
