package main

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry owns the OpenTelemetry providers of the demo.
type telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

func isCollectorReachable(endpoint string) bool {
	conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// initTelemetry sets the global providers.
// It returns a nil telemetry if the collector is not reachable.
func initTelemetry(ctx context.Context, cfg *telemetryConfig, serviceName string) (*telemetry, error) {
	if !isCollectorReachable(cfg.GRPCEndpoint) {
		log.Print("WARNING: OpenTelemetry collector is not healthy or not reachable")
		return nil, nil
	}

	grpcConn, err := grpc.NewClient(cfg.GRPCEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tel := &telemetry{}

	// Trace
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(grpcConn))
	if err != nil {
		return nil, err
	}
	tel.tracerProvider = newTraceProvider(res, traceExporter, cfg.TraceRatio)
	otel.SetTracerProvider(tel.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Meter
	meterExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(grpcConn))
	if err != nil {
		return nil, err
	}
	tel.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(meterExporter, sdkmetric.WithInterval(time.Second)),
		),
	)
	otel.SetMeterProvider(tel.meterProvider)

	// Logs, consumed by the otelslog bridge of the runtime
	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.HTTPEndpoint),
		otlploghttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	tel.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	global.SetLoggerProvider(tel.loggerProvider)

	// Runtime
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return nil, err
	}

	return tel, nil
}

func newTraceProvider(res *resource.Resource, exporter *otlptrace.Exporter, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
}

// close shuts down the providers, flushing what is left.
func (t *telemetry) close(ctx context.Context) error {
	if t == nil {
		return nil
	}

	return errors.Join(
		t.tracerProvider.Shutdown(ctx),
		t.meterProvider.Shutdown(ctx),
		t.loggerProvider.Shutdown(ctx),
	)
}
