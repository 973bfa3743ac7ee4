// Package telemetry installs the OpenTelemetry tracer provider used by the
// engine spans.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/roach88/allotment/internal/config"
)

// EndpointStdout selects the pretty-printing stdout exporter.
const EndpointStdout = "stdout"

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(context.Context) error

type options struct {
	writer io.Writer
}

// Option configures Setup.
type Option func(*options)

// WithWriter sets where the stdout exporter writes. Default: os.Stderr,
// so spans never mix with command output.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// Setup initialises tracing from cfg.
//
// An empty endpoint leaves the global no-op provider in place. "stdout"
// prints spans; any other value is an OTLP/HTTP collector URL.
//
// The returned shutdown function should be deferred by the caller.
func Setup(ctx context.Context, cfg config.Telemetry, opts ...Option) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop, nil
	}

	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.Endpoint == EndpointStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(o.writer))
	} else {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	}
	if err != nil {
		return noop, fmt.Errorf("create exporter: %w", err)
	}

	service := cfg.Service
	if service == "" {
		service = "allotment"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
