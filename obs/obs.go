// Package obs bootstraps OpenTelemetry tracing for the SympAI client.
// Applications that already manage their own tracer provider can skip
// Init entirely; the client falls back to the global provider.
package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sympai/sympai-go"

var (
	initOnce sync.Once
	provider *sdktrace.TracerProvider
)

// Options configures tracing setup.
type Options struct {
	// ServiceName overrides the reported service name.
	ServiceName string

	// Exporter overrides the span exporter. Defaults to a pretty-printed
	// stdout exporter, which is useful during development.
	Exporter sdktrace.SpanExporter

	// SampleRatio in (0, 1]. Defaults to 1.
	SampleRatio float64
}

// Init installs a global tracer provider. Safe to call once; later
// calls are no-ops.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	var initErr error
	initOnce.Do(func() {
		if opts.ServiceName == "" {
			opts.ServiceName = "sympai-client"
		}
		if opts.SampleRatio <= 0 || opts.SampleRatio > 1 {
			opts.SampleRatio = 1
		}

		exporter := opts.Exporter
		if exporter == nil {
			var err error
			exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
			if err != nil {
				initErr = err
				return
			}
		}

		res, err := resource.New(ctx,
			resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
		)
		if err != nil {
			initErr = err
			return
		}

		provider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(opts.SampleRatio)),
		)
		otel.SetTracerProvider(provider)
	})
	if initErr != nil {
		return nil, initErr
	}

	shutdown := func(ctx context.Context) error {
		if provider == nil {
			return nil
		}
		return provider.Shutdown(ctx)
	}
	return shutdown, nil
}

// Tracer returns the tracer used by the client packages.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
