package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by the turn pipeline.
const TracerName = "github.com/adpilot-ai/adpilot"

// InitTracing installs a tracer provider. With stdout enabled, finished
// spans are pretty-printed for local debugging; otherwise spans are recorded
// but not exported. The returned shutdown func flushes the exporter.
func InitTracing(stdout bool) (func(context.Context) error, error) {
	var opts []sdktrace.TracerProviderOption
	if stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the pipeline tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
