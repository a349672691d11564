// Package telemetry sets up OpenTelemetry tracing. Agent runs open one span
// each through Tracer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used across cellguard.
const InstrumentationName = "github.com/samijaber1/cellguard"

// Exporters.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config controls tracing.
type Config struct {
	ServiceName string
	Environment string
	// Exporter is "stdout" or "none".
	Exporter string
	// Writer receives stdout spans; defaults to os.Stdout.
	Writer io.Writer
}

// DefaultConfig returns tracing switched off.
func DefaultConfig() Config {
	return Config{
		ServiceName: "cellguard",
		Environment: "development",
		Exporter:    ExporterNone,
	}
}

// Init installs a global tracer provider. The returned shutdown flushes and
// stops it; it is safe to call when the exporter is "none".
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Exporter {
	case ExporterNone, "":
		return noop, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("init stdout exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

// Tracer returns the cellguard tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
