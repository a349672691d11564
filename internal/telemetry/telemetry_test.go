package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: "jaeger"})
	assert.ErrorContains(t, err, "unknown trace exporter")
}

func TestInit_StdoutWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Exporter = ExporterStdout
	cfg.Writer = &buf

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "agent.run")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "agent.run")
}
