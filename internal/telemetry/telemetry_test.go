package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/roach88/allotment/internal/config"
	"github.com/roach88/allotment/internal/telemetry"
)

// restoreGlobals puts the previous global provider back after the test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := telemetry.Setup(context.Background(), config.Telemetry{Service: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetup_StdoutExportsSpans(t *testing.T) {
	restoreGlobals(t)
	var buf bytes.Buffer

	shutdown, err := telemetry.Setup(context.Background(),
		config.Telemetry{Endpoint: telemetry.EndpointStdout, Service: "allotment-test"},
		telemetry.WithWriter(&buf))
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(context.Background(), "allotTokens")
	span.End()

	// Shutdown flushes the batcher.
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"allotTokens"`)
	assert.Contains(t, buf.String(), "allotment-test")
}

func TestSetup_OTLPEndpoint(t *testing.T) {
	restoreGlobals(t)

	// Non-routable address so nothing is exported.
	shutdown, err := telemetry.Setup(context.Background(),
		config.Telemetry{Endpoint: "http://192.0.2.1:4318", Service: "allotment-test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
