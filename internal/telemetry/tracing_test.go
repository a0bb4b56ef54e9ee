package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/miradorstack/mirador-resilience/internal/config"
)

func TestInitTracingWithoutExporter(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{ServiceName: "test"}, "dev", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}
