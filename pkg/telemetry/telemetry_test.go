package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_RequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "rovers"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewProvider_EmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()

	tp, err := NewProvider(exp, Config{ServiceName: "testsvc", ServiceVersion: "v0"})
	require.NoError(t, err)

	_, sp := Tracer(tp).Start(context.Background(), "rover.plan")
	sp.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Equal(t, "rover.plan", spans[0].Name)
	assert.Equal(t, InstrumentationName, spans[0].InstrumentationLibrary.Name)

	require.NotNil(t, spans[0].Resource)
	var name string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") {
			name = kv.Value.AsString()
		}
	}
	assert.Equal(t, "testsvc", name)
}

func TestTracer_NilUsesGlobal(t *testing.T) {
	tr := Tracer(nil)
	_, sp := tr.Start(context.Background(), "noop")
	defer sp.End()
	assert.NotNil(t, sp)
}
