package observability

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), OTelConfig{Enabled: false}, quietLogger())
	assert.NoError(t, err)
	assert.Nil(t, tp)
}

func TestInitTracing_MissingEndpoint(t *testing.T) {
	tp, err := InitTracing(context.Background(), OTelConfig{Enabled: true}, quietLogger())
	assert.Error(t, err)
	assert.Nil(t, tp)
}

// OTLP exporters do not connect at creation time, so an unreachable
// collector still yields a provider.
func TestInitTracing_InstallsGlobalProvider(t *testing.T) {
	cfg := OTelConfig{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "engage-analytics",
		ServiceVersion: "test",
		Insecure:       true,
		SampleRatio:    0.5,
	}
	tp, err := InitTracing(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.Same(t, tp, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ShutdownTracing(ctx, tp, quietLogger())
}

func TestShutdownTracing_Nil(t *testing.T) {
	assert.NoError(t, ShutdownTracing(context.Background(), nil, quietLogger()))
}

func TestShutdownTracing_Provider(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	assert.NoError(t, ShutdownTracing(context.Background(), tp, quietLogger()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
