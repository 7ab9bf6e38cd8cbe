package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("info", "json", &buf)
	require.NoError(t, err)

	log.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug should not be logged at info level")

	log.Info("info message")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "info message", entry["msg"])
}

func TestNewLogger_Formats(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := NewLogger("debug", "TEXT", &buf)
		require.NoError(t, err)

		log.WithField("metric", "donations").Debug("computed")
		assert.Contains(t, buf.String(), "metric=donations")
		assert.Contains(t, buf.String(), `msg=computed`)
	})

	t.Run("default is json", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := NewLogger("warn", "", &buf)
		require.NoError(t, err)
		assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
		assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := NewLogger("loud", "json", nil)
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := NewLogger("info", "xml", nil)
		assert.Error(t, err)
	})
}

func TestTraceHook(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("info", "json", &buf)
	require.NoError(t, err)

	t.Run("no context", func(t *testing.T) {
		buf.Reset()
		log.Info("plain")
		entry := decodeEntry(t, &buf)
		assert.NotContains(t, entry, "trace_id")
	})

	t.Run("context without span", func(t *testing.T) {
		buf.Reset()
		log.WithContext(context.Background()).Info("no span")
		entry := decodeEntry(t, &buf)
		assert.NotContains(t, entry, "trace_id")
	})

	t.Run("active span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "analytics.trend")
		defer span.End()

		buf.Reset()
		log.WithField("metric", "donations").WithContext(ctx).Error("trend analysis failed")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
		assert.Equal(t, "donations", entry["metric"])
	})
}

func TestTraceHook_Levels(t *testing.T) {
	assert.Equal(t, logrus.AllLevels, TraceHook{}.Levels())
}
