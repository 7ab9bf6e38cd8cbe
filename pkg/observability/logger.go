package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Log output formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// NewLogger creates the process logger. Entries logged WithContext carry the
// trace and span ids of the active span.
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if out == nil {
		out = os.Stderr
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", LogFormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case LogFormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	log.AddHook(TraceHook{})
	return log, nil
}

// TraceHook adds trace_id and span_id to entries whose context holds a valid
// span context.
type TraceHook struct{}

// Levels implements logrus.Hook
func (TraceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (TraceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}
