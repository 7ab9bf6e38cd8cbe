package analytics

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/engage/pkg/analytics")

// Engine computes engagement analytics from the relational store. It holds
// no mutable state; every call computes an independent result.
type Engine struct {
	db       Querier
	log      logrus.FieldLogger
	now      func() time.Time
	defaults atomic.Pointer[Defaults]
}

// Defaults are applied to requests that leave the window or sensitivity
// unset. They can be swapped at runtime with SetDefaults.
type Defaults struct {
	Months      int
	Sensitivity float64
}

func (d Defaults) normalize() Defaults {
	if d.Months <= 0 {
		d.Months = DefaultMonths
	}
	if d.Sensitivity <= 0 || math.IsNaN(d.Sensitivity) {
		d.Sensitivity = DefaultSensitivity
	}
	return d
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger used for failure reporting
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the time source used for windows and periods
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaults sets the initial request defaults
func WithDefaults(d Defaults) Option {
	return func(e *Engine) {
		e.SetDefaults(d)
	}
}

// NewEngine creates a new analytics engine over db
func NewEngine(db Querier, opts ...Option) *Engine {
	e := &Engine{
		db:  db,
		log: logrus.New(),
		now: time.Now,
	}
	e.defaults.Store(&Defaults{Months: DefaultMonths, Sensitivity: DefaultSensitivity})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Defaults returns the current request defaults
func (e *Engine) Defaults() Defaults {
	return *e.defaults.Load()
}

// SetDefaults replaces the request defaults. Non-positive fields fall back
// to DefaultMonths and DefaultSensitivity.
func (e *Engine) SetDefaults(d Defaults) {
	d = d.normalize()
	e.defaults.Store(&d)
}

// months applies the default window to non-positive requests
func (e *Engine) months(months int) int {
	if months <= 0 {
		return e.Defaults().Months
	}
	return months
}

// sensitivity applies the default multiplier to non-positive requests
func (e *Engine) sensitivity(sensitivity float64) float64 {
	if sensitivity <= 0 || math.IsNaN(sensitivity) {
		return e.Defaults().Sensitivity
	}
	return sensitivity
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "analytics."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
