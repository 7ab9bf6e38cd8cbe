package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/engage/pkg/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Reports is the read surface shared by Engine and CachedEngine.
type Reports interface {
	GetTimeSeries(ctx context.Context, metric Metric, months int) ([]TimeSeriesPoint, error)
	GetTrendAnalysis(ctx context.Context, metric Metric, months int) (*TrendAnalysis, error)
	GetAnomalyDetection(ctx context.Context, metric Metric, months int, sensitivity float64) (*AnomalyDetectionResult, error)
	GetComparativeAnalytics(ctx context.Context, periodType PeriodType) (*ComparativeAnalytics, error)
	GetSummary(ctx context.Context, r SummaryRange) (*OrganizationSummary, error)
	GetContactAnalytics(ctx context.Context, contactID uuid.UUID) (*ContactAnalytics, error)
	GetAccountAnalytics(ctx context.Context, accountID uuid.UUID) (*AccountAnalytics, error)
}

var (
	_ Reports = (*Engine)(nil)
	_ Reports = (*CachedEngine)(nil)
)

// Report names used in cache keys and metrics labels.
const (
	ReportSeries      = "series"
	ReportTrend       = "trend"
	ReportAnomaly     = "anomaly"
	ReportComparative = "comparative"
	ReportSummary     = "summary"
	ReportContact     = "contact"
	ReportAccount     = "account"
)

// TTLs bounds how long each kind of report may be served from cache.
type TTLs struct {
	Series   time.Duration
	Analysis time.Duration
	Summary  time.Duration
}

// DefaultTTLs returns the standard report lifetimes
func DefaultTTLs() TTLs {
	return TTLs{
		Series:   10 * time.Minute,
		Analysis: time.Hour,
		Summary:  5 * time.Minute,
	}
}

// Recorder receives cache and report instrumentation.
type Recorder interface {
	RecordCacheResult(report string, hit bool)
	RecordCacheError(report, op string)
	RecordReport(report string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheResult(string, bool) {}
func (nopRecorder) RecordCacheError(string, string) {}
func (nopRecorder) RecordReport(string, time.Duration, error) {}

// CachedEngine serves reports through a read-through cache in front of an
// Engine. Cache failures are logged and treated as misses. Concurrent misses
// for one key within the process share a single computation, so callers must
// treat returned reports as read-only.
type CachedEngine struct {
	engine  *Engine
	cache   cache.Cache
	ttl     TTLs
	metrics Recorder
	log     logrus.FieldLogger
	group   singleflight.Group
}

// CachedOption configures a CachedEngine
type CachedOption func(*CachedEngine)

// WithTTLs overrides the report lifetimes. Zero fields keep their default.
func WithTTLs(ttl TTLs) CachedOption {
	return func(c *CachedEngine) {
		if ttl.Series > 0 {
			c.ttl.Series = ttl.Series
		}
		if ttl.Analysis > 0 {
			c.ttl.Analysis = ttl.Analysis
		}
		if ttl.Summary > 0 {
			c.ttl.Summary = ttl.Summary
		}
	}
}

// WithRecorder sets the instrumentation sink
func WithRecorder(r Recorder) CachedOption {
	return func(c *CachedEngine) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithCacheLogger sets the logger used for degraded cache operations
func WithCacheLogger(log logrus.FieldLogger) CachedOption {
	return func(c *CachedEngine) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCachedEngine wraps engine with store. A nil store disables caching.
func NewCachedEngine(engine *Engine, store cache.Cache, opts ...CachedOption) *CachedEngine {
	if store == nil {
		store = cache.Nop{}
	}
	c := &CachedEngine{
		engine:  engine,
		cache:   store,
		ttl:     DefaultTTLs(),
		metrics: nopRecorder{},
		log:     engine.log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the wrapped engine
func (c *CachedEngine) Engine() *Engine {
	return c.engine
}

func cacheKey(report string, params ...string) string {
	key := "analytics:" + report
	for _, p := range params {
		key += ":" + p
	}
	return key
}

func sensitivityParam(s float64) string {
	return strconv.FormatFloat(s, 'g', -1, 64)
}

// cached returns the report stored under key or computes, stores and returns
// it.
func cached[T any](ctx context.Context, c *CachedEngine, report, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, c, report, key); ok {
		return v, nil
	}
	return refresh(ctx, c, report, key, ttl, compute)
}

func lookup[T any](ctx context.Context, c *CachedEngine, report, key string) (T, bool) {
	var v T
	data, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &v); err == nil {
			c.metrics.RecordCacheResult(report, true)
			return v, true
		}
		c.log.WithField("key", key).WithError(err).Warn("discarding undecodable cache entry")
		c.metrics.RecordCacheError(report, "decode")
		_ = c.cache.Delete(ctx, key)
	case !errors.Is(err, cache.ErrCacheMiss):
		c.log.WithField("key", key).WithError(err).Warn("cache read failed")
		c.metrics.RecordCacheError(report, "get")
	}
	c.metrics.RecordCacheResult(report, false)
	return v, false
}

// refresh computes the report and overwrites the cache entry, collapsing
// concurrent calls for the same key. The shared computation is detached from
// any one caller's cancellation; a caller whose ctx ends stops waiting alone.
func refresh[T any](ctx context.Context, c *CachedEngine, report, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	ch := c.group.DoChan(key, func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		start := time.Now()
		v, err := compute(shared)
		c.metrics.RecordReport(report, time.Since(start), err)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(v)
		if err != nil {
			c.log.WithField("key", key).WithError(err).Warn("cache encode failed")
			c.metrics.RecordCacheError(report, "encode")
			return v, nil
		}
		if err := c.cache.Set(shared, key, data, ttl); err != nil {
			c.log.WithField("key", key).WithError(err).Warn("cache write failed")
			c.metrics.RecordCacheError(report, "set")
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// currentMonth labels window keys so a cached series never outlives the
// month it ends in.
func (c *CachedEngine) currentMonth() string {
	return monthStart(c.engine.now()).Format(periodLayout)
}

func (c *CachedEngine) seriesKey(metric Metric, months int) string {
	return cacheKey(ReportSeries, string(metric), strconv.Itoa(c.engine.months(months)), c.currentMonth())
}

func (c *CachedEngine) trendKey(metric Metric, months int) string {
	return cacheKey(ReportTrend, string(metric), strconv.Itoa(c.engine.months(months)), c.currentMonth())
}

func (c *CachedEngine) anomalyKey(metric Metric, months int, sensitivity float64) string {
	return cacheKey(ReportAnomaly, string(metric), strconv.Itoa(c.engine.months(months)),
		sensitivityParam(c.engine.sensitivity(sensitivity)), c.currentMonth())
}

// summaryKey pins a year-to-date request to its year so the key is stable
// while the range end moves with the clock.
func (c *CachedEngine) summaryKey(r SummaryRange) string {
	if r.From.IsZero() && r.To.IsZero() {
		return cacheKey(ReportSummary, "ytd", strconv.Itoa(c.engine.now().UTC().Year()))
	}
	r = resolveRange(c.engine.now(), r)
	return cacheKey(ReportSummary, r.From.UTC().Format(time.RFC3339), r.To.UTC().Format(time.RFC3339))
}

// GetTimeSeries returns the cached monthly series for metric
func (c *CachedEngine) GetTimeSeries(ctx context.Context, metric Metric, months int) ([]TimeSeriesPoint, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return cached(ctx, c, ReportSeries, c.seriesKey(metric, months), c.ttl.Series,
		func(ctx context.Context) ([]TimeSeriesPoint, error) {
			return c.engine.GetTimeSeries(ctx, metric, months)
		})
}

// GetTrendAnalysis returns the cached trend analysis for metric
func (c *CachedEngine) GetTrendAnalysis(ctx context.Context, metric Metric, months int) (*TrendAnalysis, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return cached(ctx, c, ReportTrend, c.trendKey(metric, months), c.ttl.Analysis,
		func(ctx context.Context) (*TrendAnalysis, error) {
			return c.engine.GetTrendAnalysis(ctx, metric, months)
		})
}

// GetAnomalyDetection returns the cached anomaly detection for metric
func (c *CachedEngine) GetAnomalyDetection(ctx context.Context, metric Metric, months int, sensitivity float64) (*AnomalyDetectionResult, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return cached(ctx, c, ReportAnomaly, c.anomalyKey(metric, months, sensitivity), c.ttl.Analysis,
		func(ctx context.Context) (*AnomalyDetectionResult, error) {
			return c.engine.GetAnomalyDetection(ctx, metric, months, sensitivity)
		})
}

// GetComparativeAnalytics returns the cached comparison for periodType. The
// key carries the current period label so it rolls over with the calendar.
func (c *CachedEngine) GetComparativeAnalytics(ctx context.Context, periodType PeriodType) (*ComparativeAnalytics, error) {
	current, _, err := PeriodBounds(c.engine.now(), periodType)
	if err != nil {
		return nil, err
	}
	key := cacheKey(ReportComparative, string(periodType), current.Label)
	return cached(ctx, c, ReportComparative, key, c.ttl.Analysis,
		func(ctx context.Context) (*ComparativeAnalytics, error) {
			return c.engine.GetComparativeAnalytics(ctx, periodType)
		})
}

// GetSummary returns the cached organization summary for r
func (c *CachedEngine) GetSummary(ctx context.Context, r SummaryRange) (*OrganizationSummary, error) {
	return cached(ctx, c, ReportSummary, c.summaryKey(r), c.ttl.Summary,
		func(ctx context.Context) (*OrganizationSummary, error) {
			return c.engine.GetSummary(ctx, r)
		})
}

// GetContactAnalytics is not cached
func (c *CachedEngine) GetContactAnalytics(ctx context.Context, contactID uuid.UUID) (*ContactAnalytics, error) {
	start := time.Now()
	result, err := c.engine.GetContactAnalytics(ctx, contactID)
	c.metrics.RecordReport(ReportContact, time.Since(start), err)
	return result, err
}

// GetAccountAnalytics is not cached
func (c *CachedEngine) GetAccountAnalytics(ctx context.Context, accountID uuid.UUID) (*AccountAnalytics, error) {
	start := time.Now()
	result, err := c.engine.GetAccountAnalytics(ctx, accountID)
	c.metrics.RecordReport(ReportAccount, time.Since(start), err)
	return result, err
}

// Warm recomputes the year-to-date summary and the default-window trend
// analysis of every metric, overwriting their cache entries.
func (c *CachedEngine) Warm(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := refresh(gctx, c, ReportSummary, c.summaryKey(SummaryRange{}), c.ttl.Summary,
			func(ctx context.Context) (*OrganizationSummary, error) {
				return c.engine.GetSummary(ctx, SummaryRange{})
			})
		return err
	})
	for _, metric := range Metrics {
		g.Go(func() error {
			_, err := refresh(gctx, c, ReportTrend, c.trendKey(metric, 0), c.ttl.Analysis,
				func(ctx context.Context) (*TrendAnalysis, error) {
					return c.engine.GetTrendAnalysis(ctx, metric, 0)
				})
			if err != nil {
				return fmt.Errorf("warm %s trend: %w", metric, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Invalidate drops every cached entry of the given reports, or of all
// reports when none are named.
func (c *CachedEngine) Invalidate(ctx context.Context, reports ...string) error {
	if len(reports) == 0 {
		return c.cache.InvalidatePattern(ctx, cacheKey("*"))
	}
	var errs []error
	for _, report := range reports {
		if err := c.cache.InvalidatePattern(ctx, cacheKey(report, "*")); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", report, err))
		}
	}
	return errors.Join(errs...)
}
