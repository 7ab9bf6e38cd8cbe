package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/engage/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	report string
	hit    bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []recordedCall
	errors  map[string]int
	reports map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{errors: map[string]int{}, reports: map[string]int{}}
}

func (r *fakeRecorder) RecordCacheResult(report string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, recordedCall{report: report, hit: hit})
}

func (r *fakeRecorder) RecordCacheError(report, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[report+":"+op]++
}

func (r *fakeRecorder) RecordReport(report string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report]++
}

func (r *fakeRecorder) hits() (hits, misses int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.results {
		if c.hit {
			hits++
		} else {
			misses++
		}
	}
	return hits, misses
}

func newRedisBackedEngine(t *testing.T) (*CachedEngine, sqlmock.Sqlmock, *miniredis.Miniredis, *fakeRecorder) {
	t.Helper()

	engine, mock := newTestEngine(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	rec := newFakeRecorder()
	cached := NewCachedEngine(engine, cache.NewRedisCacheFromClient(client), WithRecorder(rec))
	return cached, mock, mr, rec
}

func expectDonationSeries(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(donationSeriesSQL).
		WillReturnRows(sqlmock.NewRows([]string{"period", "total"}).
			AddRow("2025-12", "100").
			AddRow("2026-01", "100").
			AddRow("2026-02", "100").
			AddRow("2026-03", "1000"))
}

func TestCachedEngine_TrendQueriedOnce(t *testing.T) {
	c, mock, mr, rec := newRedisBackedEngine(t)
	ctx := context.Background()
	expectDonationSeries(mock)

	first, err := c.GetTrendAnalysis(ctx, MetricDonations, 4)
	require.NoError(t, err)

	second, err := c.GetTrendAnalysis(ctx, MetricDonations, 4)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.True(t, mr.Exists("analytics:trend:donations:4:2026-03"))
	assert.Equal(t, time.Hour, mr.TTL("analytics:trend:donations:4:2026-03"))

	hits, misses := rec.hits()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, rec.reports[ReportTrend])
}

func TestCachedEngine_ExpiredEntryRecomputes(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	expectDonationSeries(mock)
	expectDonationSeries(mock)

	_, err := c.GetTimeSeries(ctx, MetricDonations, 4)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL("analytics:series:donations:4:2026-03"))

	mr.FastForward(11 * time.Minute)

	_, err = c.GetTimeSeries(ctx, MetricDonations, 4)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_DefaultWindowSharesKey(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	mock.ExpectQuery(donationSeriesSQL).WillReturnRows(sqlmock.NewRows([]string{"period", "total"}))

	_, err := c.GetTimeSeries(ctx, MetricDonations, 0)
	require.NoError(t, err)
	_, err = c.GetTimeSeries(ctx, MetricDonations, 12)
	require.NoError(t, err)

	assert.True(t, mr.Exists("analytics:series:donations:12:2026-03"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_AnomalyKeyIncludesSensitivity(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	expectDonationSeries(mock)
	expectDonationSeries(mock)

	_, err := c.GetAnomalyDetection(ctx, MetricDonations, 4, 0)
	require.NoError(t, err)
	_, err = c.GetAnomalyDetection(ctx, MetricDonations, 4, 2)
	require.NoError(t, err)
	_, err = c.GetAnomalyDetection(ctx, MetricDonations, 4, 1.5)
	require.NoError(t, err)

	assert.True(t, mr.Exists("analytics:anomaly:donations:4:2:2026-03"))
	assert.True(t, mr.Exists("analytics:anomaly:donations:4:1.5:2026-03"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_SummaryAndComparativeKeys(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	mock.MatchExpectationsInOrder(false)
	expectSummary(mock, utcDate(2026, 1, 1), testNow)

	cols := []string{"period", "total", "count"}
	mock.ExpectQuery(`FROM donations WHERE payment_status = 'completed' AND donation_date >= \$3`).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`FROM contacts WHERE created_at >= \$3`).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`FROM events WHERE start_date >= \$3`).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`FROM volunteer_hours WHERE activity_date >= \$3`).WillReturnRows(sqlmock.NewRows(cols))

	s1, err := c.GetSummary(ctx, SummaryRange{})
	require.NoError(t, err)
	s2, err := c.GetSummary(ctx, SummaryRange{})
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
	assert.True(t, mr.Exists("analytics:summary:ytd:2026"))
	assert.Equal(t, 5*time.Minute, mr.TTL("analytics:summary:ytd:2026"))

	_, err = c.GetComparativeAnalytics(ctx, PeriodMonth)
	require.NoError(t, err)
	_, err = c.GetComparativeAnalytics(ctx, PeriodMonth)
	require.NoError(t, err)
	assert.True(t, mr.Exists("analytics:comparative:month:2026-03"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_DegradesWhenCacheDown(t *testing.T) {
	c, mock, mr, rec := newRedisBackedEngine(t)
	ctx := context.Background()
	mr.Close()
	expectDonationSeries(mock)
	expectDonationSeries(mock)

	for i := 0; i < 2; i++ {
		analysis, err := c.GetTrendAnalysis(ctx, MetricDonations, 4)
		require.NoError(t, err)
		assert.Equal(t, TrendIncreasing, analysis.TrendDirection)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 2, rec.errors["trend:get"])
	assert.Equal(t, 2, rec.errors["trend:set"])
}

func TestCachedEngine_CorruptEntryIsRecomputed(t *testing.T) {
	c, mock, mr, rec := newRedisBackedEngine(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("analytics:series:donations:4:2026-03", "{not json"))
	expectDonationSeries(mock)

	series, err := c.GetTimeSeries(ctx, MetricDonations, 4)
	require.NoError(t, err)
	assert.Len(t, series, 4)
	assert.Equal(t, 1, rec.errors["series:decode"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_ErrorsAreNotCached(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	mock.ExpectQuery(donationSeriesSQL).WillReturnError(assert.AnError)
	expectDonationSeries(mock)

	_, err := c.GetTrendAnalysis(ctx, MetricDonations, 4)
	require.Error(t, err)
	assert.False(t, mr.Exists("analytics:trend:donations:4:2026-03"))

	_, err = c.GetTrendAnalysis(ctx, MetricDonations, 4)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_InvalidInputSkipsCache(t *testing.T) {
	c, _, _, rec := newRedisBackedEngine(t)
	ctx := context.Background()

	_, err := c.GetTrendAnalysis(ctx, "page_views", 4)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = c.GetComparativeAnalytics(ctx, "decade")
	assert.ErrorIs(t, err, ErrInvalidInput)

	hits, misses := rec.hits()
	assert.Zero(t, hits+misses)
}

func TestCachedEngine_ConcurrentMissesShareComputation(t *testing.T) {
	engine, mock := newTestEngine(t)
	c := NewCachedEngine(engine, cache.NewMemoryCache(100, time.Hour))
	mock.ExpectQuery(donationSeriesSQL).
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"period", "total"}).AddRow("2026-03", "10"))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetTimeSeries(context.Background(), MetricDonations, 3)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedEngine_EntityAnalyticsNotCached(t *testing.T) {
	c, mock, mr, rec := newRedisBackedEngine(t)
	ctx := context.Background()

	mock.ExpectQuery(contactExistsSQL).WillReturnRows(sqlmock.NewRows([]string{"name", "account_id"}))
	mock.ExpectQuery(accountExistsSQL).WillReturnRows(sqlmock.NewRows([]string{"name", "contacts"}))

	_, err := c.GetContactAnalytics(ctx, [16]byte{1})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.GetAccountAnalytics(ctx, [16]byte{2})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, mr.Keys())
	assert.Equal(t, 1, rec.reports[ReportContact])
	assert.Equal(t, 1, rec.reports[ReportAccount])
}

func TestCachedEngine_WarmAndInvalidate(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	mock.MatchExpectationsInOrder(false)
	expectSummary(mock, utcDate(2026, 1, 1), testNow)
	mock.ExpectQuery(donationSeriesSQL).WillReturnRows(sqlmock.NewRows([]string{"period", "total"}))
	mock.ExpectQuery(attendanceSeriesSQL).WillReturnRows(sqlmock.NewRows([]string{"period", "count"}))
	mock.ExpectQuery(hoursSeriesSQL).WillReturnRows(sqlmock.NewRows([]string{"period", "hours"}))

	require.NoError(t, c.Warm(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.True(t, mr.Exists("analytics:summary:ytd:2026"))
	for _, m := range Metrics {
		assert.True(t, mr.Exists("analytics:trend:"+string(m)+":12:2026-03"))
	}

	require.NoError(t, c.Invalidate(ctx, ReportTrend))
	assert.False(t, mr.Exists("analytics:trend:donations:12:2026-03"))
	assert.True(t, mr.Exists("analytics:summary:ytd:2026"))

	require.NoError(t, c.Invalidate(ctx))
	assert.Empty(t, mr.Keys())
}

func TestNewCachedEngine_NilStore(t *testing.T) {
	engine, mock := newTestEngine(t)
	c := NewCachedEngine(engine, nil, WithTTLs(TTLs{Summary: time.Minute}))
	expectDonationSeries(mock)
	expectDonationSeries(mock)

	assert.Equal(t, time.Minute, c.ttl.Summary)
	assert.Equal(t, time.Hour, c.ttl.Analysis)

	for i := 0; i < 2; i++ {
		_, err := c.GetTimeSeries(context.Background(), MetricDonations, 4)
		require.NoError(t, err)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Same(t, engine, c.Engine())
}

func TestCachedEngine_CancelledCallerDoesNotFailSharedComputation(t *testing.T) {
	engine, mock := newTestEngine(t)
	c := NewCachedEngine(engine, cache.NewMemoryCache(100, time.Hour))
	mock.ExpectQuery(donationSeriesSQL).
		WillDelayFor(300 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"period", "total"}).
			AddRow("2026-02", "100").
			AddRow("2026-03", "400"))

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var leaderErr, followerErr error
	var follower *TrendAnalysis

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, leaderErr = c.GetTrendAnalysis(leaderCtx, MetricDonations, 4)
	}()
	time.Sleep(50 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		follower, followerErr = c.GetTrendAnalysis(context.Background(), MetricDonations, 4)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.ErrorIs(t, leaderErr, context.Canceled)
	require.NoError(t, followerErr)
	assert.Len(t, follower.DataPoints, 4)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The shared result was still cached.
	cachedTrend, err := c.GetTrendAnalysis(context.Background(), MetricDonations, 4)
	require.NoError(t, err)
	assert.Equal(t, follower, cachedTrend)
}

func TestCachedEngine_WindowKeysRollOverWithMonth(t *testing.T) {
	c, mock, mr, _ := newRedisBackedEngine(t)
	ctx := context.Background()
	expectDonationSeries(mock)
	expectDonationSeries(mock)

	march, err := c.GetTimeSeries(ctx, MetricDonations, 4)
	require.NoError(t, err)
	assert.Equal(t, "2026-03", march[len(march)-1].Period)

	c.engine.now = func() time.Time { return time.Date(2026, time.April, 1, 0, 5, 0, 0, time.UTC) }

	april, err := c.GetTimeSeries(ctx, MetricDonations, 4)
	require.NoError(t, err)
	assert.Equal(t, "2026-04", april[len(april)-1].Period)

	assert.True(t, mr.Exists("analytics:series:donations:4:2026-03"))
	assert.True(t, mr.Exists("analytics:series:donations:4:2026-04"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
