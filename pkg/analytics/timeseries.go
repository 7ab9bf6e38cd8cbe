package analytics

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMonths is the window used when a caller asks for a non-positive one.
const DefaultMonths = 12

// seriesQueries holds the per-month aggregation for each metric. $1 is the
// first day of the oldest month in the window.
var seriesQueries = map[Metric]string{
	MetricDonations: `
		SELECT TO_CHAR(DATE_TRUNC('month', donation_date), 'YYYY-MM') AS period, COALESCE(SUM(amount), 0)
		FROM donations
		WHERE payment_status = 'completed'
		  AND donation_date >= $1
		GROUP BY 1
		ORDER BY 1
	`,
	MetricEventAttendance: `
		SELECT TO_CHAR(DATE_TRUNC('month', e.start_date), 'YYYY-MM') AS period, COUNT(*)
		FROM event_registrations er
		JOIN events e ON e.id = er.event_id
		WHERE er.status IN ('confirmed', 'registered')
		  AND er.checked_in
		  AND e.start_date >= $1
		GROUP BY 1
		ORDER BY 1
	`,
	MetricVolunteerHours: `
		SELECT TO_CHAR(DATE_TRUNC('month', activity_date), 'YYYY-MM') AS period, COALESCE(SUM(hours), 0)
		FROM volunteer_hours
		WHERE activity_date >= $1
		GROUP BY 1
		ORDER BY 1
	`,
}

// ParseMetric validates a metric name
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	if _, ok := seriesQueries[m]; !ok {
		return "", invalidInput("unknown metric %q", s)
	}
	return m, nil
}

// GetTimeSeries builds a gap-filled monthly series for metric over the last
// months calendar months, ending with the current month. A non-positive
// months uses the engine default.
func (e *Engine) GetTimeSeries(ctx context.Context, metric Metric, months int) ([]TimeSeriesPoint, error) {
	query, ok := seriesQueries[metric]
	if !ok {
		return nil, invalidInput("unknown metric %q", metric)
	}
	months = e.months(months)

	ctx, span := e.startSpan(ctx, "time_series",
		attribute.String("metric", string(metric)),
		attribute.Int("months", months),
	)
	points, err := e.buildSeries(ctx, query, months)
	endSpan(span, err)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"metric": metric,
			"months": months,
		}).WithContext(ctx).WithError(err).Error("time series aggregation failed")
		return nil, &ComputationError{What: fmt.Sprintf("%s trends", metric), Cause: err}
	}
	return points, nil
}

func (e *Engine) buildSeries(ctx context.Context, query string, months int) ([]TimeSeriesPoint, error) {
	start, periods := monthWindow(e.now(), months)

	rows, err := e.db.QueryContext(ctx, query, start)
	if err != nil {
		return nil, err
	}
	values, err := scanPeriodValues(rows)
	if err != nil {
		return nil, err
	}
	return gapFill(periods, values), nil
}

// GetDonationTrends is GetTimeSeries for monthly completed donation totals
func (e *Engine) GetDonationTrends(ctx context.Context, months int) ([]TimeSeriesPoint, error) {
	return e.GetTimeSeries(ctx, MetricDonations, months)
}

// GetEventAttendanceTrends is GetTimeSeries for monthly checked-in attendees
func (e *Engine) GetEventAttendanceTrends(ctx context.Context, months int) ([]TimeSeriesPoint, error) {
	return e.GetTimeSeries(ctx, MetricEventAttendance, months)
}

// GetVolunteerHoursTrends is GetTimeSeries for monthly logged volunteer hours
func (e *Engine) GetVolunteerHoursTrends(ctx context.Context, months int) ([]TimeSeriesPoint, error) {
	return e.GetTimeSeries(ctx, MetricVolunteerHours, months)
}
