package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Querier is the read-only slice of *sql.DB the engine needs. A connection
// manager that routes reads to replicas satisfies it too.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// numeric scans SQL NUMERIC values, which lib/pq hands over as text.
type numeric float64

func (n *numeric) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*n = 0
	case float64:
		*n = numeric(v)
	case float32:
		*n = numeric(v)
	case int64:
		*n = numeric(v)
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into numeric", src)
	}
	return nil
}

func (n *numeric) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric %q: %w", s, err)
	}
	*n = numeric(f)
	return nil
}

func (n numeric) float() float64 {
	return float64(n)
}

// round2 rounds to two decimals
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

const periodLayout = "2006-01"

// monthStart truncates t to the first instant of its month in UTC.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthWindow returns the first day of the oldest month and the YYYY-MM
// labels of the n months ending with the month containing now.
func monthWindow(now time.Time, n int) (time.Time, []string) {
	end := monthStart(now)
	start := end.AddDate(0, -(n - 1), 0)
	periods := make([]string, n)
	for i := 0; i < n; i++ {
		periods[i] = start.AddDate(0, i, 0).Format(periodLayout)
	}
	return start, periods
}

// gapFill returns one point per period, zero where values has no entry.
func gapFill(periods []string, values map[string]float64) []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, len(periods))
	for i, p := range periods {
		points[i] = TimeSeriesPoint{Period: p, Value: values[p]}
	}
	return points
}

// scanPeriodValues reads (period, value) rows into a map.
func scanPeriodValues(rows *sql.Rows) (map[string]float64, error) {
	defer rows.Close()

	values := make(map[string]float64)
	for rows.Next() {
		var period string
		var value numeric
		if err := rows.Scan(&period, &value); err != nil {
			return nil, err
		}
		values[period] = value.float()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
