package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// stableChangePercent is the |change %| band reported as stable.
const stableChangePercent = 5.0

// ParsePeriodType validates a period type
func ParsePeriodType(s string) (PeriodType, error) {
	switch p := PeriodType(s); p {
	case PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	default:
		return "", invalidInput("unknown period type %q", s)
	}
}

// PeriodBounds returns the calendar-aligned current period containing now and
// the period immediately before it. Ranges are half-open [Start, End).
func PeriodBounds(now time.Time, periodType PeriodType) (current, previous PeriodRange, err error) {
	now = now.UTC()
	switch periodType {
	case PeriodMonth:
		start := monthStart(now)
		prevStart := start.AddDate(0, -1, 0)
		current = PeriodRange{Label: start.Format(periodLayout), Start: start, End: start.AddDate(0, 1, 0)}
		previous = PeriodRange{Label: prevStart.Format(periodLayout), Start: prevStart, End: start}
	case PeriodQuarter:
		firstMonth := time.Month((int(now.Month())-1)/3*3 + 1)
		start := time.Date(now.Year(), firstMonth, 1, 0, 0, 0, 0, time.UTC)
		prevStart := start.AddDate(0, -3, 0)
		current = PeriodRange{Label: quarterLabel(start), Start: start, End: start.AddDate(0, 3, 0)}
		previous = PeriodRange{Label: quarterLabel(prevStart), Start: prevStart, End: start}
	case PeriodYear:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		prevStart := start.AddDate(-1, 0, 0)
		current = PeriodRange{Label: start.Format("2006"), Start: start, End: start.AddDate(1, 0, 0)}
		previous = PeriodRange{Label: prevStart.Format("2006"), Start: prevStart, End: start}
	default:
		return PeriodRange{}, PeriodRange{}, invalidInput("unknown period type %q", periodType)
	}
	return current, previous, nil
}

func quarterLabel(start time.Time) string {
	return fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1)
}

// Compare builds a PeriodComparison from two period values
func Compare(current, previous float64) PeriodComparison {
	change := current - previous
	var changePercent float64
	if previous != 0 {
		changePercent = round2(change / previous * 100)
	}

	trend := ComparisonStable
	if math.Abs(changePercent) > stableChangePercent {
		if changePercent > 0 {
			trend = ComparisonUp
		} else {
			trend = ComparisonDown
		}
	}

	return PeriodComparison{
		Current:       round2(current),
		Previous:      round2(previous),
		Change:        round2(change),
		ChangePercent: changePercent,
		Trend:         trend,
	}
}

// periodTotals is the (sum, count) of one tagged period.
type periodTotals struct {
	Total float64
	Count int64
}

// Each query tags rows 'current' or 'previous' in a single pass. $1/$2 bound
// the current period, $3 is the start of the previous one.
const (
	comparativeDonationsQuery = `
		SELECT
			CASE WHEN donation_date >= $1 AND donation_date < $2 THEN 'current' ELSE 'previous' END AS period,
			COALESCE(SUM(amount), 0),
			COUNT(*)
		FROM donations
		WHERE payment_status = 'completed'
		  AND donation_date >= $3
		  AND donation_date < $2
		GROUP BY 1
	`
	comparativeContactsQuery = `
		SELECT
			CASE WHEN created_at >= $1 AND created_at < $2 THEN 'current' ELSE 'previous' END AS period,
			COUNT(*),
			COUNT(*)
		FROM contacts
		WHERE created_at >= $3
		  AND created_at < $2
		GROUP BY 1
	`
	comparativeEventsQuery = `
		SELECT
			CASE WHEN start_date >= $1 AND start_date < $2 THEN 'current' ELSE 'previous' END AS period,
			COUNT(*),
			COUNT(*)
		FROM events
		WHERE start_date >= $3
		  AND start_date < $2
		GROUP BY 1
	`
	comparativeVolunteerHoursQuery = `
		SELECT
			CASE WHEN activity_date >= $1 AND activity_date < $2 THEN 'current' ELSE 'previous' END AS period,
			COALESCE(SUM(hours), 0),
			COUNT(*)
		FROM volunteer_hours
		WHERE activity_date >= $3
		  AND activity_date < $2
		GROUP BY 1
	`
)

func (e *Engine) taggedTotals(ctx context.Context, query string, current, previous PeriodRange) (cur, prev periodTotals, err error) {
	rows, err := e.db.QueryContext(ctx, query, current.Start, current.End, previous.Start)
	if err != nil {
		return cur, prev, err
	}
	defer rows.Close()

	for rows.Next() {
		var tag string
		var total numeric
		var count int64
		if err := rows.Scan(&tag, &total, &count); err != nil {
			return cur, prev, err
		}
		switch tag {
		case "current":
			cur = periodTotals{Total: total.float(), Count: count}
		case "previous":
			prev = periodTotals{Total: total.float(), Count: count}
		}
	}
	return cur, prev, rows.Err()
}

// GetComparativeAnalytics compares the current calendar period with the
// previous one across donations, new contacts, events and volunteer hours.
func (e *Engine) GetComparativeAnalytics(ctx context.Context, periodType PeriodType) (*ComparativeAnalytics, error) {
	current, previous, err := PeriodBounds(e.now(), periodType)
	if err != nil {
		return nil, err
	}

	ctx, span := e.startSpan(ctx, "comparative", attribute.String("period_type", string(periodType)))
	result, err := e.compare(ctx, periodType, current, previous)
	endSpan(span, err)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"period_type": periodType,
			"current":     current.Label,
			"previous":    previous.Label,
		}).WithContext(ctx).WithError(err).Error("comparative analytics failed")
		return nil, &ComputationError{What: "comparative analytics", Cause: err}
	}
	return result, nil
}

func (e *Engine) compare(ctx context.Context, periodType PeriodType, current, previous PeriodRange) (*ComparativeAnalytics, error) {
	var donCur, donPrev, conCur, conPrev, evCur, evPrev, volCur, volPrev periodTotals

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		donCur, donPrev, err = e.taggedTotals(gctx, comparativeDonationsQuery, current, previous)
		if err != nil {
			return fmt.Errorf("donations: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		conCur, conPrev, err = e.taggedTotals(gctx, comparativeContactsQuery, current, previous)
		if err != nil {
			return fmt.Errorf("contacts: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		evCur, evPrev, err = e.taggedTotals(gctx, comparativeEventsQuery, current, previous)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		volCur, volPrev, err = e.taggedTotals(gctx, comparativeVolunteerHoursQuery, current, previous)
		if err != nil {
			return fmt.Errorf("volunteer hours: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ComparativeAnalytics{
		PeriodType:      periodType,
		CurrentPeriod:   current,
		PreviousPeriod:  previous,
		DonationTotal:   Compare(donCur.Total, donPrev.Total),
		DonationCount:   Compare(float64(donCur.Count), float64(donPrev.Count)),
		AverageDonation: Compare(average(donCur), average(donPrev)),
		NewContacts:     Compare(float64(conCur.Count), float64(conPrev.Count)),
		Events:          Compare(float64(evCur.Count), float64(evPrev.Count)),
		VolunteerHours:  Compare(volCur.Total, volPrev.Total),
	}, nil
}

func average(t periodTotals) float64 {
	if t.Count == 0 {
		return 0
	}
	return t.Total / float64(t.Count)
}
