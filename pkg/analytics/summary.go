package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// engagementDistributionQuery scores every active contact with the same
// weights as Score and buckets the results by level.
const engagementDistributionQuery = `
	WITH d AS (
		SELECT contact_id, COUNT(*) AS cnt, SUM(amount) AS total, BOOL_OR(is_recurring) AS recurring
		FROM donations
		WHERE payment_status = 'completed'
		GROUP BY contact_id
	), ev AS (
		SELECT contact_id,
			COUNT(*) AS regs,
			COUNT(*) FILTER (WHERE status IN ('confirmed', 'registered') AND checked_in) AS attended
		FROM event_registrations
		GROUP BY contact_id
	), vol AS (
		SELECT DISTINCT ON (v.contact_id) v.contact_id,
			(SELECT COALESCE(SUM(h.hours), 0) FROM volunteer_hours h WHERE h.volunteer_id = v.id) AS hours,
			(SELECT COUNT(*) FROM volunteer_assignments a WHERE a.volunteer_id = v.id AND a.status = 'completed') AS completed
		FROM volunteers v
		WHERE v.status = 'active'
		ORDER BY v.contact_id, v.created_at ASC
	), t AS (
		SELECT related_to_id AS contact_id,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed
		FROM tasks
		WHERE related_to_type = 'contact'
		GROUP BY related_to_id
	), scores AS (
		SELECT c.id, LEAST(100,
			LEAST(40,
				LEAST(15, COALESCE(d.cnt, 0) * 3)
				+ CASE WHEN COALESCE(d.recurring, false) THEN 15 ELSE 0 END
				+ LEAST(10, FLOOR(COALESCE(d.total, 0) / 1000)))
			+ LEAST(30,
				LEAST(15, COALESCE(ev.attended, 0) * 3)
				+ CASE WHEN COALESCE(ev.regs, 0) > 0 THEN LEAST(15, FLOOR(ev.attended::numeric / ev.regs * 15)) ELSE 0 END)
			+ LEAST(20,
				LEAST(10, FLOOR(COALESCE(vol.hours, 0) / 10))
				+ LEAST(10, COALESCE(vol.completed, 0) * 2))
			+ CASE WHEN COALESCE(t.total, 0) > 0 THEN FLOOR(t.completed::numeric / t.total * 10) ELSE 0 END
		) AS score
		FROM contacts c
		LEFT JOIN d ON d.contact_id = c.id
		LEFT JOIN ev ON ev.contact_id = c.id
		LEFT JOIN vol ON vol.contact_id = c.id
		LEFT JOIN t ON t.contact_id = c.id
		WHERE c.is_active
	)
	SELECT
		COUNT(*) FILTER (WHERE score >= 60),
		COUNT(*) FILTER (WHERE score >= 30 AND score < 60),
		COUNT(*) FILTER (WHERE score > 0 AND score < 30),
		COUNT(*) FILTER (WHERE score <= 0)
	FROM scores
`

// resolveRange defaults a zero range to year to date
func resolveRange(now time.Time, r SummaryRange) SummaryRange {
	now = now.UTC()
	if r.To.IsZero() {
		r.To = now
	}
	if r.From.IsZero() {
		r.From = time.Date(r.To.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return r
}

// GetSummary computes the organization-wide snapshot for r (year to date
// when r is zero).
func (e *Engine) GetSummary(ctx context.Context, r SummaryRange) (*OrganizationSummary, error) {
	r = resolveRange(e.now(), r)
	if !r.From.Before(r.To) {
		return nil, invalidInput("summary range start %s is not before end %s", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}

	ctx, span := e.startSpan(ctx, "summary")
	summary, err := e.summary(ctx, r)
	endSpan(span, err)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"from": r.From,
			"to":   r.To,
		}).WithContext(ctx).WithError(err).Error("organization summary failed")
		return nil, &ComputationError{What: "analytics summary", Cause: err}
	}
	return summary, nil
}

func (e *Engine) summary(ctx context.Context, r SummaryRange) (*OrganizationSummary, error) {
	now := e.now().UTC()
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	s := &OrganizationSummary{
		PeriodStart: r.From,
		PeriodEnd:   r.To,
		GeneratedAt: now,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM accounts`
		if err := e.db.QueryRowContext(gctx, query).Scan(&s.TotalAccounts, &s.ActiveAccounts); err != nil {
			return fmt.Errorf("accounts: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		query := `
			SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active), COUNT(*) FILTER (WHERE created_at >= $1)
			FROM contacts
		`
		if err := e.db.QueryRowContext(gctx, query, yearStart).Scan(&s.TotalContacts, &s.ActiveContacts, &s.NewContactsYTD); err != nil {
			return fmt.Errorf("contacts: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		query := `
			SELECT COUNT(*), COALESCE(SUM(amount), 0), COUNT(DISTINCT contact_id)
			FROM donations
			WHERE payment_status = 'completed'
			  AND donation_date >= $1
			  AND donation_date < $2
		`
		var total numeric
		if err := e.db.QueryRowContext(gctx, query, r.From, r.To).Scan(&s.DonationCount, &total, &s.UniqueDonors); err != nil {
			return fmt.Errorf("donations: %w", err)
		}
		s.DonationTotal = total.float()
		if s.DonationCount > 0 {
			s.AverageDonation = round2(s.DonationTotal / float64(s.DonationCount))
		}
		return nil
	})

	g.Go(func() error {
		query := `
			SELECT COUNT(DISTINCT e.id), COUNT(er.id), COUNT(er.id) FILTER (WHERE er.checked_in)
			FROM events e
			LEFT JOIN event_registrations er ON er.event_id = e.id
			WHERE e.start_date >= $1
			  AND e.start_date < $2
		`
		if err := e.db.QueryRowContext(gctx, query, r.From, r.To).Scan(&s.EventCount, &s.EventRegistrations, &s.EventAttendees); err != nil {
			return fmt.Errorf("events: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		query := `
			SELECT COALESCE(SUM(hours), 0), COUNT(DISTINCT volunteer_id)
			FROM volunteer_hours
			WHERE activity_date >= $1
			  AND activity_date < $2
		`
		var hours numeric
		if err := e.db.QueryRowContext(gctx, query, r.From, r.To).Scan(&hours, &s.ActiveVolunteers); err != nil {
			return fmt.Errorf("volunteer hours: %w", err)
		}
		s.VolunteerHours = hours.float()
		return nil
	})

	g.Go(func() error {
		dist := &s.EngagementDistribution
		if err := e.db.QueryRowContext(gctx, engagementDistributionQuery).Scan(&dist.High, &dist.Medium, &dist.Low, &dist.Inactive); err != nil {
			return fmt.Errorf("engagement distribution: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}
