package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const recentLimit = 5

// Task status buckets. Anything else is counted as pending.
var taskStatuses = []string{"pending", "in_progress", "completed", "cancelled"}

// Task priority buckets. Anything else is counted as medium.
var taskPriorities = []string{"low", "medium", "high", "urgent"}

// donationColumn returns the donations column linking to the entity.
func donationColumn(entityType EntityType) string {
	if entityType == EntityAccount {
		return "account_id"
	}
	return "contact_id"
}

// registrationFilter returns the event_registrations predicate for the entity.
// Accounts reach registrations through every contact under them.
func registrationFilter(entityType EntityType) string {
	if entityType == EntityAccount {
		return "er.contact_id IN (SELECT id FROM contacts WHERE account_id = $1)"
	}
	return "er.contact_id = $1"
}

func (e *Engine) collectorFailure(ctx context.Context, metric string, entityType EntityType, entityID uuid.UUID, err error) error {
	e.log.WithFields(logrus.Fields{
		"entity_type": entityType,
		"entity_id":   entityID,
		"metric":      metric,
	}).WithContext(ctx).WithError(err).Error("metric collection failed")
	return &ComputationError{What: metric + " metrics", Cause: err}
}

// GetDonationMetrics aggregates completed donations of an account or contact
func (e *Engine) GetDonationMetrics(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*DonationMetrics, error) {
	if !entityType.Valid() {
		return nil, invalidInput("unknown entity type %q", entityType)
	}
	ctx, span := e.startSpan(ctx, "donation_metrics", attribute.String("entity_type", string(entityType)))
	m, err := e.collectDonations(ctx, entityType, entityID)
	endSpan(span, err)
	if err != nil {
		return nil, e.collectorFailure(ctx, "donation", entityType, entityID, err)
	}
	return m, nil
}

func (e *Engine) collectDonations(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*DonationMetrics, error) {
	column := donationColumn(entityType)
	m := &DonationMetrics{
		ByPaymentMethod: []Breakdown{},
		ByYear:          []YearlyTotal{},
		RecentDonations: []DonationSummary{},
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COALESCE(AVG(amount), 0),
			MIN(donation_date),
			MAX(donation_date),
			COALESCE(MAX(amount), 0),
			COUNT(*) FILTER (WHERE is_recurring),
			COALESCE(SUM(amount) FILTER (WHERE is_recurring), 0)
		FROM donations
		WHERE %s = $1
		  AND payment_status = 'completed'
	`, column)

	var total, avg, largest, recurringTotal numeric
	var first, last sql.NullTime
	err := e.db.QueryRowContext(ctx, query, entityID).Scan(
		&m.DonationCount,
		&total,
		&avg,
		&first,
		&last,
		&largest,
		&m.RecurringCount,
		&recurringTotal,
	)
	if err != nil {
		return nil, fmt.Errorf("donation totals: %w", err)
	}
	m.TotalAmount = total.float()
	m.AverageAmount = round2(avg.float())
	m.LargestDonation = largest.float()
	m.RecurringTotal = recurringTotal.float()
	if first.Valid {
		m.FirstDonationDate = &first.Time
	}
	if last.Valid {
		m.LastDonationDate = &last.Time
	}

	// By payment method
	query = fmt.Sprintf(`
		SELECT COALESCE(payment_method, 'unknown'), COUNT(*), COALESCE(SUM(amount), 0)
		FROM donations
		WHERE %s = $1
		  AND payment_status = 'completed'
		GROUP BY 1
		ORDER BY 3 DESC
	`, column)
	rows, err := e.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("donations by payment method: %w", err)
	}
	m.ByPaymentMethod, err = scanBreakdowns(rows)
	if err != nil {
		return nil, fmt.Errorf("donations by payment method: %w", err)
	}

	// By calendar year
	query = fmt.Sprintf(`
		SELECT EXTRACT(YEAR FROM donation_date)::int, COUNT(*), COALESCE(SUM(amount), 0)
		FROM donations
		WHERE %s = $1
		  AND payment_status = 'completed'
		GROUP BY 1
		ORDER BY 1 DESC
		LIMIT 5
	`, column)
	rows, err = e.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("donations by year: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var y YearlyTotal
		var sum numeric
		if err := rows.Scan(&y.Year, &y.Count, &sum); err != nil {
			return nil, fmt.Errorf("donations by year: %w", err)
		}
		y.Total = sum.float()
		m.ByYear = append(m.ByYear, y)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("donations by year: %w", err)
	}

	// Recent donations
	query = fmt.Sprintf(`
		SELECT id, amount, donation_date, COALESCE(payment_method, ''), is_recurring
		FROM donations
		WHERE %s = $1
		  AND payment_status = 'completed'
		ORDER BY donation_date DESC
		LIMIT %d
	`, column, recentLimit)
	recent, err := e.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("recent donations: %w", err)
	}
	defer recent.Close()
	for recent.Next() {
		var d DonationSummary
		var amount numeric
		if err := recent.Scan(&d.ID, &amount, &d.Date, &d.PaymentMethod, &d.IsRecurring); err != nil {
			return nil, fmt.Errorf("recent donations: %w", err)
		}
		d.Amount = amount.float()
		m.RecentDonations = append(m.RecentDonations, d)
	}
	if err := recent.Err(); err != nil {
		return nil, fmt.Errorf("recent donations: %w", err)
	}

	return m, nil
}

// GetEventMetrics aggregates event registrations of an account or contact
func (e *Engine) GetEventMetrics(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*EventMetrics, error) {
	if !entityType.Valid() {
		return nil, invalidInput("unknown entity type %q", entityType)
	}
	ctx, span := e.startSpan(ctx, "event_metrics", attribute.String("entity_type", string(entityType)))
	m, err := e.collectEvents(ctx, entityType, entityID)
	endSpan(span, err)
	if err != nil {
		return nil, e.collectorFailure(ctx, "event", entityType, entityID, err)
	}
	return m, nil
}

func (e *Engine) collectEvents(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*EventMetrics, error) {
	filter := registrationFilter(entityType)
	m := &EventMetrics{
		ByEventType:  []Breakdown{},
		RecentEvents: []EventSummary{},
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE er.status IN ('confirmed', 'registered') AND er.checked_in),
			COUNT(*) FILTER (WHERE er.status IN ('confirmed', 'registered') AND NOT er.checked_in AND e.start_date < $2)
		FROM event_registrations er
		JOIN events e ON e.id = er.event_id
		WHERE %s
	`, filter)
	err := e.db.QueryRowContext(ctx, query, entityID, e.now().UTC()).Scan(
		&m.TotalRegistrations,
		&m.EventsAttended,
		&m.NoShows,
	)
	if err != nil {
		return nil, fmt.Errorf("event totals: %w", err)
	}
	if m.TotalRegistrations > 0 {
		m.AttendanceRate = float64(m.EventsAttended) / float64(m.TotalRegistrations)
	}

	// By event type; Total holds the attended count
	query = fmt.Sprintf(`
		SELECT
			COALESCE(e.event_type, 'other'),
			COUNT(*),
			COUNT(*) FILTER (WHERE er.status IN ('confirmed', 'registered') AND er.checked_in)
		FROM event_registrations er
		JOIN events e ON e.id = er.event_id
		WHERE %s
		GROUP BY 1
		ORDER BY 2 DESC
	`, filter)
	rows, err := e.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("events by type: %w", err)
	}
	m.ByEventType, err = scanBreakdowns(rows)
	if err != nil {
		return nil, fmt.Errorf("events by type: %w", err)
	}

	// Recent events
	query = fmt.Sprintf(`
		SELECT e.id, e.name, COALESCE(e.event_type, ''), e.start_date, er.status, er.checked_in
		FROM event_registrations er
		JOIN events e ON e.id = er.event_id
		WHERE %s
		ORDER BY e.start_date DESC
		LIMIT %d
	`, filter, recentLimit)
	recent, err := e.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer recent.Close()
	for recent.Next() {
		var ev EventSummary
		if err := recent.Scan(&ev.EventID, &ev.Name, &ev.EventType, &ev.StartDate, &ev.Status, &ev.CheckedIn); err != nil {
			return nil, fmt.Errorf("recent events: %w", err)
		}
		m.RecentEvents = append(m.RecentEvents, ev)
	}
	if err := recent.Err(); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	return m, nil
}

// GetVolunteerMetrics aggregates the active volunteer record of a contact.
// A contact without one yields NoVolunteer(), not a zero-valued record.
func (e *Engine) GetVolunteerMetrics(ctx context.Context, contactID uuid.UUID) (OptionalVolunteerMetrics, error) {
	ctx, span := e.startSpan(ctx, "volunteer_metrics")
	m, err := e.collectVolunteer(ctx, contactID)
	endSpan(span, err)
	if err != nil {
		return NoVolunteer(), e.collectorFailure(ctx, "volunteer", EntityContact, contactID, err)
	}
	return m, nil
}

func (e *Engine) collectVolunteer(ctx context.Context, contactID uuid.UUID) (OptionalVolunteerMetrics, error) {
	var m VolunteerMetrics
	var skills pq.StringArray

	query := `
		SELECT id, status, skills, created_at
		FROM volunteers
		WHERE contact_id = $1
		  AND status = 'active'
		ORDER BY created_at ASC
		LIMIT 1
	`
	err := e.db.QueryRowContext(ctx, query, contactID).Scan(&m.VolunteerID, &m.Status, &skills, &m.VolunteerSince)
	if errors.Is(err, sql.ErrNoRows) {
		return NoVolunteer(), nil
	}
	if err != nil {
		return NoVolunteer(), fmt.Errorf("volunteer record: %w", err)
	}
	m.Skills = []string(skills)
	if m.Skills == nil {
		m.Skills = []string{}
	}

	// Hours and assignments
	query = `
		SELECT
			(SELECT COALESCE(SUM(hours), 0) FROM volunteer_hours WHERE volunteer_id = $1),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status IN ('active', 'scheduled', 'confirmed'))
		FROM volunteer_assignments
		WHERE volunteer_id = $1
	`
	var hours numeric
	err = e.db.QueryRowContext(ctx, query, m.VolunteerID).Scan(
		&hours,
		&m.TotalAssignments,
		&m.CompletedAssignments,
		&m.ActiveAssignments,
	)
	if err != nil {
		return NoVolunteer(), fmt.Errorf("volunteer totals: %w", err)
	}
	m.TotalHours = hours.float()

	// Hours by month over the last 12 months
	start, periods := monthWindow(e.now(), 12)
	query = `
		SELECT TO_CHAR(DATE_TRUNC('month', activity_date), 'YYYY-MM') AS period, COALESCE(SUM(hours), 0)
		FROM volunteer_hours
		WHERE volunteer_id = $1
		  AND activity_date >= $2
		GROUP BY 1
		ORDER BY 1
	`
	rows, err := e.db.QueryContext(ctx, query, m.VolunteerID, start)
	if err != nil {
		return NoVolunteer(), fmt.Errorf("volunteer hours by month: %w", err)
	}
	byMonth, err := scanPeriodValues(rows)
	if err != nil {
		return NoVolunteer(), fmt.Errorf("volunteer hours by month: %w", err)
	}
	m.HoursByMonth = gapFill(periods, byMonth)

	// Recent activities
	query = fmt.Sprintf(`
		SELECT id, hours, activity_date, COALESCE(description, ''), verified
		FROM volunteer_hours
		WHERE volunteer_id = $1
		ORDER BY activity_date DESC
		LIMIT %d
	`, recentLimit)
	recent, err := e.db.QueryContext(ctx, query, m.VolunteerID)
	if err != nil {
		return NoVolunteer(), fmt.Errorf("recent volunteer activities: %w", err)
	}
	defer recent.Close()
	m.RecentActivities = []VolunteerActivity{}
	for recent.Next() {
		var a VolunteerActivity
		var h numeric
		if err := recent.Scan(&a.ID, &h, &a.ActivityDate, &a.Description, &a.Verified); err != nil {
			return NoVolunteer(), fmt.Errorf("recent volunteer activities: %w", err)
		}
		a.Hours = h.float()
		m.RecentActivities = append(m.RecentActivities, a)
	}
	if err := recent.Err(); err != nil {
		return NoVolunteer(), fmt.Errorf("recent volunteer activities: %w", err)
	}

	return SomeVolunteer(m), nil
}

// GetTaskMetrics counts tasks related to an account or contact
func (e *Engine) GetTaskMetrics(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*TaskMetrics, error) {
	if !entityType.Valid() {
		return nil, invalidInput("unknown entity type %q", entityType)
	}
	ctx, span := e.startSpan(ctx, "task_metrics", attribute.String("entity_type", string(entityType)))
	m, err := e.collectTasks(ctx, entityType, entityID)
	endSpan(span, err)
	if err != nil {
		return nil, e.collectorFailure(ctx, "task", entityType, entityID, err)
	}
	return m, nil
}

func (e *Engine) collectTasks(ctx context.Context, entityType EntityType, entityID uuid.UUID) (*TaskMetrics, error) {
	m := &TaskMetrics{
		ByStatus:   make(map[string]int64, len(taskStatuses)),
		ByPriority: make(map[string]int64, len(taskPriorities)),
	}
	for _, s := range taskStatuses {
		m.ByStatus[s] = 0
	}
	for _, p := range taskPriorities {
		m.ByPriority[p] = 0
	}

	query := `
		SELECT
			COALESCE(status, 'pending'),
			COALESCE(priority, 'medium'),
			COUNT(*),
			COUNT(*) FILTER (WHERE due_date < $3 AND status NOT IN ('completed', 'cancelled'))
		FROM tasks
		WHERE related_to_type = $1
		  AND related_to_id = $2
		GROUP BY 1, 2
	`
	rows, err := e.db.QueryContext(ctx, query, string(entityType), entityID, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("task counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var count, overdue int64
		if err := rows.Scan(&status, &priority, &count, &overdue); err != nil {
			return nil, fmt.Errorf("task counts: %w", err)
		}
		m.ByStatus[bucket(status, taskStatuses, "pending")] += count
		m.ByPriority[bucket(priority, taskPriorities, "medium")] += count
		m.TotalTasks += count
		m.OverdueTasks += overdue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task counts: %w", err)
	}

	m.CompletedTasks = m.ByStatus["completed"]
	if m.TotalTasks > 0 {
		m.CompletionRate = float64(m.CompletedTasks) / float64(m.TotalTasks)
	}
	return m, nil
}

// bucket maps value onto one of known, falling back to def
func bucket(value string, known []string, def string) string {
	for _, k := range known {
		if value == k {
			return k
		}
	}
	return def
}

func scanBreakdowns(rows *sql.Rows) ([]Breakdown, error) {
	defer rows.Close()

	out := []Breakdown{}
	for rows.Next() {
		var b Breakdown
		var total numeric
		if err := rows.Scan(&b.Key, &b.Count, &total); err != nil {
			return nil, err
		}
		b.Total = total.float()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
