package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	summaryAccountsSQL     = `FILTER \(WHERE is_active\) FROM accounts`
	summaryContactsSQL     = `FILTER \(WHERE created_at >= \$1\) FROM contacts`
	summaryDonationsSQL    = `COUNT\(DISTINCT contact_id\) FROM donations`
	summaryEventsSQL       = `COUNT\(DISTINCT e.id\)`
	summaryVolunteerSQL    = `COUNT\(DISTINCT volunteer_id\) FROM volunteer_hours`
	summaryDistributionSQL = `WITH d AS[\s\S]*SELECT DISTINCT ON \(v\.contact_id\)[\s\S]*ORDER BY v\.contact_id, v\.created_at ASC`
)

// expectSummary registers the six summary queries for the range [from, to).
func expectSummary(mock sqlmock.Sqlmock, from, to time.Time) {
	mock.ExpectQuery(summaryAccountsSQL).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active"}).AddRow(12, 10))
	mock.ExpectQuery(summaryContactsSQL).
		WithArgs(utcDate(2026, 1, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "new"}).AddRow(140, 120, 9))
	mock.ExpectQuery(summaryDonationsSQL).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count", "total", "donors"}).AddRow(4, "1000.00", 3))
	mock.ExpectQuery(summaryEventsSQL).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"events", "registrations", "attendees"}).AddRow(2, 30, 24))
	mock.ExpectQuery(summaryVolunteerSQL).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"hours", "volunteers"}).AddRow("85.25", 7))
	mock.ExpectQuery(summaryDistributionSQL).
		WillReturnRows(sqlmock.NewRows([]string{"high", "medium", "low", "inactive"}).AddRow(5, 25, 60, 30))
}

func TestGetSummary_YearToDate(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)
	expectSummary(mock, utcDate(2026, 1, 1), testNow)

	s, err := engine.GetSummary(context.Background(), SummaryRange{})
	require.NoError(t, err)

	assert.Equal(t, utcDate(2026, 1, 1), s.PeriodStart)
	assert.Equal(t, testNow, s.PeriodEnd)
	assert.Equal(t, int64(12), s.TotalAccounts)
	assert.Equal(t, int64(10), s.ActiveAccounts)
	assert.Equal(t, int64(140), s.TotalContacts)
	assert.Equal(t, int64(120), s.ActiveContacts)
	assert.Equal(t, int64(9), s.NewContactsYTD)
	assert.Equal(t, 1000.0, s.DonationTotal)
	assert.Equal(t, int64(4), s.DonationCount)
	assert.Equal(t, 250.0, s.AverageDonation)
	assert.Equal(t, int64(3), s.UniqueDonors)
	assert.Equal(t, int64(2), s.EventCount)
	assert.Equal(t, int64(30), s.EventRegistrations)
	assert.Equal(t, int64(24), s.EventAttendees)
	assert.Equal(t, 85.25, s.VolunteerHours)
	assert.Equal(t, int64(7), s.ActiveVolunteers)
	assert.Equal(t, EngagementDistribution{High: 5, Medium: 25, Low: 60, Inactive: 30}, s.EngagementDistribution)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSummary_ExplicitRange(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)
	from, to := utcDate(2025, 7, 1), utcDate(2025, 10, 1)
	expectSummary(mock, from, to)

	s, err := engine.GetSummary(context.Background(), SummaryRange{From: from, To: to})
	require.NoError(t, err)
	assert.Equal(t, from, s.PeriodStart)
	assert.Equal(t, to, s.PeriodEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSummary_InvalidRange(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.GetSummary(context.Background(), SummaryRange{From: utcDate(2026, 5, 1), To: utcDate(2026, 4, 1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetSummary_QueryError(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(summaryAccountsSQL).WillReturnError(assert.AnError)
	mock.ExpectQuery(summaryContactsSQL).WillReturnRows(sqlmock.NewRows([]string{"total", "active", "new"}).AddRow(0, 0, 0))
	mock.ExpectQuery(summaryDonationsSQL).WillReturnRows(sqlmock.NewRows([]string{"count", "total", "donors"}).AddRow(0, "0", 0))
	mock.ExpectQuery(summaryEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"events", "registrations", "attendees"}).AddRow(0, 0, 0))
	mock.ExpectQuery(summaryVolunteerSQL).WillReturnRows(sqlmock.NewRows([]string{"hours", "volunteers"}).AddRow("0", 0))
	mock.ExpectQuery(summaryDistributionSQL).WillReturnRows(sqlmock.NewRows([]string{"high", "medium", "low", "inactive"}).AddRow(0, 0, 0, 0))

	_, err := engine.GetSummary(context.Background(), SummaryRange{})
	require.Error(t, err)
	assert.Equal(t, "failed to retrieve analytics summary", err.Error())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestResolveRange(t *testing.T) {
	r := resolveRange(testNow, SummaryRange{})
	assert.Equal(t, utcDate(2026, 1, 1), r.From)
	assert.Equal(t, testNow, r.To)

	to := utcDate(2025, 6, 30)
	r = resolveRange(testNow, SummaryRange{To: to})
	assert.Equal(t, utcDate(2025, 1, 1), r.From)
	assert.Equal(t, to, r.To)
}
