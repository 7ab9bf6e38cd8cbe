package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contactExistsSQL = `FROM contacts WHERE id = \$1`
	accountExistsSQL = `FROM accounts a WHERE a.id = \$1`
)

func TestGetContactAnalytics_NotFound(t *testing.T) {
	engine, mock := newTestEngine(t)
	id := uuid.New()

	mock.ExpectQuery(contactExistsSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"name", "account_id"}))

	_, err := engine.GetContactAnalytics(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, EntityContact, nf.Entity)
	assert.Equal(t, id.String(), nf.ID)

	var ce *ComputationError
	assert.False(t, errors.As(err, &ce), "not found must not be wrapped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactAnalytics_NonVolunteer(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)
	id := uuid.New()
	accountID := uuid.New()

	mock.ExpectQuery(contactExistsSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"name", "account_id"}).AddRow("Ada Lovelace", accountID.String()))
	expectDonations(mock, "contact_id", id)
	expectEvents(mock, `er.contact_id = \$1`, id)
	mock.ExpectQuery(volunteerRecordSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "skills", "created_at"}))
	mock.ExpectQuery(taskCountsSQL).
		WithArgs("contact", id, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status", "priority", "count", "overdue"}).
			AddRow("completed", "medium", 1, 0).
			AddRow("pending", "medium", 1, 0))

	result, err := engine.GetContactAnalytics(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, result.ContactID)
	assert.Equal(t, "Ada Lovelace", result.ContactName)
	require.NotNil(t, result.AccountID)
	assert.Equal(t, accountID, *result.AccountID)
	assert.False(t, result.Volunteer.Present())
	assert.Equal(t, testNow, result.GeneratedAt)

	// donations: 3 gifts (9) + recurring (15) + $1250 (1) = 25
	// events: 3 attended (9) + 0.75 rate (11) = 20
	// tasks: 50% (5)
	assert.Equal(t, 50, result.EngagementScore)
	assert.Equal(t, EngagementMedium, result.EngagementLevel)
	assert.Equal(t, Score(result.Donations, result.Events, result.Volunteer, result.Tasks), result.EngagementScore)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"volunteer":null`)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactAnalytics_CollectorFailure(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)
	id := uuid.New()

	mock.ExpectQuery(contactExistsSQL).
		WillReturnRows(sqlmock.NewRows([]string{"name", "account_id"}).AddRow("Grace Hopper", nil))
	expectDonations(mock, "contact_id", id)
	expectEvents(mock, `er.contact_id = \$1`, id)
	mock.ExpectQuery(volunteerRecordSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "skills", "created_at"}))
	mock.ExpectQuery(taskCountsSQL).WillReturnError(assert.AnError)

	_, err := engine.GetContactAnalytics(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, "failed to retrieve contact analytics", err.Error())
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGetContactAnalytics_ExistenceQueryError(t *testing.T) {
	engine, mock := newTestEngine(t)

	mock.ExpectQuery(contactExistsSQL).WillReturnError(assert.AnError)

	_, err := engine.GetContactAnalytics(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, "failed to retrieve contact analytics", err.Error())
}

func TestGetAccountAnalytics_NotFound(t *testing.T) {
	engine, mock := newTestEngine(t)
	id := uuid.New()

	mock.ExpectQuery(accountExistsSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"name", "contacts"}))

	_, err := engine.GetAccountAnalytics(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, EntityAccount, nf.Entity)
}

func TestGetAccountAnalytics(t *testing.T) {
	engine, mock := newTestEngine(t)
	mock.MatchExpectationsInOrder(false)
	id := uuid.New()

	mock.ExpectQuery(accountExistsSQL).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"name", "contacts"}).AddRow("Acme Foundation", 4))
	expectDonations(mock, "account_id", id)
	expectEvents(mock, `er.contact_id IN \(SELECT id FROM contacts WHERE account_id = \$1\)`, id)
	mock.ExpectQuery(taskCountsSQL).
		WithArgs("account", id, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status", "priority", "count", "overdue"}).
			AddRow("completed", "high", 2, 0))

	result, err := engine.GetAccountAnalytics(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "Acme Foundation", result.AccountName)
	assert.Equal(t, int64(4), result.ContactCount)
	// 25 donations + 20 events + 10 tasks, no volunteer term
	assert.Equal(t, 55, result.EngagementScore)
	assert.Equal(t, EngagementMedium, result.EngagementLevel)

	assert.NoError(t, mock.ExpectationsWereMet())
}
