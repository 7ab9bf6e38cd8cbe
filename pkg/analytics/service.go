package analytics

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GetContactAnalytics assembles the analytics record of one contact. A
// missing contact yields an error matching ErrNotFound.
func (e *Engine) GetContactAnalytics(ctx context.Context, contactID uuid.UUID) (*ContactAnalytics, error) {
	ctx, span := e.startSpan(ctx, "contact_analytics")
	result, err := e.contactAnalytics(ctx, contactID)
	endSpan(span, err)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.WithFields(logrus.Fields{
				"entity_type": EntityContact,
				"entity_id":   contactID,
			}).WithContext(ctx).WithError(err).Error("contact analytics failed")
		}
		return nil, failure("contact analytics", err)
	}
	return result, nil
}

func (e *Engine) contactAnalytics(ctx context.Context, contactID uuid.UUID) (*ContactAnalytics, error) {
	result := &ContactAnalytics{ContactID: contactID}

	var accountID uuid.NullUUID
	query := `
		SELECT TRIM(COALESCE(first_name, '') || ' ' || COALESCE(last_name, '')), account_id
		FROM contacts
		WHERE id = $1
	`
	err := e.db.QueryRowContext(ctx, query, contactID).Scan(&result.ContactName, &accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: EntityContact, ID: contactID.String()}
	}
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		result.AccountID = &accountID.UUID
	}

	var (
		donations *DonationMetrics
		events    *EventMetrics
		volunteer OptionalVolunteerMetrics
		tasks     *TaskMetrics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		donations, err = e.GetDonationMetrics(gctx, EntityContact, contactID)
		return err
	})
	g.Go(func() (err error) {
		events, err = e.GetEventMetrics(gctx, EntityContact, contactID)
		return err
	})
	g.Go(func() (err error) {
		volunteer, err = e.GetVolunteerMetrics(gctx, contactID)
		return err
	})
	g.Go(func() (err error) {
		tasks, err = e.GetTaskMetrics(gctx, EntityContact, contactID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Donations = *donations
	result.Events = *events
	result.Volunteer = volunteer
	result.Tasks = *tasks
	result.EngagementScore = Score(*donations, *events, volunteer, *tasks)
	result.EngagementLevel = LevelFor(result.EngagementScore)
	result.GeneratedAt = e.now().UTC()
	return result, nil
}

// GetAccountAnalytics assembles the analytics record of one account. A
// missing account yields an error matching ErrNotFound.
func (e *Engine) GetAccountAnalytics(ctx context.Context, accountID uuid.UUID) (*AccountAnalytics, error) {
	ctx, span := e.startSpan(ctx, "account_analytics")
	result, err := e.accountAnalytics(ctx, accountID)
	endSpan(span, err)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.WithFields(logrus.Fields{
				"entity_type": EntityAccount,
				"entity_id":   accountID,
			}).WithContext(ctx).WithError(err).Error("account analytics failed")
		}
		return nil, failure("account analytics", err)
	}
	return result, nil
}

func (e *Engine) accountAnalytics(ctx context.Context, accountID uuid.UUID) (*AccountAnalytics, error) {
	result := &AccountAnalytics{AccountID: accountID}

	query := `
		SELECT a.name, (SELECT COUNT(*) FROM contacts c WHERE c.account_id = a.id)
		FROM accounts a
		WHERE a.id = $1
	`
	err := e.db.QueryRowContext(ctx, query, accountID).Scan(&result.AccountName, &result.ContactCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: EntityAccount, ID: accountID.String()}
	}
	if err != nil {
		return nil, err
	}

	var (
		donations *DonationMetrics
		events    *EventMetrics
		tasks     *TaskMetrics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		donations, err = e.GetDonationMetrics(gctx, EntityAccount, accountID)
		return err
	})
	g.Go(func() (err error) {
		events, err = e.GetEventMetrics(gctx, EntityAccount, accountID)
		return err
	})
	g.Go(func() (err error) {
		tasks, err = e.GetTaskMetrics(gctx, EntityAccount, accountID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Donations = *donations
	result.Events = *events
	result.Tasks = *tasks
	result.EngagementScore = Score(*donations, *events, NoVolunteer(), *tasks)
	result.EngagementLevel = LevelFor(result.EngagementScore)
	result.GeneratedAt = e.now().UTC()
	return result, nil
}
