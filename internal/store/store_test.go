package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/relay/internal/domain"
)

func setupTestDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestGetCampaign(t *testing.T) {
	s, mock := setupTestDB(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "name", "subject", "from_name", "from_email", "html_body", "text_body", "status",
		"total_recipients", "sent_count", "opened_count", "clicked_count", "bounced_count",
		"unsubscribed_count", "scheduled_at", "created_at", "updated_at",
	}).AddRow("c1", "Launch", "Hello", "Acme", "hi@acme.io", "<p>hi</p>", "hi", "sending",
		10, 4, 2, 1, 0, 0, nil, now, now)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).
		WithArgs("c1").WillReturnRows(rows)

	c, err := s.GetCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if c.Status != domain.CampaignSending {
		t.Errorf("status = %s, want sending", c.Status)
	}
	if c.SentCount != 4 {
		t.Errorf("sent_count = %d, want 4", c.SentCount)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectQuery(`FROM campaigns WHERE id = \$1`).
		WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := s.GetCampaign(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestIncrementCampaignCounter(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectExec(`UPDATE campaigns SET sent_count = sent_count \+ \$1, updated_at = NOW\(\) WHERE id = \$2`).
		WithArgs(1, "c1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.IncrementCampaignCounter(context.Background(), "c1", "sent_count", 1); err != nil {
		t.Fatalf("IncrementCampaignCounter: %v", err)
	}
}

func TestIncrementCampaignCounterRejectsUnknownColumn(t *testing.T) {
	s, _ := setupTestDB(t)

	err := s.IncrementCampaignCounter(context.Background(), "c1", "status; DROP TABLE campaigns", 1)
	if err == nil {
		t.Fatal("expected error for non-whitelisted column")
	}
}

func TestMarkFirstOpen(t *testing.T) {
	s, mock := setupTestDB(t)

	// First hit stamps the column.
	mock.ExpectExec(`UPDATE campaign_recipients SET opened_at = NOW\(\) WHERE id = \$1 AND opened_at IS NULL`).
		WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	// Second hit matches no rows.
	mock.ExpectExec(`UPDATE campaign_recipients SET opened_at = NOW\(\) WHERE id = \$1 AND opened_at IS NULL`).
		WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.MarkFirstOpen(context.Background(), "r1")
	if err != nil || !first {
		t.Fatalf("first open = %v, %v; want true, nil", first, err)
	}
	again, err := s.MarkFirstOpen(context.Background(), "r1")
	if err != nil || again {
		t.Fatalf("second open = %v, %v; want false, nil", again, err)
	}
}

func TestCreateRecipients(t *testing.T) {
	s, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO campaign_recipients`)
	mock.ExpectExec(`INSERT INTO campaign_recipients`).
		WithArgs(sqlmock.AnyArg(), "c1", "k1", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO campaign_recipients`).
		WithArgs(sqlmock.AnyArg(), "c1", "k2", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recipients, err := s.CreateRecipients(context.Background(), "c1", []string{"k1", "k2"})
	if err != nil {
		t.Fatalf("CreateRecipients: %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("len = %d, want 2", len(recipients))
	}
	for _, r := range recipients {
		if len(r.TrackingID) != 36 {
			t.Errorf("tracking id %q is not 36 chars", r.TrackingID)
		}
		if r.Status != domain.RecipientPending {
			t.Errorf("status = %s, want pending", r.Status)
		}
	}
	if recipients[0].TrackingID == recipients[1].TrackingID {
		t.Error("tracking ids must be unique")
	}
}

func TestGetPendingRecipientsFiltersInactiveContacts(t *testing.T) {
	s, mock := setupTestDB(t)

	rows := sqlmock.NewRows([]string{"id", "campaign_id", "contact_id", "status", "tracking_id"}).
		AddRow("r1", "c1", "k1", "pending", "t1")

	mock.ExpectQuery(`r\.status = 'pending' AND c\.status = 'active'`).
		WithArgs("c1").WillReturnRows(rows)

	recipients, err := s.GetPendingRecipients(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetPendingRecipients: %v", err)
	}
	if len(recipients) != 1 || recipients[0].ID != "r1" {
		t.Errorf("unexpected recipients: %+v", recipients)
	}
}
