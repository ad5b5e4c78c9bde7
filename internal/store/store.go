// Package store provides Postgres persistence for campaigns, contacts,
// recipients, and tracking events.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for dispatch entities
type Store struct {
	db *sql.DB
}

// NewStore creates a new store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// =============================================================================
// Contacts
// =============================================================================

// CreateContact inserts a new contact. The contact starts active unless a
// status is already set.
func (s *Store) CreateContact(ctx context.Context, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.ContactActive
	}
	c.CreatedAt = time.Now()

	query := `INSERT INTO contacts (id, email, first_name, last_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.Email, c.FirstName, c.LastName, c.Status, c.CreatedAt)
	return err
}

// GetContact retrieves a contact by ID
func (s *Store) GetContact(ctx context.Context, contactID string) (*domain.Contact, error) {
	query := `SELECT id, email, first_name, last_name, status, created_at
		FROM contacts WHERE id = $1`

	c := &domain.Contact{}
	err := s.db.QueryRowContext(ctx, query, contactID).Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateContactStatus sets a contact's status.
func (s *Store) UpdateContactStatus(ctx context.Context, contactID string, status domain.ContactStatus) error {
	query := `UPDATE contacts SET status = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, status, contactID)
	return err
}

// =============================================================================
// Campaigns
// =============================================================================

// CreateCampaign inserts a new draft campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	query := `INSERT INTO campaigns (id, name, subject, from_name, from_email, html_body, text_body,
		status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail,
		c.HTMLBody, c.TextBody, c.Status, c.ScheduledAt, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCampaign retrieves a campaign by ID
func (s *Store) GetCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	query := `SELECT id, name, subject, from_name, from_email, html_body, text_body, status,
		total_recipients, sent_count, opened_count, clicked_count, bounced_count, unsubscribed_count,
		scheduled_at, created_at, updated_at
		FROM campaigns WHERE id = $1`

	c := &domain.Campaign{}
	err := s.db.QueryRowContext(ctx, query, campaignID).Scan(
		&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &c.HTMLBody, &c.TextBody, &c.Status,
		&c.TotalRecipients, &c.SentCount, &c.OpenedCount, &c.ClickedCount, &c.BouncedCount,
		&c.UnsubscribedCount, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCampaignStatus updates a campaign's status
func (s *Store) UpdateCampaignStatus(ctx context.Context, campaignID string, status domain.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, status, campaignID)
	return err
}

// SetTotalRecipients records the recipient count captured at send start.
func (s *Store) SetTotalRecipients(ctx context.Context, campaignID string, total int) error {
	query := `UPDATE campaigns SET total_recipients = $1, updated_at = NOW() WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, total, campaignID)
	return err
}

// counterColumns whitelists the columns IncrementCampaignCounter may touch.
var counterColumns = map[string]bool{
	"sent_count":         true,
	"opened_count":       true,
	"clicked_count":      true,
	"bounced_count":      true,
	"unsubscribed_count": true,
}

// IncrementCampaignCounter atomically bumps a campaign counter. The column
// name is validated against a whitelist before interpolation.
func (s *Store) IncrementCampaignCounter(ctx context.Context, campaignID, column string, delta int) error {
	if !counterColumns[column] {
		return fmt.Errorf("invalid counter column: %s", column)
	}
	query := fmt.Sprintf("UPDATE campaigns SET %s = %s + $1, updated_at = NOW() WHERE id = $2", column, column)
	_, err := s.db.ExecContext(ctx, query, delta, campaignID)
	return err
}

// =============================================================================
// Campaign recipients
// =============================================================================

// CreateRecipients bulk-inserts pending recipient rows for the given
// contacts, each with a fresh tracking ID. Runs in a single transaction.
func (s *Store) CreateRecipients(ctx context.Context, campaignID string, contactIDs []string) ([]*domain.CampaignRecipient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO campaign_recipients
		(id, campaign_id, contact_id, status, tracking_id)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	recipients := make([]*domain.CampaignRecipient, 0, len(contactIDs))
	for _, contactID := range contactIDs {
		r := &domain.CampaignRecipient{
			ID:         uuid.New().String(),
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     domain.RecipientPending,
			TrackingID: uuid.New().String(),
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.CampaignID, r.ContactID, r.Status, r.TrackingID); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return recipients, nil
}

// GetPendingRecipients returns pending recipients of a campaign whose
// contacts are still active, ready to be enqueued.
func (s *Store) GetPendingRecipients(ctx context.Context, campaignID string) ([]*domain.CampaignRecipient, error) {
	query := `SELECT r.id, r.campaign_id, r.contact_id, r.status, r.tracking_id
		FROM campaign_recipients r
		JOIN contacts c ON c.id = r.contact_id
		WHERE r.campaign_id = $1 AND r.status = 'pending' AND c.status = 'active'
		ORDER BY r.id`

	rows, err := s.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*domain.CampaignRecipient
	for rows.Next() {
		r := &domain.CampaignRecipient{}
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.ContactID, &r.Status, &r.TrackingID); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// GetActiveContactsWithoutRecipient returns active contacts not yet attached
// to the campaign, for recipient row creation at send start.
func (s *Store) GetActiveContactsWithoutRecipient(ctx context.Context, campaignID string) ([]string, error) {
	query := `SELECT c.id FROM contacts c
		WHERE c.status = 'active' AND NOT EXISTS (
			SELECT 1 FROM campaign_recipients r
			WHERE r.campaign_id = $1 AND r.contact_id = c.id)
		ORDER BY c.id`

	rows, err := s.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountPendingRecipients returns how many recipients of a campaign are still
// pending.
func (s *Store) CountPendingRecipients(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND status = 'pending'`,
		campaignID).Scan(&n)
	return n, err
}

// GetRecipientByTrackingID resolves a tracking token to its recipient row.
func (s *Store) GetRecipientByTrackingID(ctx context.Context, trackingID string) (*domain.CampaignRecipient, error) {
	query := `SELECT id, campaign_id, contact_id, status, tracking_id, sent_at, opened_at, clicked_at
		FROM campaign_recipients WHERE tracking_id = $1`

	r := &domain.CampaignRecipient{}
	err := s.db.QueryRowContext(ctx, query, trackingID).Scan(
		&r.ID, &r.CampaignID, &r.ContactID, &r.Status, &r.TrackingID,
		&r.SentAt, &r.OpenedAt, &r.ClickedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarkRecipientSent records a successful delivery.
func (s *Store) MarkRecipientSent(ctx context.Context, recipientID string) error {
	query := `UPDATE campaign_recipients SET status = 'sent', sent_at = NOW(), error = '' WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, recipientID)
	return err
}

// MarkRecipientFailed records a delivery failure with its error text.
func (s *Store) MarkRecipientFailed(ctx context.Context, recipientID, errMsg string) error {
	query := `UPDATE campaign_recipients SET status = 'failed', error = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, errMsg, recipientID)
	return err
}

// MarkRecipientBounced records a hard bounce.
func (s *Store) MarkRecipientBounced(ctx context.Context, recipientID, errMsg string) error {
	query := `UPDATE campaign_recipients SET status = 'bounced', error = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, errMsg, recipientID)
	return err
}

// MarkFirstOpen stamps opened_at if it is not already set. Returns true only
// for the first open of the recipient.
func (s *Store) MarkFirstOpen(ctx context.Context, recipientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET opened_at = NOW() WHERE id = $1 AND opened_at IS NULL`,
		recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkFirstClick stamps clicked_at if it is not already set. Returns true
// only for the first click of the recipient.
func (s *Store) MarkFirstClick(ctx context.Context, recipientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET clicked_at = NOW() WHERE id = $1 AND clicked_at IS NULL`,
		recipientID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// Tracking events
// =============================================================================

// InsertTrackingEvent appends an engagement event row.
func (s *Store) InsertTrackingEvent(ctx context.Context, e *domain.TrackingEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now()

	query := `INSERT INTO tracking_events
		(id, campaign_id, contact_id, recipient_id, event_type, url, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query, e.ID, e.CampaignID, e.ContactID, e.RecipientID,
		e.EventType, e.URL, e.IPAddress, e.UserAgent, e.CreatedAt)
	return err
}
