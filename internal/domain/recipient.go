package domain

import "time"

// RecipientStatus enumerates the delivery outcome for one campaign recipient.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientBounced RecipientStatus = "bounced"
)

// CampaignRecipient joins a campaign to a contact and records per-recipient
// delivery and engagement state. TrackingID is a 128-bit random token rendered
// as a 36-character string; it is the sole credential accepted by the
// tracking endpoints.
type CampaignRecipient struct {
	ID         string          `json:"id" db:"id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`
	ContactID  string          `json:"contact_id" db:"contact_id"`
	Status     RecipientStatus `json:"status" db:"status"`
	TrackingID string          `json:"tracking_id" db:"tracking_id"`
	SentAt     *time.Time      `json:"sent_at" db:"sent_at"`
	OpenedAt   *time.Time      `json:"opened_at" db:"opened_at"`
	ClickedAt  *time.Time      `json:"clicked_at" db:"clicked_at"`
	Error      string          `json:"error" db:"error"`
}
