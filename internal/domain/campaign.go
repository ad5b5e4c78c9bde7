package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
)

// Campaign represents an email campaign with its content and delivery stats.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Subject   string         `json:"subject" db:"subject"`
	FromName  string         `json:"from_name" db:"from_name"`
	FromEmail string         `json:"from_email" db:"from_email"`
	HTMLBody  string         `json:"html_body" db:"html_body"`
	TextBody  string         `json:"text_body" db:"text_body"`
	Status    CampaignStatus `json:"status" db:"status"`

	// Counters (monotonic, bumped with atomic SQL increments)
	TotalRecipients   int `json:"total_recipients" db:"total_recipients"`
	SentCount         int `json:"sent_count" db:"sent_count"`
	OpenedCount       int `json:"opened_count" db:"opened_count"`
	ClickedCount      int `json:"clicked_count" db:"clicked_count"`
	BouncedCount      int `json:"bounced_count" db:"bounced_count"`
	UnsubscribedCount int `json:"unsubscribed_count" db:"unsubscribed_count"`

	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent
}

// Sendable reports whether a send may be started from the current status.
// Paused campaigns may be resumed by starting the send again.
func (c *Campaign) Sendable() bool {
	switch c.Status {
	case CampaignDraft, CampaignScheduled, CampaignPaused:
		return true
	}
	return false
}

// CanTransition reports whether moving to the target status is a legal
// lifecycle step.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return to == CampaignScheduled || to == CampaignSending
	case CampaignScheduled:
		return to == CampaignSending || to == CampaignDraft
	case CampaignSending:
		return to == CampaignPaused || to == CampaignSent
	case CampaignPaused:
		return to == CampaignSending
	}
	return false
}
