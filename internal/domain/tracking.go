package domain

import "time"

// TrackingEventType enumerates the types of email engagement events.
type TrackingEventType string

const (
	EventOpen        TrackingEventType = "open"
	EventClick       TrackingEventType = "click"
	EventUnsubscribe TrackingEventType = "unsubscribe"
	EventBounce      TrackingEventType = "bounce"
)

// TrackingEvent represents a single engagement event from an email recipient.
// Opens and clicks append a row on every hit; uniqueness lives in the
// recipient's opened_at/clicked_at columns, not here.
type TrackingEvent struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	ContactID   string            `json:"contact_id"`
	RecipientID string            `json:"recipient_id"`
	EventType   TrackingEventType `json:"event_type"`
	URL         string            `json:"url,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
