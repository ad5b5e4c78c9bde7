// Package tracking serves the engagement endpoints embedded in outgoing
// email: the open pixel, click redirects, and one-click unsubscribe.
package tracking

import (
	"context"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/store"
)

// Collector commits engagement events. First-open and first-click detection
// rides on conditional timestamp updates, so concurrent hits for the same
// recipient bump each campaign counter at most once.
type Collector struct {
	store *store.Store
	log   *logger.Logger
}

func NewCollector(st *store.Store) *Collector {
	return &Collector{store: st, log: logger.With("tracking")}
}

// RecordOpen stores an open event. Every pixel load is recorded; only the
// first open per recipient increments the campaign counter.
func (c *Collector) RecordOpen(ctx context.Context, rec *domain.CampaignRecipient, ip, userAgent string) {
	first, err := c.store.MarkFirstOpen(ctx, rec.ID)
	if err != nil {
		c.log.Error("mark open failed", "recipient_id", rec.ID, "error", err)
	}
	if first {
		if err := c.store.IncrementCampaignCounter(ctx, rec.CampaignID, "opened_count", 1); err != nil {
			c.log.Error("open counter bump failed", "campaign_id", rec.CampaignID, "error", err)
		}
	}
	c.insertEvent(ctx, rec, domain.EventOpen, "", ip, userAgent)
}

// RecordClick stores a click event with its destination URL. Only the first
// click per recipient increments the campaign counter.
func (c *Collector) RecordClick(ctx context.Context, rec *domain.CampaignRecipient, url, ip, userAgent string) {
	first, err := c.store.MarkFirstClick(ctx, rec.ID)
	if err != nil {
		c.log.Error("mark click failed", "recipient_id", rec.ID, "error", err)
	}
	if first {
		if err := c.store.IncrementCampaignCounter(ctx, rec.CampaignID, "clicked_count", 1); err != nil {
			c.log.Error("click counter bump failed", "campaign_id", rec.CampaignID, "error", err)
		}
	}
	c.insertEvent(ctx, rec, domain.EventClick, url, ip, userAgent)
}

// RecordUnsubscribe suppresses the contact and stores the event. The status
// update is the part the visitor is owed, so its failure is returned; the
// counter and event row are best effort.
func (c *Collector) RecordUnsubscribe(ctx context.Context, rec *domain.CampaignRecipient, ip, userAgent string) error {
	if err := c.store.UpdateContactStatus(ctx, rec.ContactID, domain.ContactUnsubscribed); err != nil {
		return err
	}
	if err := c.store.IncrementCampaignCounter(ctx, rec.CampaignID, "unsubscribed_count", 1); err != nil {
		c.log.Error("unsubscribe counter bump failed", "campaign_id", rec.CampaignID, "error", err)
	}
	c.insertEvent(ctx, rec, domain.EventUnsubscribe, "", ip, userAgent)
	return nil
}

func (c *Collector) insertEvent(ctx context.Context, rec *domain.CampaignRecipient, typ domain.TrackingEventType, url, ip, userAgent string) {
	evt := &domain.TrackingEvent{
		CampaignID:  rec.CampaignID,
		ContactID:   rec.ContactID,
		RecipientID: rec.ID,
		EventType:   typ,
		URL:         url,
		IPAddress:   ip,
		UserAgent:   userAgent,
	}
	if err := c.store.InsertTrackingEvent(ctx, evt); err != nil {
		c.log.Error("event insert failed", "recipient_id", rec.ID, "event_type", string(typ), "error", err)
	}
}
