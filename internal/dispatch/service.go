// Package dispatch drives campaign sends: the lifecycle service that feeds
// the queue and the worker pool that delivers jobs.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/store"
)

// Service manages the campaign send lifecycle.
type Service struct {
	store *store.Store
	queue *queue.Queue
	log   *logger.Logger
}

// NewService creates the campaign service and installs the queue callbacks
// that record terminal job failures on recipient rows.
func NewService(st *store.Store, q *queue.Queue) *Service {
	s := &Service{store: st, queue: q, log: logger.With("dispatch")}

	q.SetCallbacks(queue.Callbacks{
		OnCompleted: func(j *queue.Job) {
			s.log.Debug("job completed", "job_id", j.ID, "campaign_id", j.CampaignID)
		},
		OnFailed: func(j *queue.Job, cause string) {
			s.log.Warn("job failed permanently", "job_id", j.ID, "campaign_id", j.CampaignID, "cause", cause)
			ctx := context.Background()
			if err := s.store.MarkRecipientFailed(ctx, j.RecipientID, cause); err != nil {
				s.log.Error("failed to record job failure", "recipient_id", j.RecipientID, "error", err)
			}
		},
		OnStalled: func(j *queue.Job) {
			s.log.Warn("job stalled, requeueing", "job_id", j.ID, "campaign_id", j.CampaignID)
		},
	})

	return s
}

// StartSending moves a campaign into sending and enqueues one job per
// pending recipient. Contacts not yet attached to the campaign get
// recipient rows with fresh tracking IDs first. A queue failure aborts the
// send and is returned to the caller.
func (s *Service) StartSending(ctx context.Context, campaignID string) error {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if !c.Sendable() {
		return fmt.Errorf("%w: status is %s", ErrNotSendable, c.Status)
	}

	resuming := c.Status == domain.CampaignPaused
	if !resuming {
		newContacts, err := s.store.GetActiveContactsWithoutRecipient(ctx, campaignID)
		if err != nil {
			return fmt.Errorf("load contacts: %w", err)
		}
		if len(newContacts) > 0 {
			if _, err := s.store.CreateRecipients(ctx, campaignID, newContacts); err != nil {
				return fmt.Errorf("create recipients: %w", err)
			}
		}
	}

	pending, err := s.store.GetPendingRecipients(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	if len(pending) == 0 {
		return ErrNoRecipients
	}

	if !resuming {
		if err := s.store.SetTotalRecipients(ctx, campaignID, len(pending)); err != nil {
			return fmt.Errorf("set total recipients: %w", err)
		}
	}
	if err := s.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignSending); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := s.queue.Resume(ctx); err != nil {
		return fmt.Errorf("resume queue: %w", err)
	}

	for _, r := range pending {
		job := &queue.Job{
			ID:          uuid.New().String(),
			CampaignID:  campaignID,
			RecipientID: r.ID,
			ContactID:   r.ContactID,
			TrackingID:  r.TrackingID,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue recipient %s: %w", r.ID, err)
		}
	}

	s.log.Info("campaign sending started",
		"campaign_id", campaignID, "recipients", len(pending), "resumed", resuming)
	return nil
}

// Pause stops a sending campaign. Its queued jobs stay scheduled; workers
// stop claiming, and anything already claimed fails validation and retries
// until the campaign resumes.
func (s *Service) Pause(ctx context.Context, campaignID string) error {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if c.Status != domain.CampaignSending {
		return fmt.Errorf("%w: status is %s", ErrNotPausable, c.Status)
	}

	if err := s.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignPaused); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := s.queue.Pause(ctx); err != nil {
		return fmt.Errorf("pause queue: %w", err)
	}

	s.log.Info("campaign paused", "campaign_id", campaignID)
	return nil
}

// QueueStats exposes the queue snapshot for the API.
func (s *Service) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return s.queue.GetStats(ctx)
}

// CheckCompletion marks a sending campaign sent once no pending recipients
// remain and the queue holds none of its jobs.
func (s *Service) CheckCompletion(ctx context.Context, campaignID string) error {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if c.Status != domain.CampaignSending {
		return nil
	}

	pending, err := s.store.CountPendingRecipients(ctx, campaignID)
	if err != nil || pending > 0 {
		return err
	}
	queued, err := s.queue.CountForCampaign(ctx, campaignID)
	if err != nil || queued > 0 {
		return err
	}

	if err := s.store.UpdateCampaignStatus(ctx, campaignID, domain.CampaignSent); err != nil {
		return err
	}
	s.log.Info("campaign completed", "campaign_id", campaignID)
	return nil
}
