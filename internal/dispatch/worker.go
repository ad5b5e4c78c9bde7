package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/personalize"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/store"
	"github.com/ignite/relay/internal/transport"
)

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	NumWorkers   int
	BatchSize    int
	PollInterval time.Duration
}

// DefaultPoolConfig returns default settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{NumWorkers: 4, BatchSize: 10, PollInterval: time.Second}
}

// Pool claims dispatch jobs and delivers them: re-validate campaign and
// contact, personalize, send, commit the outcome.
type Pool struct {
	store    *store.Store
	queue    *queue.Queue
	sender   transport.Transport
	renderer *personalize.Renderer
	service  *Service

	numWorkers   int
	batchSize    int
	pollInterval time.Duration

	totalSent   atomic.Int64
	totalFailed atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	log *logger.Logger
}

// NewPool creates a worker pool.
func NewPool(st *store.Store, q *queue.Queue, sender transport.Transport, renderer *personalize.Renderer, svc *Service, cfg PoolConfig) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		store:        st,
		queue:        q,
		sender:       sender,
		renderer:     renderer,
		service:      svc,
		numWorkers:   cfg.NumWorkers,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		log:          logger.With("worker"),
	}
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.log.Info("starting workers", "workers", p.numWorkers, "batch_size", p.batchSize)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop drains the workers and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("workers stopped", "sent", p.totalSent.Load(), "failed", p.totalFailed.Load())
}

// Sent returns the number of deliveries committed by this pool.
func (p *Pool) Sent() int64 { return p.totalSent.Load() }

// Failed returns the number of failed attempts seen by this pool.
func (p *Pool) Failed() int64 { return p.totalFailed.Load() }

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		jobs, err := p.queue.Claim(p.ctx, p.batchSize)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.log.Error("claim failed", "worker", id, "error", err)
		}
		if len(jobs) == 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		for _, job := range jobs {
			p.handle(p.ctx, job)
		}
	}
}

// handle processes one job and settles it with the queue. Every failure,
// including validation failures, goes through the retry path: a paused
// campaign's claimed jobs burn attempts until resumed or exhausted.
func (p *Pool) handle(ctx context.Context, job *queue.Job) {
	if err := p.process(ctx, job); err != nil {
		p.totalFailed.Add(1)
		if ferr := p.queue.Fail(ctx, job, err.Error()); ferr != nil {
			p.log.Error("failed to settle job", "job_id", job.ID, "error", ferr)
		}
		return
	}

	p.totalSent.Add(1)
	if err := p.queue.Complete(ctx, job); err != nil {
		p.log.Error("failed to settle job", "job_id", job.ID, "error", err)
	}
	if err := p.service.CheckCompletion(ctx, job.CampaignID); err != nil {
		p.log.Error("completion check failed", "campaign_id", job.CampaignID, "error", err)
	}
}

// process runs the delivery pipeline for one job.
//
// Delivery is at-least-once: if the process dies between the transport
// accepting the message and the outcome commit below, the stalled-claim
// sweep requeues the job and the recipient gets the email again.
func (p *Pool) process(ctx context.Context, job *queue.Job) error {
	c, err := p.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCampaignUnavailable
		}
		return fmt.Errorf("load campaign: %w", err)
	}
	if c.Status != domain.CampaignSending {
		return ErrCampaignUnavailable
	}

	contact, err := p.store.GetContact(ctx, job.ContactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrContactInactive
		}
		return fmt.Errorf("load contact: %w", err)
	}
	if !contact.Deliverable() {
		return ErrContactInactive
	}

	rendered := p.renderer.Render(c, contact, job.TrackingID)
	msg := &transport.Message{
		To:        contact.Email,
		FromName:  c.FromName,
		FromEmail: c.FromEmail,
		Subject:   rendered.Subject,
		HTML:      rendered.HTML,
		Text:      rendered.Text,
		Headers:   transport.ListUnsubscribeHeaders(p.renderer.UnsubscribeURL(job.TrackingID)),
	}

	result, err := p.sender.Send(ctx, msg)
	if err != nil {
		p.commitFailure(ctx, job, c.ID, contact, err)
		return fmt.Errorf("send: %w", err)
	}

	if err := p.store.MarkRecipientSent(ctx, job.RecipientID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if err := p.store.IncrementCampaignCounter(ctx, c.ID, "sent_count", 1); err != nil {
		p.log.Error("sent counter bump failed", "campaign_id", c.ID, "error", err)
	}

	p.log.Debug("delivered", "campaign_id", c.ID, "to_email", contact.Email,
		"provider", result.Provider, "message_id", result.MessageID)
	return nil
}

// commitFailure records a failed attempt, suppressing the contact on a hard
// bounce.
func (p *Pool) commitFailure(ctx context.Context, job *queue.Job, campaignID string, contact *domain.Contact, sendErr error) {
	if isBounce(sendErr) {
		if err := p.store.MarkRecipientBounced(ctx, job.RecipientID, sendErr.Error()); err != nil {
			p.log.Error("mark bounced failed", "recipient_id", job.RecipientID, "error", err)
		}
		if err := p.store.UpdateContactStatus(ctx, contact.ID, domain.ContactBounced); err != nil {
			p.log.Error("contact suppression failed", "contact_id", contact.ID, "error", err)
		}
		if err := p.store.IncrementCampaignCounter(ctx, campaignID, "bounced_count", 1); err != nil {
			p.log.Error("bounce counter bump failed", "campaign_id", campaignID, "error", err)
		}
		return
	}

	if err := p.store.MarkRecipientFailed(ctx, job.RecipientID, sendErr.Error()); err != nil {
		p.log.Error("mark failed failed", "recipient_id", job.RecipientID, "error", err)
	}
}

// isBounce classifies hard bounces: a provider-reported permanent failure,
// or the legacy substring sniff for transports that cannot classify.
func isBounce(err error) bool {
	if transport.IsPermanent(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bounce") || strings.Contains(msg, "invalid")
}
