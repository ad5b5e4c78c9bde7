// Package queue implements the Redis-backed dispatch queue. Jobs wait in a
// sorted set scored by ready time; claimed jobs sit in a hash until the
// worker settles them. Pacing comes from the enqueue delay: each job is
// pushed back by the current queue depth times the per-email send interval.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/pkg/logger"
)

const (
	keyScheduled  = "dispatch:scheduled"
	keyActive     = "dispatch:active"
	keyClaims     = "dispatch:claims"
	keyCompleted  = "dispatch:completed"
	keyFailedList = "dispatch:failed"
	keyFailedCnt  = "dispatch:failed_count"
	keyPaused     = "dispatch:paused"
)

// Job is one pending delivery. Content is re-fetched by the worker at
// process time; the job carries identity only.
type Job struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	ContactID   string    `json:"contact_id"`
	TrackingID  string    `json:"tracking_id"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stats is a point-in-time queue snapshot.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Callbacks receive job lifecycle notifications. All are optional and run
// synchronously on the worker goroutine.
type Callbacks struct {
	OnCompleted func(*Job)
	OnFailed    func(*Job, string)
	OnStalled   func(*Job)
}

// Queue is the rate-limited dispatch queue.
type Queue struct {
	client          *redis.Client
	emailsPerMinute int
	maxAttempts     int
	backoffBase     time.Duration
	callbacks       Callbacks
	log             *logger.Logger
}

// New creates a queue. emailsPerMinute drives the enqueue pacing,
// maxAttempts and backoffBase the retry policy.
func New(client *redis.Client, emailsPerMinute, maxAttempts int, backoffBase time.Duration) *Queue {
	if emailsPerMinute <= 0 {
		emailsPerMinute = 60
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &Queue{
		client:          client,
		emailsPerMinute: emailsPerMinute,
		maxAttempts:     maxAttempts,
		backoffBase:     backoffBase,
		log:             logger.With("queue"),
	}
}

// NewFromURL creates a queue from a redis:// URL and verifies connectivity.
func NewFromURL(ctx context.Context, url string, emailsPerMinute, maxAttempts int, backoffBase time.Duration) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, emailsPerMinute, maxAttempts, backoffBase), nil
}

// SetCallbacks installs lifecycle observers. Call before workers start.
func (q *Queue) SetCallbacks(cb Callbacks) { q.callbacks = cb }

// SendInterval returns the per-email pacing interval.
func (q *Queue) SendInterval() time.Duration {
	ms := int64(math.Ceil(60000 / float64(q.emailsPerMinute)))
	return time.Duration(ms) * time.Millisecond
}

// Enqueue schedules a job. The delay is the current queue depth (waiting
// plus active) times the send interval, so a burst drains at the configured
// rate. Depth is read before insert; concurrent enqueuers may land on the
// same slot, which only bends the pacing, never the delivery guarantee.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.EnqueuedAt = time.Now()

	waiting, err := q.client.ZCard(ctx, keyScheduled).Result()
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}
	active, err := q.client.HLen(ctx, keyActive).Result()
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}

	delay := time.Duration(waiting+active) * q.SendInterval()
	return q.schedule(ctx, job, delay)
}

// schedule adds the job to the scheduled set with the given delay.
func (q *Queue) schedule(ctx context.Context, job *Job, delay time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, keyScheduled, redis.Z{Score: readyAt, Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

// claimScript atomically moves due jobs from the scheduled set into the
// active hash, recording the claim time for stall detection.
var claimScript = redis.NewScript(`
	local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
	for _, member in ipairs(due) do
		redis.call("ZREM", KEYS[1], member)
		local job = cjson.decode(member)
		redis.call("HSET", KEYS[2], job["id"], member)
		redis.call("HSET", KEYS[3], job["id"], ARGV[1])
	end
	return due
`)

// Claim moves up to n due jobs into the active set and returns them.
// Returns nothing while the queue is paused.
func (q *Queue) Claim(ctx context.Context, n int) ([]*Job, error) {
	paused, err := q.client.Exists(ctx, keyPaused).Result()
	if err != nil {
		return nil, fmt.Errorf("pause check: %w", err)
	}
	if paused > 0 {
		return nil, nil
	}

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	raw, err := claimScript.Run(ctx, q.client,
		[]string{keyScheduled, keyActive, keyClaims}, now, n).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	jobs := make([]*Job, 0, len(raw))
	for _, data := range raw {
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.log.Error("dropping undecodable job", "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Complete settles a job as delivered.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, keyActive, job.ID)
	pipe.HDel(ctx, keyClaims, job.ID)
	pipe.Incr(ctx, keyCompleted)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if q.callbacks.OnCompleted != nil {
		q.callbacks.OnCompleted(job)
	}
	return nil
}

// Fail settles a failed attempt: the job retries with exponential backoff
// until maxAttempts, then lands in the failed list.
func (q *Queue) Fail(ctx context.Context, job *Job, cause string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, keyActive, job.ID)
	pipe.HDel(ctx, keyClaims, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	job.Attempts++
	job.LastError = cause

	if job.Attempts < q.maxAttempts {
		backoff := q.backoffBase * time.Duration(1<<(job.Attempts-1))
		q.log.Info("retrying job", "job_id", job.ID, "attempt", job.Attempts, "backoff", backoff)
		return q.schedule(ctx, job, backoff)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal failed job: %w", err)
	}
	pipe = q.client.TxPipeline()
	pipe.LPush(ctx, keyFailedList, string(data))
	pipe.Incr(ctx, keyFailedCnt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record failed job: %w", err)
	}
	if q.callbacks.OnFailed != nil {
		q.callbacks.OnFailed(job, cause)
	}
	return nil
}

// Pause stops claims without touching scheduled jobs.
func (q *Queue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, keyPaused, "1", 0).Err()
}

// Resume re-enables claims.
func (q *Queue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, keyPaused).Err()
}

// Paused reports whether claims are stopped.
func (q *Queue) Paused(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, keyPaused).Result()
	return n > 0, err
}

// GetStats returns the queue snapshot.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	waiting, err := q.client.ZCard(ctx, keyScheduled).Result()
	if err != nil {
		return nil, err
	}
	active, err := q.client.HLen(ctx, keyActive).Result()
	if err != nil {
		return nil, err
	}
	completed, err := q.client.Get(ctx, keyCompleted).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	failed, err := q.client.Get(ctx, keyFailedCnt).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return &Stats{Waiting: waiting, Active: active, Completed: completed, Failed: failed}, nil
}

// CountForCampaign returns how many scheduled or active jobs belong to the
// campaign. Used by the completion sweep.
func (q *Queue) CountForCampaign(ctx context.Context, campaignID string) (int, error) {
	count := 0

	members, err := q.client.ZRange(ctx, keyScheduled, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	active, err := q.client.HVals(ctx, keyActive).Result()
	if err != nil {
		return 0, err
	}

	for _, data := range append(members, active...) {
		var job Job
		if json.Unmarshal([]byte(data), &job) == nil && job.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

// RecoverStalled requeues active jobs whose claim is older than staleAge.
// Jobs already at the attempt limit go to the failed list instead. Workers
// that died mid-send leave claims behind; this sweep is what gets those
// jobs delivered. Returns the number of jobs touched.
func (q *Queue) RecoverStalled(ctx context.Context, staleAge time.Duration) (int, error) {
	claims, err := q.client.HGetAll(ctx, keyClaims).Result()
	if err != nil {
		return 0, fmt.Errorf("read claims: %w", err)
	}

	cutoff := time.Now().Add(-staleAge).UnixMilli()
	recovered := 0

	for jobID, tsRaw := range claims {
		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil || ts > cutoff {
			continue
		}

		data, err := q.client.HGet(ctx, keyActive, jobID).Result()
		if err == redis.Nil {
			q.client.HDel(ctx, keyClaims, jobID)
			continue
		}
		if err != nil {
			return recovered, err
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.log.Error("dropping undecodable stalled job", "job_id", jobID, "error", err)
			q.client.HDel(ctx, keyActive, jobID)
			q.client.HDel(ctx, keyClaims, jobID)
			continue
		}

		if q.callbacks.OnStalled != nil {
			q.callbacks.OnStalled(&job)
		}
		if err := q.Fail(ctx, &job, "stalled: claim expired"); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}
