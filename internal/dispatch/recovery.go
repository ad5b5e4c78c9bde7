package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/pkg/distlock"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/queue"
)

const (
	// DefaultRecoveryInterval is how often the stalled-claim sweep runs.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long a job can stay claimed before the worker
	// that took it is presumed dead.
	DefaultStaleAge = 5 * time.Minute
)

// RecoveryWorker periodically requeues jobs whose claims went stale. A
// distributed lock keeps the sweep to one worker instance at a time.
type RecoveryWorker struct {
	queue    *queue.Queue
	redis    *redis.Client
	interval time.Duration
	staleAge time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewRecoveryWorker creates a recovery worker. Zero durations fall back to
// the defaults.
func NewRecoveryWorker(q *queue.Queue, redisClient *redis.Client, interval, staleAge time.Duration) *RecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &RecoveryWorker{
		queue:    q,
		redis:    redisClient,
		interval: interval,
		staleAge: staleAge,
		stopCh:   make(chan struct{}),
		log:      logger.With("recovery"),
	}
}

// Start runs the sweep loop until Stop is called.
func (w *RecoveryWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.sweep()
			}
		}
	}()
	w.log.Info("recovery worker started", "interval", w.interval, "stale_age", w.staleAge)
}

// Stop shuts the sweep loop down and waits for it.
func (w *RecoveryWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *RecoveryWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lock := distlock.New(w.redis, "queue-recovery", w.interval)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		w.log.Error("recovery lock failed", "error", err)
		return
	}
	if !ok {
		return
	}
	defer lock.Release(ctx)

	n, err := w.queue.RecoverStalled(ctx, w.staleAge)
	if err != nil {
		w.log.Error("stalled sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Info("requeued stalled jobs", "count", n)
	}
}
