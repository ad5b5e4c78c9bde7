package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/relay/internal/queue"
)

func TestRecoveryWorkerRequeuesStalledJobs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	q := queue.New(client, 600, 3, 2*time.Second)

	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	jobs, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(jobs))
	}
	// Age the claim so the sweep sees it as stalled.
	mr.HSet("dispatch:claims", jobs[0].ID, "0")

	w := NewRecoveryWorker(q, client, 20*time.Millisecond, time.Millisecond)
	w.Start()
	time.Sleep(150 * time.Millisecond)
	w.Stop()

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Active != 0 {
		t.Errorf("active = %d, want 0", stats.Active)
	}
	if stats.Waiting != 1 {
		t.Errorf("waiting = %d, want 1", stats.Waiting)
	}
}
