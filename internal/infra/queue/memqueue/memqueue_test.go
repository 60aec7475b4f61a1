//go:build !integration

package memqueue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func chat(msg string) model.JobPayload {
	return model.ChatJobPayload(model.ChatPayload{Message: msg})
}

func enqueue(t *testing.T, q *Queue, msg string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), model.JobKindChat, chat(msg), model.JobOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func TestEnqueue_Validation(t *testing.T) {
	q := New()
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, model.JobKindChat, chat("  "), model.JobOptions{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty message: %v", err)
	}
	if _, err := q.Enqueue(ctx, model.JobKindBatchChat, chat("hi"), model.JobOptions{}); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("kind mismatch: %v", err)
	}

	id := enqueue(t, q, "hi")
	j, _ := q.Get(ctx, id)
	if j.Status != model.JobStatusWaiting || j.MaxAttempts != 3 || j.Backoff != 2*time.Second {
		t.Fatalf("job = %+v", j)
	}

	bid, err := q.Enqueue(ctx, model.JobKindBatchChat, model.BatchJobPayload(model.BatchPayload{
		Messages: []model.ChatPayload{{Message: "a"}, {Message: "b"}},
	}), model.JobOptions{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	b, _ := q.Get(ctx, bid)
	if b.MaxAttempts != 2 || b.Backoff != 3*time.Second {
		t.Fatalf("batch defaults = %d %s", b.MaxAttempts, b.Backoff)
	}
}

func TestLifecycle_Complete(t *testing.T) {
	c := newClock()
	q := New(WithClock(c.Now))
	ctx := context.Background()
	id := enqueue(t, q, "What is Shark Tank?")

	j, err := q.Claim(ctx, "w1", 30*time.Second)
	if err != nil || j.ID != id || j.Status != model.JobStatusActive {
		t.Fatalf("claim = %+v %v", j, err)
	}
	if _, err := q.Claim(ctx, "w2", 30*time.Second); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second claim: %v", err)
	}

	if err := q.UpdateProgress(ctx, id, "w2", 50); !errors.Is(err, domain.ErrLockLost) {
		t.Fatalf("foreign progress: %v", err)
	}
	_ = q.UpdateProgress(ctx, id, "w1", 30)
	_ = q.UpdateProgress(ctx, id, "w1", 10)
	got, _ := q.Get(ctx, id)
	if got.Progress != 30 {
		t.Fatalf("progress must not go back, got %d", got.Progress)
	}

	result := json.RawMessage(`{"response":"A show.","sessionId":"s1","processingTime":12,"timestamp":"x"}`)
	if err := q.Complete(ctx, id, "w1", result); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	done, _ := q.Get(ctx, id)
	if done.Status != model.JobStatusCompleted || done.Progress != 100 || done.FinishedAt == nil {
		t.Fatalf("done = %+v", done)
	}
	if string(done.Result) != string(result) {
		t.Fatalf("result = %s", done.Result)
	}

	// completed jobs are immutable
	first := done.Info(c.Now(), false)
	c.Advance(time.Hour)
	again, _ := q.Get(ctx, id)
	if !reflect.DeepEqual(first, again.Info(c.Now(), false)) {
		t.Fatal("info changed between reads")
	}
}

func TestFail_BackoffThenFailed(t *testing.T) {
	c := newClock()
	q := New(WithClock(c.Now))
	ctx := context.Background()
	id := enqueue(t, q, "hi")

	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second}
	for i, d := range wantDelays {
		if _, err := q.Claim(ctx, "w", time.Minute); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		st, err := q.Fail(ctx, id, "w", "upstream")
		if err != nil || st != model.JobStatusDelayed {
			t.Fatalf("fail %d: %s %v", i, st, err)
		}
		j, _ := q.Get(ctx, id)
		if j.AttemptsMade != i+1 || !j.RunAt.Equal(c.Now().Add(d)) {
			t.Fatalf("attempt %d: made=%d runAt=%s", i, j.AttemptsMade, j.RunAt)
		}
		if _, err := q.Claim(ctx, "w", time.Minute); !errors.Is(err, domain.ErrNotFound) {
			t.Fatal("delayed job claimed before due")
		}
		c.Advance(d)
	}

	if _, err := q.Claim(ctx, "w", time.Minute); err != nil {
		t.Fatalf("final claim: %v", err)
	}
	st, _ := q.Fail(ctx, id, "w", "upstream")
	if st != model.JobStatusFailed {
		t.Fatalf("status = %s", st)
	}
	j, _ := q.Get(ctx, id)
	if j.FailureReason != "upstream" || j.Result != nil {
		t.Fatalf("job = %+v", j)
	}
}

func TestCancel(t *testing.T) {
	q := New()
	ctx := context.Background()

	id := enqueue(t, q, "Tell me about Mark Cuban")
	ok, err := q.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("cancel waiting: %v %v", ok, err)
	}
	if _, err := q.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after cancel: %v", err)
	}
	if ok, _ := q.Cancel(ctx, id); ok {
		t.Fatal("second cancel should be false")
	}

	active := enqueue(t, q, "active")
	_, _ = q.Claim(ctx, "w", time.Minute)
	if ok, _ := q.Cancel(ctx, active); !ok {
		t.Fatal("active jobs are cancellable")
	}
	if err := q.Complete(ctx, active, "w", json.RawMessage(`{}`)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("complete after cancel: %v", err)
	}

	done := enqueue(t, q, "done")
	_, _ = q.Claim(ctx, "w", time.Minute)
	_ = q.Complete(ctx, done, "w", json.RawMessage(`{}`))
	if ok, _ := q.Cancel(ctx, done); ok {
		t.Fatal("completed jobs are not cancellable")
	}
}

func TestRetry(t *testing.T) {
	q := New()
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, model.JobKindChat, chat("hi"), model.JobOptions{Attempts: 1})

	if ok, _ := q.Retry(ctx, id); ok {
		t.Fatal("waiting jobs are not retryable")
	}
	_, _ = q.Claim(ctx, "w", time.Minute)
	if st, _ := q.Fail(ctx, id, "w", "boom"); st != model.JobStatusFailed {
		t.Fatalf("status = %s", st)
	}

	ok, err := q.Retry(ctx, id)
	if err != nil || !ok {
		t.Fatalf("retry: %v %v", ok, err)
	}
	j, _ := q.Get(ctx, id)
	if j.Status != model.JobStatusWaiting || j.AttemptsMade != 2 || j.FailureReason != "" || j.FinishedAt != nil {
		t.Fatalf("job = %+v", j)
	}
	if ok, _ := q.Retry(ctx, "missing"); ok {
		t.Fatal("unknown job retried")
	}
}

func TestRecoverStalled(t *testing.T) {
	c := newClock()
	q := New(WithClock(c.Now))
	ctx := context.Background()
	id := enqueue(t, q, "hi")

	_, _ = q.Claim(ctx, "w1", 30*time.Second)
	c.Advance(10 * time.Second)
	_ = q.Heartbeat(ctx, id, "w1", 30*time.Second)
	c.Advance(25 * time.Second)
	if r, f, _ := q.RecoverStalled(ctx, 1); r != 0 || f != 0 {
		t.Fatalf("heartbeat should keep the lock, got %d/%d", r, f)
	}

	c.Advance(10 * time.Second)
	j, _ := q.Get(ctx, id)
	if j.Info(c.Now(), false).Status != model.JobStatusStuck {
		t.Fatal("expired lock should read as stuck")
	}
	if r, f, _ := q.RecoverStalled(ctx, 1); r != 1 || f != 0 {
		t.Fatalf("first stall: %d/%d", r, f)
	}
	if err := q.Heartbeat(ctx, id, "w1", time.Minute); !errors.Is(err, domain.ErrLockLost) {
		t.Fatalf("old worker heartbeat: %v", err)
	}

	_, _ = q.Claim(ctx, "w2", 30*time.Second)
	c.Advance(31 * time.Second)
	if r, f, _ := q.RecoverStalled(ctx, 1); r != 0 || f != 1 {
		t.Fatalf("second stall: %d/%d", r, f)
	}
	j, _ = q.Get(ctx, id)
	if j.Status != model.JobStatusFailed || j.FailureReason != model.StalledReason {
		t.Fatalf("job = %+v", j)
	}
}

func TestPauseStatsAndRecent(t *testing.T) {
	c := newClock()
	q := New(WithClock(c.Now))
	ctx := context.Background()

	a := enqueue(t, q, "a")
	c.Advance(time.Second)
	b := enqueue(t, q, "b")
	c.Advance(time.Second)
	enqueue(t, q, "c")

	_ = q.Pause(ctx)
	if _, err := q.Claim(ctx, "w", time.Minute); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("paused queue handed out a job")
	}
	s, _ := q.Stats(ctx)
	if s.Paused != 3 || s.Waiting != 0 || s.Total != 3 {
		t.Fatalf("paused stats = %+v", s)
	}
	j, _ := q.Get(ctx, a)
	if j.Info(c.Now(), true).Status != model.JobStatusPaused {
		t.Fatal("waiting job should read as paused")
	}

	_ = q.Resume(ctx)
	claimed, _ := q.Claim(ctx, "w", time.Minute)
	if claimed.ID != a {
		t.Fatalf("oldest first: got %s want %s", claimed.ID, a)
	}
	s, _ = q.Stats(ctx)
	if s.Waiting != 2 || s.Active != 1 || s.Total != 3 {
		t.Fatalf("stats = %+v", s)
	}

	recent, _ := q.Recent(ctx, model.JobStatusWaiting, 1)
	if len(recent) != 1 || recent[0].ID == b {
		t.Fatalf("recent = %+v", recent)
	}
	all, _ := q.Recent(ctx, "", 0)
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestClean(t *testing.T) {
	c := newClock()
	q := New(WithClock(c.Now))
	ctx := context.Background()

	old := enqueue(t, q, "old")
	_, _ = q.Claim(ctx, "w", time.Minute)
	_ = q.Complete(ctx, old, "w", json.RawMessage(`{}`))
	c.Advance(25 * time.Hour)

	fresh := enqueue(t, q, "fresh")
	_, _ = q.Claim(ctx, "w", time.Minute)
	_ = q.Complete(ctx, fresh, "w", json.RawMessage(`{}`))
	pending := enqueue(t, q, "pending")

	n, err := q.Clean(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("clean = %d %v", n, err)
	}
	if _, err := q.Get(ctx, old); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("old job kept")
	}
	for _, id := range []string{fresh, pending} {
		if _, err := q.Get(ctx, id); err != nil {
			t.Fatalf("%s removed: %v", id, err)
		}
	}
}

func TestClaim_NoDoubleClaim(t *testing.T) {
	q := New()
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		enqueue(t, q, "m")
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				j, err := q.Claim(ctx, string(rune('a'+w)), time.Minute)
				if err != nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Fatalf("claimed %d jobs", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %s claimed %d times", id, n)
		}
	}
}
