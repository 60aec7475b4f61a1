//go:build !integration

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/agent"
	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/queue/memqueue"
	"sharktank-agent/internal/infra/session"
)

type fakeRunner struct {
	mu       sync.Mutex
	answer   string
	degraded error
	err      error
	during   func()
	seen     []string
}

func (f *fakeRunner) Run(ctx context.Context, question string, history []model.ConversationTurn, obs agent.Observer) (agent.Outcome, error) {
	f.mu.Lock()
	f.seen = append(f.seen, question)
	f.mu.Unlock()
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return agent.Outcome{}, f.err
	}
	if obs != nil {
		obs(agent.PhaseStart, agent.PhaseDecidingTool)
		obs(agent.PhaseDecidingTool, agent.PhaseAwaitingToolResult)
		obs(agent.PhaseAwaitingToolResult, agent.PhaseSynthesizing)
		obs(agent.PhaseSynthesizing, agent.PhaseDone)
	}
	return agent.Outcome{Answer: f.answer + " " + question, ToolsUsed: []string{"shark_tank_search"}, Degraded: f.degraded}, nil
}

func newProcessor(q *memqueue.Queue, r AgentRunner, s repository.SessionStore, retry bool) *ChatJobProcessor {
	logger := zerolog.Nop()
	return NewChatJobProcessor(q, r, s, ProcessorConfig{WorkerID: "w1", LockDuration: time.Minute, RetryUpstream: retry}, &logger)
}

func TestProcessOne_Chat(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	sessions := session.NewMemoryStore()
	runner := &fakeRunner{answer: "answer to"}
	p := newProcessor(q, runner, sessions, true)

	var progress []int
	runner.during = func() {
		jobs, _ := q.Recent(ctx, model.JobStatusActive, 1)
		if len(jobs) == 1 {
			progress = append(progress, jobs[0].Progress)
		}
	}

	id, err := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "What is Shark Tank?", SessionID: "s1"}), model.JobOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ok, err := p.ProcessOne(ctx)
	if err != nil || !ok {
		t.Fatalf("ProcessOne = %v, %v", ok, err)
	}

	j, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != model.JobStatusCompleted || j.Progress != 100 {
		t.Fatalf("job = %s %d", j.Status, j.Progress)
	}
	if len(progress) != 1 || progress[0] != ProgressClaimed {
		t.Fatalf("progress at run start = %v", progress)
	}
	var res model.ChatResult
	if err := json.Unmarshal(j.Result, &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Response != "answer to What is Shark Tank?" || res.SessionID != "s1" {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ToolsUsed) != 1 || res.Timestamp == "" {
		t.Fatalf("result = %+v", res)
	}

	s, err := sessions.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if len(s.Turns) != 2 || s.Turns[0].Role != model.RoleUser || s.Turns[1].Content != res.Response {
		t.Fatalf("session turns = %+v", s.Turns)
	}
}

func TestProcessOne_NothingToClaim(t *testing.T) {
	p := newProcessor(memqueue.New(), &fakeRunner{}, nil, true)
	ok, err := p.ProcessOne(context.Background())
	if ok || err != nil {
		t.Fatalf("ProcessOne = %v, %v", ok, err)
	}
}

func TestProcessOne_UpstreamRetry(t *testing.T) {
	ctx := context.Background()
	upstream := &fakeRunner{answer: agent.ApologyUpstream, degraded: errors.New("502")}

	t.Run("retries while attempts remain", func(t *testing.T) {
		q := memqueue.New()
		p := newProcessor(q, upstream, nil, true)
		id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi"}), model.JobOptions{Attempts: 2})
		if _, err := p.ProcessOne(ctx); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
		j, _ := q.Get(ctx, id)
		if j.Status != model.JobStatusDelayed || j.AttemptsMade != 1 {
			t.Fatalf("job = %s attempts=%d", j.Status, j.AttemptsMade)
		}
	})

	t.Run("last attempt completes with apology", func(t *testing.T) {
		q := memqueue.New()
		p := newProcessor(q, upstream, nil, true)
		id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi"}), model.JobOptions{Attempts: 1})
		if _, err := p.ProcessOne(ctx); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
		j, _ := q.Get(ctx, id)
		if j.Status != model.JobStatusCompleted {
			t.Fatalf("status = %s", j.Status)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		q := memqueue.New()
		p := newProcessor(q, upstream, nil, false)
		id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi"}), model.JobOptions{})
		if _, err := p.ProcessOne(ctx); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
		j, _ := q.Get(ctx, id)
		if j.Status != model.JobStatusCompleted {
			t.Fatalf("status = %s", j.Status)
		}
	})
}

func TestProcessOne_RunnerError(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	p := newProcessor(q, &fakeRunner{err: context.DeadlineExceeded}, nil, true)
	id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi"}), model.JobOptions{Attempts: 1})
	if _, err := p.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	j, _ := q.Get(ctx, id)
	if j.Status != model.JobStatusFailed || j.FailureReason != context.DeadlineExceeded.Error() {
		t.Fatalf("job = %s %q", j.Status, j.FailureReason)
	}
}

func TestProcessOne_Batch(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	sessions := session.NewMemoryStore()
	p := newProcessor(q, &fakeRunner{answer: "re"}, sessions, true)
	id, err := q.Enqueue(ctx, model.JobKindBatchChat, model.BatchJobPayload(model.BatchPayload{Messages: []model.ChatPayload{
		{Message: "one", SessionID: "b_0"},
		{Message: "two", SessionID: "b_1"},
	}}), model.JobOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := p.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	j, _ := q.Get(ctx, id)
	var res model.BatchResult
	if err := json.Unmarshal(j.Result, &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Total != 2 || len(res.Results) != 2 || res.Results[1].Response != "re two" {
		t.Fatalf("batch = %+v", res)
	}
	if _, err := sessions.Get(ctx, "b_1"); err != nil {
		t.Fatalf("session b_1: %v", err)
	}
}

func TestProcessOne_CancelledWhileRunning(t *testing.T) {
	ctx := context.Background()
	q := memqueue.New()
	sessions := session.NewMemoryStore()
	runner := &fakeRunner{answer: "late"}
	p := newProcessor(q, runner, sessions, true)
	id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi", SessionID: "s1"}), model.JobOptions{})
	runner.during = func() {
		if ok, err := q.Cancel(ctx, id); !ok || err != nil {
			t.Errorf("Cancel = %v, %v", ok, err)
		}
	}
	ok, err := p.ProcessOne(ctx)
	if !ok || err != nil {
		t.Fatalf("ProcessOne = %v, %v", ok, err)
	}
	if _, err := q.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after cancel: %v", err)
	}
	if _, err := sessions.Get(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cancelled exchange reached the session: %v", err)
	}
}

func TestProcessOne_StaleClaimCannotFinish(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q := memqueue.New(memqueue.WithClock(func() time.Time { return now }))
	sessions := session.NewMemoryStore()
	runner := &fakeRunner{answer: "stale"}
	p := newProcessor(q, runner, sessions, true)
	id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi", SessionID: "s1"}), model.JobOptions{})

	var owner string
	runner.during = func() {
		// lock expiry, then a reclaim from within the same process
		now = now.Add(2 * time.Minute)
		if requeued, _, err := q.RecoverStalled(ctx, 1); requeued != 1 || err != nil {
			t.Errorf("RecoverStalled = %d, %v", requeued, err)
		}
		owner = p.claimOwner()
		if _, err := q.Claim(ctx, owner, time.Minute); err != nil {
			t.Errorf("reclaim: %v", err)
		}
	}
	if _, err := p.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	j, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != model.JobStatusActive || j.LockedBy != owner || len(j.Result) != 0 {
		t.Fatalf("job = %s locked_by=%q result=%s", j.Status, j.LockedBy, j.Result)
	}
	if _, err := sessions.Get(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("stale exchange reached the session: %v", err)
	}
}

func TestClaimOwner_UniquePerClaim(t *testing.T) {
	p := newProcessor(memqueue.New(), &fakeRunner{}, nil, true)
	a, b := p.claimOwner(), p.claimOwner()
	if a == b || !strings.HasPrefix(a, "w1:") {
		t.Fatalf("owners = %q, %q", a, b)
	}
}

func TestStart_DrainsThroughPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.Nop()
	q := memqueue.New()
	p := NewChatJobProcessor(q, &fakeRunner{answer: "ok"}, nil, ProcessorConfig{WorkerID: "w1", PollInterval: 10 * time.Millisecond}, &logger)
	pool := NewPool(2, &logger)
	pool.Start(ctx)
	defer pool.Stop()
	go p.Start(ctx, pool)

	id, _ := q.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(model.ChatPayload{Message: "hi"}), model.JobOptions{})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, err := q.Get(ctx, id)
		if err == nil && j.Status == model.JobStatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was not processed")
}
