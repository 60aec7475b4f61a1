package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sharktank-agent/internal/agent"
	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/metrics"
)

// Progress checkpoints of a single chat job.
const (
	ProgressClaimed     = 10
	ProgressDecided     = 30
	ProgressSynthesis   = 60
	ProgressAnswerReady = 90
)

// AgentRunner answers one message. *agent.Machine satisfies it.
type AgentRunner interface {
	Run(ctx context.Context, question string, history []model.ConversationTurn, obs agent.Observer) (agent.Outcome, error)
}

type ProcessorConfig struct {
	// prefix of the per-claim lock owner id
	WorkerID     string
	LockDuration time.Duration
	PollInterval time.Duration
	JobTimeout   time.Duration
	// fail attempts whose answer degraded on an upstream error while attempts remain
	RetryUpstream bool
}

type ChatJobProcessor struct {
	queue    repository.JobQueue
	agent    AgentRunner
	sessions repository.SessionStore
	cfg      ProcessorConfig
	now      func() time.Time
	log      *zerolog.Logger
}

// NewChatJobProcessor wires the processor. sessions may be nil.
func NewChatJobProcessor(queue repository.JobQueue, runner AgentRunner, sessions repository.SessionStore, cfg ProcessorConfig, logger *zerolog.Logger) *ChatJobProcessor {
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 60 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	compLog := logger.With().Str("component", "ChatJobProcessor").Str("worker_id", cfg.WorkerID).Logger()
	return &ChatJobProcessor{queue: queue, agent: runner, sessions: sessions, cfg: cfg, now: time.Now, log: &compLog}
}

// Start polls the queue and hands drain tasks to the pool until ctx ends.
func (p *ChatJobProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("poll_interval", p.cfg.PollInterval).Int("concurrency", pool.Size()).Msg("chat job processor started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("chat job processor stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				p.Drain(ctx)
				return nil
			})
		}
	}
}

// Drain processes jobs until the queue has nothing runnable.
func (p *ChatJobProcessor) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		ok, err := p.ProcessOne(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("process job")
			return
		}
		if !ok {
			return
		}
	}
}

// ProcessOne claims and runs a single job. It reports false when there was
// nothing to claim.
func (p *ChatJobProcessor) ProcessOne(ctx context.Context) (bool, error) {
	owner := p.claimOwner()
	job, err := p.queue.Claim(ctx, owner, p.cfg.LockDuration)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}

	jl := p.log.With().Str("job_id", job.ID).Str("owner", owner).Str("kind", string(job.Kind)).Int("attempt", job.AttemptsMade+1).Logger()
	r := &jobRun{job: job, owner: owner, start: p.now(), log: &jl}
	jl.Info().Msg("processing job")

	stopBeat := p.heartbeat(ctx, r)
	defer stopBeat()

	p.progress(ctx, r, ProgressClaimed)

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	var (
		result   any
		degraded error
		runErr   error
	)
	switch job.Kind {
	case model.JobKindChat:
		var res *model.ChatResult
		res, degraded, runErr = p.runChat(jobCtx, r, *job.Payload.Chat, true)
		result = res
	case model.JobKindBatchChat:
		result, degraded, runErr = p.runBatch(jobCtx, r)
	default:
		runErr = fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidPayload, job.Kind)
	}

	switch {
	case runErr != nil:
		p.fail(ctx, r, runErr.Error())
	case degraded != nil && p.cfg.RetryUpstream && job.AttemptsMade+1 < job.MaxAttempts:
		p.fail(ctx, r, "upstream: "+degraded.Error())
	default:
		p.complete(ctx, r, result)
	}
	return true, nil
}

// jobRun is one claimed job. owner is the lock owner of this claim only.
type jobRun struct {
	job   *model.ChatJob
	owner string
	start time.Time
	log   *zerolog.Logger
}

// claimOwner is unique per claim. Only the latest claim of a job may touch it.
func (p *ChatJobProcessor) claimOwner() string {
	return p.cfg.WorkerID + ":" + uuid.NewString()
}

func (p *ChatJobProcessor) runChat(ctx context.Context, r *jobRun, req model.ChatPayload, track bool) (*model.ChatResult, error, error) {
	var obs agent.Observer
	if track {
		obs = func(from, to agent.Phase) {
			if from == agent.PhaseDecidingTool {
				p.progress(ctx, r, ProgressDecided)
			}
			if to == agent.PhaseSynthesizing {
				p.progress(ctx, r, ProgressSynthesis)
			}
		}
	}

	out, err := p.agent.Run(ctx, req.Message, req.History, obs)
	if err != nil {
		return nil, nil, err
	}
	if track {
		p.progress(ctx, r, ProgressAnswerReady)
	}

	now := p.now()
	res := &model.ChatResult{
		Response:       out.Answer,
		SessionID:      req.SessionID,
		ToolsUsed:      out.ToolsUsed,
		ProcessingTime: now.Sub(r.start).Milliseconds(),
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
	}
	r.log.Debug().Strs("tools", out.ToolsUsed).Bool("degraded", out.Degraded != nil).Msg("agent run finished")
	return res, out.Degraded, nil
}

func (p *ChatJobProcessor) runBatch(ctx context.Context, r *jobRun) (*model.BatchResult, error, error) {
	msgs := r.job.Payload.Batch.Messages
	out := &model.BatchResult{Results: make([]model.ChatResult, 0, len(msgs)), Total: len(msgs)}
	var degraded error
	for i, m := range msgs {
		res, d, err := p.runChat(ctx, r, m, false)
		if err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
		if d != nil && degraded == nil {
			degraded = d
		}
		out.Results = append(out.Results, *res)
		p.progress(ctx, r, (i+1)*100/len(msgs))
	}
	return out, degraded, nil
}

func (p *ChatJobProcessor) complete(ctx context.Context, r *jobRun, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		p.fail(ctx, r, "encode result: "+err.Error())
		return
	}
	if err := p.queue.Complete(ctx, r.job.ID, r.owner, raw); err != nil {
		// cancelled or reclaimed while running
		r.log.Warn().Err(err).Msg("could not store job result")
		return
	}
	p.remember(ctx, r, result)

	metrics.ObserveJob(string(r.job.Kind), string(model.JobStatusCompleted), p.now().Sub(r.start))
	r.log.Info().Dur("duration", p.now().Sub(r.start)).Msg("job completed")
}

func (p *ChatJobProcessor) fail(ctx context.Context, r *jobRun, reason string) {
	status, err := p.queue.Fail(ctx, r.job.ID, r.owner, reason)
	if err != nil {
		r.log.Warn().Err(err).Str("reason", reason).Msg("could not record job failure")
		return
	}
	metrics.ObserveJob(string(r.job.Kind), string(status), p.now().Sub(r.start))
	ev := r.log.Warn()
	if status == model.JobStatusFailed {
		ev = r.log.Error()
	}
	ev.Str("reason", reason).Str("status", string(status)).Msg("job attempt failed")
}

type exchange struct {
	req model.ChatPayload
	res model.ChatResult
}

// remember appends the exchanged turns of a completed job to the server-side
// sessions.
func (p *ChatJobProcessor) remember(ctx context.Context, r *jobRun, result any) {
	if p.sessions == nil {
		return
	}
	var pairs []exchange
	switch res := result.(type) {
	case *model.ChatResult:
		pairs = append(pairs, exchange{*r.job.Payload.Chat, *res})
	case *model.BatchResult:
		for i, one := range res.Results {
			pairs = append(pairs, exchange{r.job.Payload.Batch.Messages[i], one})
		}
	}

	now := p.now()
	for _, pr := range pairs {
		if pr.req.SessionID == "" {
			continue
		}
		_, err := p.sessions.Append(ctx, pr.req.SessionID, now,
			model.NewTurn(model.RoleUser, pr.req.Message, now),
			model.NewTurn(model.RoleAssistant, pr.res.Response, now),
		)
		if err != nil {
			r.log.Warn().Err(err).Str("session_id", pr.req.SessionID).Msg("could not append session turns")
		}
	}
}

func (p *ChatJobProcessor) progress(ctx context.Context, r *jobRun, pct int) {
	if err := p.queue.UpdateProgress(ctx, r.job.ID, r.owner, pct); err != nil {
		r.log.Debug().Err(err).Int("progress", pct).Msg("progress update rejected")
	}
}

// heartbeat renews the job lock every half lock period until stopped or the
// lock is lost.
func (p *ChatJobProcessor) heartbeat(ctx context.Context, r *jobRun) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(p.cfg.LockDuration / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				err := p.queue.Heartbeat(ctx, r.job.ID, r.owner, p.cfg.LockDuration)
				if errors.Is(err, domain.ErrLockLost) || errors.Is(err, domain.ErrNotFound) {
					r.log.Warn().Err(err).Msg("job lock lost")
					return
				}
				if err != nil && ctx.Err() == nil {
					r.log.Warn().Err(err).Msg("heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
