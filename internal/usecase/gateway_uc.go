package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/metrics"
)

// Compile-time check
var _ JobGateway = (*gatewayUC)(nil)

// JobGateway is the entry point for chat work: async submission, a bounded
// synchronous wait, and job administration.
type JobGateway interface {
	Submit(ctx context.Context, req ChatRequest) (string, error)
	SubmitBatch(ctx context.Context, req BatchRequest) (jobID string, count int, err error)
	SubmitAndWait(ctx context.Context, req ChatRequest, opts WaitOptions) (*model.ChatResult, error)

	Status(ctx context.Context, jobID string) (*model.JobInfo, error)
	Result(ctx context.Context, jobID string) (*ResultView, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	Retry(ctx context.Context, jobID string) (bool, error)

	Stats(ctx context.Context) (model.QueueStats, error)
	Recent(ctx context.Context, status model.JobStatus, limit int) ([]model.JobInfo, error)
	Clean(ctx context.Context, olderThan time.Duration) (int, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Health(ctx context.Context) (*QueueHealth, error)

	Session(ctx context.Context, sessionID string) (*model.Session, error)
	ClearSession(ctx context.Context, sessionID string) error
}

type ChatRequest struct {
	Message   string                   `json:"message"`
	SessionID string                   `json:"sessionId,omitempty"`
	History   []model.ConversationTurn `json:"conversationHistory,omitempty"`
	UserID    string                   `json:"userId,omitempty"`
	Metadata  map[string]any           `json:"metadata,omitempty"`
}

type BatchRequest struct {
	Messages []ChatRequest `json:"messages"`
	UserID   string        `json:"userId,omitempty"`
}

// WaitOptions bound SubmitAndWait. Zero values use the gateway defaults.
type WaitOptions struct {
	MaxWait      time.Duration
	PollInterval time.Duration
}

type ResultState string

const (
	ResultReady      ResultState = "ready"
	ResultProcessing ResultState = "processing"
	ResultFailed     ResultState = "failed"
)

// ResultView distinguishes a finished result from a job still in flight.
type ResultView struct {
	State  ResultState     `json:"state"`
	Status model.JobStatus `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

type QueueHealth struct {
	Status    string           `json:"status"`
	Queue     string           `json:"queue"`
	Paused    bool             `json:"paused"`
	Stats     model.QueueStats `json:"stats"`
	Timestamp time.Time        `json:"timestamp"`
}

// JobFailedError reports a job that ended in the failed state.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

func (e *JobFailedError) Unwrap() error { return domain.ErrJobFailed }

// WaitTimeoutError carries the job id so callers can fall back to polling.
type WaitTimeoutError struct {
	JobID string
	After time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("job %s still running after %s", e.JobID, e.After)
}

func (e *WaitTimeoutError) Unwrap() error { return domain.ErrWaitTimeout }

type GatewayConfig struct {
	QueueName    string
	ChatOptions  model.JobOptions
	BatchOptions model.JobOptions
	Wait         WaitOptions
	// prior session turns loaded when a request carries only a session id
	HistoryWindow int
}

type gatewayUC struct {
	queue    repository.JobQueue
	sessions repository.SessionStore
	cfg      GatewayConfig
	now      func() time.Time
	log      *zerolog.Logger
}

// NewJobGateway builds the gateway. sessions may be nil, which disables
// server-side history.
func NewJobGateway(queue repository.JobQueue, sessions repository.SessionStore, cfg GatewayConfig, logger *zerolog.Logger) *gatewayUC {
	if cfg.Wait.MaxWait <= 0 {
		cfg.Wait.MaxWait = 60 * time.Second
	}
	if cfg.Wait.PollInterval <= 0 {
		cfg.Wait.PollInterval = 500 * time.Millisecond
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 16
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "agent-queue"
	}
	compLog := logger.With().Str("component", "JobGateway").Logger()
	return &gatewayUC{queue: queue, sessions: sessions, cfg: cfg, now: time.Now, log: &compLog}
}

// WithClock replaces the clock used for default session ids.
func (g *gatewayUC) WithClock(now func() time.Time) *gatewayUC {
	g.now = now
	return g
}

func (g *gatewayUC) Submit(ctx context.Context, req ChatRequest) (string, error) {
	p, err := g.chatPayload(ctx, req, "")
	if err != nil {
		return "", err
	}
	id, err := g.queue.Enqueue(ctx, model.JobKindChat, model.ChatJobPayload(p), g.cfg.ChatOptions)
	if err != nil {
		return "", err
	}
	metrics.IncJobEnqueued(string(model.JobKindChat))
	g.log.Info().Str("job_id", id).Str("session_id", p.SessionID).Int("history", len(p.History)).Msg("chat job enqueued")
	return id, nil
}

func (g *gatewayUC) SubmitBatch(ctx context.Context, req BatchRequest) (string, int, error) {
	if len(req.Messages) == 0 {
		return "", 0, fmt.Errorf("%w: messages must not be empty", domain.ErrInvalidArgument)
	}
	stamp := g.now().UnixMilli()
	batch := model.BatchPayload{Messages: make([]model.ChatPayload, 0, len(req.Messages)), UserID: req.UserID}
	for i, m := range req.Messages {
		if m.UserID == "" {
			m.UserID = req.UserID
		}
		p, err := g.chatPayload(ctx, m, fmt.Sprintf("session_%d_%d", stamp, i))
		if err != nil {
			return "", 0, fmt.Errorf("messages[%d]: %w", i, err)
		}
		batch.Messages = append(batch.Messages, p)
	}
	id, err := g.queue.Enqueue(ctx, model.JobKindBatchChat, model.BatchJobPayload(batch), g.cfg.BatchOptions)
	if err != nil {
		return "", 0, err
	}
	metrics.IncJobEnqueued(string(model.JobKindBatchChat))
	g.log.Info().Str("job_id", id).Int("messages", len(batch.Messages)).Msg("batch job enqueued")
	return id, len(batch.Messages), nil
}

// chatPayload validates req and fills the session id and stored history.
func (g *gatewayUC) chatPayload(ctx context.Context, req ChatRequest, defaultSession string) (model.ChatPayload, error) {
	p := model.ChatPayload{
		Message:   strings.TrimSpace(req.Message),
		SessionID: strings.TrimSpace(req.SessionID),
		History:   req.History,
		UserID:    req.UserID,
		Metadata:  req.Metadata,
	}
	if err := p.Validate(); err != nil {
		return p, err
	}

	if p.SessionID != "" && len(p.History) == 0 && g.sessions != nil {
		sess, err := g.sessions.Get(ctx, p.SessionID)
		switch {
		case err == nil:
			p.History = dialogue(sess.Recent(g.cfg.HistoryWindow))
		case errors.Is(err, domain.ErrNotFound):
		default:
			g.log.Warn().Err(err).Str("session_id", p.SessionID).Msg("session lookup failed; continuing without history")
		}
	}
	if p.SessionID == "" {
		p.SessionID = defaultSession
		if p.SessionID == "" {
			p.SessionID = fmt.Sprintf("session_%d", g.now().UnixMilli())
		}
	}
	return p, nil
}

func dialogue(turns []model.ConversationTurn) []model.ConversationTurn {
	out := make([]model.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.IsDialogue() {
			out = append(out, t)
		}
	}
	return out
}

func (g *gatewayUC) SubmitAndWait(ctx context.Context, req ChatRequest, opts WaitOptions) (*model.ChatResult, error) {
	if opts.MaxWait <= 0 {
		opts.MaxWait = g.cfg.Wait.MaxWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = g.cfg.Wait.PollInterval
	}
	if paused, err := g.queue.IsPaused(ctx); err == nil && paused {
		return nil, domain.ErrQueuePaused
	}

	id, err := g.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(opts.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		job, err := g.queue.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case model.JobStatusCompleted:
			var res model.ChatResult
			if err := json.Unmarshal(job.Result, &res); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w", id, err)
			}
			return &res, nil
		case model.JobStatusFailed:
			return nil, &JobFailedError{JobID: id, Reason: job.FailureReason}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			g.log.Warn().Str("job_id", id).Dur("max_wait", opts.MaxWait).Msg("sync wait timed out")
			return nil, &WaitTimeoutError{JobID: id, After: opts.MaxWait}
		case <-ticker.C:
		}
	}
}

func (g *gatewayUC) Status(ctx context.Context, jobID string) (*model.JobInfo, error) {
	job, err := g.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	paused, err := g.queue.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	info := job.Info(g.now(), paused)
	return &info, nil
}

func (g *gatewayUC) Result(ctx context.Context, jobID string) (*ResultView, error) {
	job, err := g.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusCompleted:
		return &ResultView{State: ResultReady, Status: job.Status, Result: job.Result}, nil
	case model.JobStatusFailed:
		return &ResultView{State: ResultFailed, Status: job.Status, Reason: job.FailureReason}, nil
	}
	return &ResultView{State: ResultProcessing, Status: job.Status}, nil
}

func (g *gatewayUC) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := g.queue.Cancel(ctx, jobID)
	if err == nil && ok {
		g.log.Info().Str("job_id", jobID).Msg("job cancelled")
	}
	return ok, err
}

func (g *gatewayUC) Retry(ctx context.Context, jobID string) (bool, error) {
	ok, err := g.queue.Retry(ctx, jobID)
	if err == nil && ok {
		g.log.Info().Str("job_id", jobID).Msg("job retried")
	}
	return ok, err
}

func (g *gatewayUC) Stats(ctx context.Context) (model.QueueStats, error) {
	s, err := g.queue.Stats(ctx)
	if err != nil {
		return s, err
	}
	metrics.SetQueueDepth(map[string]int{
		string(model.JobStatusWaiting):   s.Waiting,
		string(model.JobStatusActive):    s.Active,
		string(model.JobStatusCompleted): s.Completed,
		string(model.JobStatusFailed):    s.Failed,
		string(model.JobStatusDelayed):   s.Delayed,
		string(model.JobStatusPaused):    s.Paused,
	})
	return s, nil
}

func (g *gatewayUC) Recent(ctx context.Context, status model.JobStatus, limit int) ([]model.JobInfo, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	if limit <= 0 {
		limit = 10
	}
	jobs, err := g.queue.Recent(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	paused, err := g.queue.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	now := g.now()
	out := make([]model.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Info(now, paused))
	}
	return out, nil
}

func (g *gatewayUC) Clean(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: olderThan must be positive", domain.ErrInvalidArgument)
	}
	n, err := g.queue.Clean(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	metrics.AddCleaned(n)
	g.log.Info().Int("removed", n).Dur("older_than", olderThan).Msg("queue cleaned")
	return n, nil
}

func (g *gatewayUC) Pause(ctx context.Context) error {
	if err := g.queue.Pause(ctx); err != nil {
		return err
	}
	g.log.Warn().Msg("queue paused")
	return nil
}

func (g *gatewayUC) Resume(ctx context.Context) error {
	if err := g.queue.Resume(ctx); err != nil {
		return err
	}
	g.log.Info().Msg("queue resumed")
	return nil
}

func (g *gatewayUC) Health(ctx context.Context) (*QueueHealth, error) {
	s, err := g.Stats(ctx)
	if err != nil {
		return nil, err
	}
	paused, err := g.queue.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	return &QueueHealth{Status: "healthy", Queue: g.cfg.QueueName, Paused: paused, Stats: s, Timestamp: g.now().UTC()}, nil
}

func (g *gatewayUC) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	if g.sessions == nil {
		return nil, domain.ErrNotFound
	}
	return g.sessions.Get(ctx, sessionID)
}

func (g *gatewayUC) ClearSession(ctx context.Context, sessionID string) error {
	if g.sessions == nil {
		return nil
	}
	return g.sessions.Delete(ctx, sessionID)
}
