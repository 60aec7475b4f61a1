package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"sharktank-agent/internal/domain"
)

type JobKind string

const (
	JobKindChat      JobKind = "chat"
	JobKindBatchChat JobKind = "batch-chat"
)

func (k JobKind) Valid() bool {
	return k == JobKindChat || k == JobKindBatchChat
}

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusPaused    JobStatus = "paused"
	JobStatusStuck     JobStatus = "stuck"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusWaiting, JobStatusActive, JobStatusCompleted, JobStatusFailed,
		JobStatusDelayed, JobStatusPaused, JobStatusStuck:
		return true
	}
	return false
}

// Finished reports whether the job reached a terminal status.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Cancellable reports whether a job in this status may be removed by cancel.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusWaiting || s == JobStatusActive || s == JobStatusDelayed
}

// ChatPayload is the body of a single chat request.
type ChatPayload struct {
	Message   string             `json:"message"`
	SessionID string             `json:"sessionId,omitempty"`
	History   []ConversationTurn `json:"conversationHistory,omitempty"`
	UserID    string             `json:"userId,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

func (p ChatPayload) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}
	return nil
}

// BatchPayload groups several chat requests processed sequentially by one job.
type BatchPayload struct {
	Messages []ChatPayload `json:"messages"`
	UserID   string        `json:"userId,omitempty"`
}

func (p BatchPayload) Validate() error {
	if len(p.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", domain.ErrInvalidArgument)
	}
	for i, m := range p.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// JobPayload holds exactly one variant, matching the job kind.
type JobPayload struct {
	Chat  *ChatPayload  `json:"chat,omitempty"`
	Batch *BatchPayload `json:"batch,omitempty"`
}

func ChatJobPayload(p ChatPayload) JobPayload   { return JobPayload{Chat: &p} }
func BatchJobPayload(p BatchPayload) JobPayload { return JobPayload{Batch: &p} }

// Kind derives the job kind from the populated variant.
func (p JobPayload) Kind() (JobKind, error) {
	switch {
	case p.Chat != nil && p.Batch == nil:
		return JobKindChat, nil
	case p.Batch != nil && p.Chat == nil:
		return JobKindBatchChat, nil
	}
	return "", domain.ErrInvalidPayload
}

// Validate checks that the payload variant matches kind and that its content is usable.
func (p JobPayload) Validate(kind JobKind) error {
	k, err := p.Kind()
	if err != nil {
		return err
	}
	if k != kind {
		return fmt.Errorf("%w: got %s payload for %s job", domain.ErrInvalidPayload, k, kind)
	}
	if p.Chat != nil {
		return p.Chat.Validate()
	}
	return p.Batch.Validate()
}

// JobOptions control retries. Zero values fall back to the per-kind defaults.
type JobOptions struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultJobOptions returns the retry policy for a job kind.
func DefaultJobOptions(kind JobKind) JobOptions {
	if kind == JobKindBatchChat {
		return JobOptions{Attempts: 2, Backoff: 3 * time.Second}
	}
	return JobOptions{Attempts: 3, Backoff: 2 * time.Second}
}

func (o JobOptions) WithDefaults(kind JobKind) JobOptions {
	def := DefaultJobOptions(kind)
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.Backoff <= 0 {
		o.Backoff = def.Backoff
	}
	return o
}

// BackoffDelay is the exponential delay before the given retry (1-based).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(time.Hour) {
		return time.Hour
	}
	return time.Duration(d)
}

// StalledReason is the failure reason of a job that exceeded the stall limit.
const StalledReason = "job stalled more than allowable limit"

// ChatJob is one durably queued unit of agent work.
type ChatJob struct {
	ID            string
	Kind          JobKind
	Payload       JobPayload
	Status        JobStatus
	Progress      int
	AttemptsMade  int
	MaxAttempts   int
	Backoff       time.Duration
	RunAt         time.Time
	LockedBy      string
	LockedUntil   *time.Time
	StalledCount  int
	Result        json.RawMessage
	FailureReason string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	FinishedAt    *time.Time
	UpdatedAt     time.Time
}

// Info builds the externally visible view of the job. A waiting job of a
// paused queue reads as paused; an active job with an expired lock reads as stuck.
func (j *ChatJob) Info(now time.Time, queuePaused bool) JobInfo {
	status := j.Status
	switch {
	case status == JobStatusWaiting && queuePaused:
		status = JobStatusPaused
	case status == JobStatusActive && j.LockedUntil != nil && now.After(*j.LockedUntil):
		status = JobStatusStuck
	}
	info := JobInfo{
		ID:           j.ID,
		Kind:         j.Kind,
		Status:       status,
		Progress:     j.Progress,
		Data:         j.Payload,
		CreatedAt:    j.CreatedAt,
		ProcessedAt:  j.ProcessedAt,
		FinishedAt:   j.FinishedAt,
		AttemptsMade: j.AttemptsMade,
	}
	if j.Status == JobStatusCompleted {
		info.Result = j.Result
	}
	if j.Status == JobStatusFailed {
		info.FailedReason = j.FailureReason
		info.Error = j.FailureReason
	}
	return info
}

// JobInfo is the read model returned by status queries.
type JobInfo struct {
	ID           string          `json:"id"`
	Kind         JobKind         `json:"kind"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Data         JobPayload      `json:"data"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	FailedReason string          `json:"failedReason,omitempty"`
}

type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Paused    int `json:"paused"`
	Total     int `json:"total"`
}

// Sum fills Total from the per-status counts.
func (s *QueueStats) Sum() {
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed + s.Paused
}

// ChatResult is the stored result of a single chat job.
type ChatResult struct {
	Response       string   `json:"response"`
	SessionID      string   `json:"sessionId"`
	ToolsUsed      []string `json:"toolsUsed,omitempty"`
	ProcessingTime int64    `json:"processingTime"`
	Timestamp      string   `json:"timestamp"`
}

// BatchResult is the stored result of a batch job.
type BatchResult struct {
	Results []ChatResult `json:"results"`
	Total   int          `json:"total"`
}
