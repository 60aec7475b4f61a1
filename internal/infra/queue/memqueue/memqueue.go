// Package memqueue is an in-process JobQueue. State lives in one map guarded by
// a mutex, so it does not survive a restart.
package memqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
)

var _ repository.JobQueue = (*Queue)(nil)

type Queue struct {
	mu     sync.Mutex
	jobs   map[string]*model.ChatJob
	paused bool
	now    func() time.Time
}

type Option func(*Queue)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(opts ...Option) *Queue {
	q := &Queue{jobs: make(map[string]*model.ChatJob), now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, kind model.JobKind, payload model.JobPayload, opts model.JobOptions) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, kind)
	}
	if err := payload.Validate(kind); err != nil {
		return "", err
	}
	opts = opts.WithDefaults(kind)

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	id := ulid.Make().String()
	q.jobs[id] = &model.ChatJob{
		ID:          id,
		Kind:        kind,
		Payload:     payload,
		Status:      model.JobStatusWaiting,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*model.ChatJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(j), nil
}

func (q *Queue) Claim(ctx context.Context, workerID string, lockFor time.Duration) (*model.ChatJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return nil, domain.ErrNotFound
	}
	now := q.now()

	var next *model.ChatJob
	for _, j := range q.jobs {
		runnable := j.Status == model.JobStatusWaiting ||
			(j.Status == model.JobStatusDelayed && !j.RunAt.After(now))
		if !runnable {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.ID < next.ID) {
			next = j
		}
	}
	if next == nil {
		return nil, domain.ErrNotFound
	}

	until := now.Add(lockFor)
	next.Status = model.JobStatusActive
	next.LockedBy = workerID
	next.LockedUntil = &until
	if next.ProcessedAt == nil {
		next.ProcessedAt = ptr(now)
	}
	next.UpdatedAt = now
	return clone(next), nil
}

// owned returns the job when it is active and locked by workerID.
func (q *Queue) owned(id, workerID string) (*model.ChatJob, error) {
	j, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != model.JobStatusActive || j.LockedBy != workerID {
		return nil, domain.ErrLockLost
	}
	return j, nil
}

func (q *Queue) Heartbeat(ctx context.Context, id, workerID string, lockFor time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(id, workerID)
	if err != nil {
		return err
	}
	until := q.now().Add(lockFor)
	j.LockedUntil = &until
	return nil
}

func (q *Queue) UpdateProgress(ctx context.Context, id, workerID string, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(id, workerID)
	if err != nil {
		return err
	}
	progress = clampProgress(progress)
	if progress > j.Progress {
		j.Progress = progress
		j.UpdatedAt = q.now()
	}
	return nil
}

func (q *Queue) Complete(ctx context.Context, id, workerID string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(id, workerID)
	if err != nil {
		return err
	}
	now := q.now()
	j.Status = model.JobStatusCompleted
	j.Progress = 100
	j.Result = append(json.RawMessage(nil), result...)
	j.FailureReason = ""
	j.LockedBy = ""
	j.LockedUntil = nil
	j.FinishedAt = ptr(now)
	j.UpdatedAt = now
	return nil
}

func (q *Queue) Fail(ctx context.Context, id, workerID, reason string) (model.JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(id, workerID)
	if err != nil {
		return "", err
	}
	now := q.now()
	j.AttemptsMade++
	j.LockedBy = ""
	j.LockedUntil = nil
	j.UpdatedAt = now
	if j.AttemptsMade < j.MaxAttempts {
		j.Status = model.JobStatusDelayed
		j.RunAt = now.Add(model.BackoffDelay(j.Backoff, j.AttemptsMade))
		return j.Status, nil
	}
	j.Status = model.JobStatusFailed
	j.FailureReason = reason
	j.FinishedAt = ptr(now)
	return j.Status, nil
}

func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || !j.Status.Cancellable() {
		return false, nil
	}
	delete(q.jobs, id)
	return true, nil
}

func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || j.Status != model.JobStatusFailed {
		return false, nil
	}
	now := q.now()
	j.Status = model.JobStatusWaiting
	j.AttemptsMade++
	j.FailureReason = ""
	j.Result = nil
	j.FinishedAt = nil
	j.RunAt = now
	j.UpdatedAt = now
	return true, nil
}

func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s model.QueueStats
	for _, j := range q.jobs {
		switch j.Status {
		case model.JobStatusWaiting:
			if q.paused {
				s.Paused++
			} else {
				s.Waiting++
			}
		case model.JobStatusActive:
			s.Active++
		case model.JobStatusCompleted:
			s.Completed++
		case model.JobStatusFailed:
			s.Failed++
		case model.JobStatusDelayed:
			s.Delayed++
		}
	}
	s.Sum()
	return s, nil
}

func (q *Queue) Recent(ctx context.Context, status model.JobStatus, limit int) ([]*model.ChatJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.ChatJob, 0)
	for _, j := range q.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, clone(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *Queue) RecoverStalled(ctx context.Context, maxStalled int) (requeued, failed int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, j := range q.jobs {
		if j.Status != model.JobStatusActive || j.LockedUntil == nil || !now.After(*j.LockedUntil) {
			continue
		}
		j.StalledCount++
		j.LockedBy = ""
		j.LockedUntil = nil
		j.UpdatedAt = now
		if j.StalledCount > maxStalled {
			j.Status = model.JobStatusFailed
			j.FailureReason = model.StalledReason
			j.FinishedAt = ptr(now)
			failed++
			continue
		}
		j.Status = model.JobStatusWaiting
		j.RunAt = now
		requeued++
	}
	return requeued, failed, nil
}

func (q *Queue) Clean(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-olderThan)
	n := 0
	for id, j := range q.jobs {
		if !j.Status.Finished() || j.FinishedAt == nil || !j.FinishedAt.Before(cutoff) {
			continue
		}
		delete(q.jobs, id)
		n++
	}
	return n, nil
}

func (q *Queue) Pause(ctx context.Context) error {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	return nil
}

func (q *Queue) Resume(ctx context.Context) error {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	return nil
}

func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused, nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func clone(j *model.ChatJob) *model.ChatJob {
	c := *j
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.LockedUntil != nil {
		c.LockedUntil = ptr(*j.LockedUntil)
	}
	if j.ProcessedAt != nil {
		c.ProcessedAt = ptr(*j.ProcessedAt)
	}
	if j.FinishedAt != nil {
		c.FinishedAt = ptr(*j.FinishedAt)
	}
	return &c
}

func ptr(t time.Time) *time.Time { return &t }
