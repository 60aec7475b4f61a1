package repository

import (
	"context"
	"encoding/json"
	"time"

	"sharktank-agent/internal/domain/model"
)

// JobQueue is the durable store of chat jobs and the single source of truth
// for their state. Implementations serialize mutations per job: worker-side
// calls only succeed while the job is active and locked by that worker.
type JobQueue interface {
	Enqueue(ctx context.Context, kind model.JobKind, payload model.JobPayload, opts model.JobOptions) (string, error)
	// Get returns domain.ErrNotFound for unknown or removed jobs.
	Get(ctx context.Context, id string) (*model.ChatJob, error)

	// Claim atomically moves the oldest runnable job (waiting, or delayed and due)
	// to active and locks it for lockFor. Returns domain.ErrNotFound when there is
	// nothing to run or the queue is paused.
	Claim(ctx context.Context, workerID string, lockFor time.Duration) (*model.ChatJob, error)
	Heartbeat(ctx context.Context, id, workerID string, lockFor time.Duration) error
	UpdateProgress(ctx context.Context, id, workerID string, progress int) error
	Complete(ctx context.Context, id, workerID string, result json.RawMessage) error
	// Fail records a failed attempt. The job is delayed for a retry while attempts
	// remain, otherwise it becomes failed. The resulting status is returned.
	Fail(ctx context.Context, id, workerID, reason string) (model.JobStatus, error)

	Cancel(ctx context.Context, id string) (bool, error)
	Retry(ctx context.Context, id string) (bool, error)

	Stats(ctx context.Context) (model.QueueStats, error)
	Recent(ctx context.Context, status model.JobStatus, limit int) ([]*model.ChatJob, error)

	// RecoverStalled requeues active jobs whose lock expired, failing those that
	// stalled more than maxStalled times.
	RecoverStalled(ctx context.Context, maxStalled int) (requeued, failed int, err error)
	// Clean removes completed and failed jobs finished before now-olderThan.
	Clean(ctx context.Context, olderThan time.Duration) (int, error)

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
}
