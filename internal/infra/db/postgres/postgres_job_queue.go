package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
)

var _ repository.JobQueue = (*jobQueue)(nil)

const jobColumns = `id, kind, payload, status, progress, attempts_made, max_attempts, backoff_ms, run_at,
  locked_by, locked_until, stalled_count, result, failure_reason, created_at, processed_at, finished_at, updated_at`

type jobQueue struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
	name string
	now  func() time.Time
}

type QueueOption func(*jobQueue)

// WithQueueClock injects the time source used for run_at, locks and retention.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *jobQueue) { q.now = now }
}

// NewJobQueue returns a JobQueue whose jobs live in chat_jobs, scoped by name.
func NewJobQueue(pool *pgxpool.Pool, tm repository.TransactionManager, name string, opts ...QueueOption) *jobQueue {
	q := &jobQueue{pool: pool, tm: tm, name: name, now: time.Now}
	for _, o := range opts {
		o(q)
	}
	return q
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*model.ChatJob, error) {
	var (
		j            model.ChatJob
		kind, status string
		payload, res []byte
		backoffMS    int64
	)
	err := row.Scan(&j.ID, &kind, &payload, &status, &j.Progress, &j.AttemptsMade, &j.MaxAttempts, &backoffMS, &j.RunAt,
		&j.LockedBy, &j.LockedUntil, &j.StalledCount, &res, &j.FailureReason, &j.CreatedAt, &j.ProcessedAt, &j.FinishedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("%w: job %s payload: %v", domain.ErrInvalidPayload, j.ID, err)
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.Result = res
	j.Backoff = time.Duration(backoffMS) * time.Millisecond
	return &j, nil
}

func (r *jobQueue) Enqueue(ctx context.Context, kind model.JobKind, payload model.JobPayload, opts model.JobOptions) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, kind)
	}
	if err := payload.Validate(kind); err != nil {
		return "", err
	}
	opts = opts.WithDefaults(kind)
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	now := r.now()
	id := ulid.Make().String()
	const q = `
INSERT INTO chat_jobs (id, queue, kind, payload, status, max_attempts, backoff_ms, run_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'waiting', $5, $6, $7, $7, $7);`
	if _, err := execSQL(ctx, r.pool, nil, q, id, r.name, string(kind), raw, opts.Attempts, opts.Backoff.Milliseconds(), now); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

func (r *jobQueue) Get(ctx context.Context, id string) (*model.ChatJob, error) {
	return r.get(ctx, nil, id, false)
}

func (r *jobQueue) get(ctx context.Context, tx repository.Tx, id string, lock bool) (*model.ChatJob, error) {
	q := `SELECT ` + jobColumns + ` FROM chat_jobs WHERE id=$1 AND queue=$2`
	if _, ok := tx.(pgx.Tx); ok && lock {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id, r.name)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobQueue) Claim(ctx context.Context, workerID string, lockFor time.Duration) (*model.ChatJob, error) {
	var job *model.ChatJob
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		paused, err := r.isPaused(ctx, tx)
		if err != nil {
			return err
		}
		if paused {
			return domain.ErrNotFound
		}

		now := r.now()
		const pick = `
SELECT id FROM chat_jobs
WHERE queue=$1 AND (status='waiting' OR (status='delayed' AND run_at <= $2))
ORDER BY run_at, id
LIMIT 1
FOR UPDATE SKIP LOCKED;`
		row, err := pickRow(ctx, r.pool, tx, pick, r.name, now)
		if err != nil {
			return err
		}
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}

		const mark = `
UPDATE chat_jobs
SET status='active', locked_by=$2, locked_until=$3, processed_at=COALESCE(processed_at, $4), updated_at=$4
WHERE id=$1
RETURNING ` + jobColumns + `;`
		row, err = pickRow(ctx, r.pool, tx, mark, id, workerID, now.Add(lockFor), now)
		if err != nil {
			return err
		}
		job, err = scanJob(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ownership explains why a guarded update matched no row.
func (r *jobQueue) ownership(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrLockLost
}

func (r *jobQueue) owned(ctx context.Context, id, workerID, set string, args ...interface{}) error {
	q := `UPDATE chat_jobs SET ` + set + ` WHERE id=$1 AND queue=$2 AND status='active' AND locked_by=$3;`
	tag, err := execSQL(ctx, r.pool, nil, q, append([]interface{}{id, r.name, workerID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.ownership(ctx, id)
	}
	return nil
}

func (r *jobQueue) Heartbeat(ctx context.Context, id, workerID string, lockFor time.Duration) error {
	return r.owned(ctx, id, workerID, `locked_until=$4`, r.now().Add(lockFor))
}

func (r *jobQueue) UpdateProgress(ctx context.Context, id, workerID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return r.owned(ctx, id, workerID, `progress=GREATEST(progress, $4), updated_at=$5`, progress, r.now())
}

func (r *jobQueue) Complete(ctx context.Context, id, workerID string, result json.RawMessage) error {
	now := r.now()
	return r.owned(ctx, id, workerID,
		`status='completed', progress=100, result=$4, failure_reason='', locked_by='', locked_until=NULL, finished_at=$5, updated_at=$5`,
		[]byte(result), now)
}

func (r *jobQueue) Fail(ctx context.Context, id, workerID, reason string) (model.JobStatus, error) {
	var status model.JobStatus
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if j.Status != model.JobStatusActive || j.LockedBy != workerID {
			return domain.ErrLockLost
		}

		now := r.now()
		attempts := j.AttemptsMade + 1
		if attempts < j.MaxAttempts {
			status = model.JobStatusDelayed
			const q = `
UPDATE chat_jobs
SET status='delayed', attempts_made=$2, run_at=$3, locked_by='', locked_until=NULL, updated_at=$4
WHERE id=$1;`
			_, err = execSQL(ctx, r.pool, tx, q, id, attempts, now.Add(model.BackoffDelay(j.Backoff, attempts)), now)
			return err
		}
		status = model.JobStatusFailed
		const q = `
UPDATE chat_jobs
SET status='failed', attempts_made=$2, failure_reason=$3, locked_by='', locked_until=NULL, finished_at=$4, updated_at=$4
WHERE id=$1;`
		_, err = execSQL(ctx, r.pool, tx, q, id, attempts, reason, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (r *jobQueue) Cancel(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM chat_jobs WHERE id=$1 AND queue=$2 AND status IN ('waiting','active','delayed');`
	tag, err := execSQL(ctx, r.pool, nil, q, id, r.name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *jobQueue) Retry(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE chat_jobs
SET status='waiting', attempts_made=attempts_made+1, failure_reason='', result=NULL, finished_at=NULL, run_at=$3, updated_at=$3
WHERE id=$1 AND queue=$2 AND status='failed';`
	tag, err := execSQL(ctx, r.pool, nil, q, id, r.name, r.now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *jobQueue) Stats(ctx context.Context) (model.QueueStats, error) {
	var s model.QueueStats
	paused, err := r.IsPaused(ctx)
	if err != nil {
		return s, err
	}
	rows, err := queryRows(ctx, r.pool, nil, `SELECT status, COUNT(*) FROM chat_jobs WHERE queue=$1 GROUP BY status;`, r.name)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return s, domain.ErrReadDatabaseRow
		}
		switch model.JobStatus(status) {
		case model.JobStatusWaiting:
			if paused {
				s.Paused += n
			} else {
				s.Waiting += n
			}
		case model.JobStatusActive:
			s.Active += n
		case model.JobStatusCompleted:
			s.Completed += n
		case model.JobStatusFailed:
			s.Failed += n
		case model.JobStatusDelayed:
			s.Delayed += n
		}
	}
	if err := rows.Err(); err != nil {
		return s, err
	}
	s.Sum()
	return s, nil
}

func (r *jobQueue) Recent(ctx context.Context, status model.JobStatus, limit int) ([]*model.ChatJob, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + jobColumns + ` FROM chat_jobs WHERE queue=$1`
	args := []interface{}{r.name}
	if status != "" {
		q += ` AND status=$3`
		args = append(args, limit, string(status))
	} else {
		args = append(args, limit)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT $2;`

	rows, err := queryRows(ctx, r.pool, nil, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.ChatJob, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobQueue) RecoverStalled(ctx context.Context, maxStalled int) (requeued, failed int, err error) {
	const q = `
UPDATE chat_jobs
SET stalled_count = stalled_count + 1,
    locked_by = '',
    locked_until = NULL,
    updated_at = $2,
    status = CASE WHEN stalled_count + 1 > $3 THEN 'failed' ELSE 'waiting' END,
    failure_reason = CASE WHEN stalled_count + 1 > $3 THEN $4 ELSE failure_reason END,
    finished_at = CASE WHEN stalled_count + 1 > $3 THEN $2 ELSE finished_at END,
    run_at = CASE WHEN stalled_count + 1 > $3 THEN run_at ELSE $2 END
WHERE queue=$1 AND status='active' AND locked_until < $2
RETURNING status;`
	rows, err := queryRows(ctx, r.pool, nil, q, r.name, r.now(), maxStalled, model.StalledReason)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return requeued, failed, domain.ErrReadDatabaseRow
		}
		if model.JobStatus(status) == model.JobStatusFailed {
			failed++
		} else {
			requeued++
		}
	}
	return requeued, failed, rows.Err()
}

func (r *jobQueue) Clean(ctx context.Context, olderThan time.Duration) (int, error) {
	const q = `DELETE FROM chat_jobs WHERE queue=$1 AND status IN ('completed','failed') AND finished_at < $2;`
	tag, err := execSQL(ctx, r.pool, nil, q, r.name, r.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobQueue) setPaused(ctx context.Context, paused bool) error {
	const q = `
INSERT INTO queue_state (name, paused, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET paused=EXCLUDED.paused, updated_at=EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, nil, q, r.name, paused, r.now())
	return err
}

func (r *jobQueue) Pause(ctx context.Context) error  { return r.setPaused(ctx, true) }
func (r *jobQueue) Resume(ctx context.Context) error { return r.setPaused(ctx, false) }

func (r *jobQueue) IsPaused(ctx context.Context) (bool, error) {
	return r.isPaused(ctx, nil)
}

func (r *jobQueue) isPaused(ctx context.Context, tx repository.Tx) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT paused FROM queue_state WHERE name=$1;`, r.name)
	if err != nil {
		return false, err
	}
	var paused bool
	if err := row.Scan(&paused); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return paused, nil
}
