package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, filename, file_path, doc_hash, stage, progress, retry_count,
	error_message, metadata, webhook_url, failed_stage, cancel_requested,
	retry_not_before, claimed_until, created_at, updated_at, completed_at`

// NewJob creates a queued job record ready for insertion.
func NewJob(filename, filePath string, metadata map[string]any, webhookURL string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         uuid.NewString(),
		Filename:   filename,
		FilePath:   filePath,
		Stage:      StageQueued,
		Progress:   0,
		Metadata:   metadata,
		WebhookURL: webhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	var metaJSON sql.NullString
	if job.Metadata != nil {
		data, err := json.Marshal(job.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, file_path, stage, progress, retry_count,
			metadata, webhook_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.FilePath, string(job.Stage), job.Progress,
		job.RetryCount, metaJSON, nullString(job.WebhookURL),
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	Stage    Stage // empty = all
	Page     int   // 1-based
	PageSize int   // default 20
}

// ListJobs returns jobs matching the filter, newest first, plus the total
// count for pagination.
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	where := ""
	args := []any{}
	if filter.Stage != "" {
		where = " WHERE stage = ?"
		args = append(args, string(filter.Stage))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// ClaimNext atomically claims the oldest eligible job for processing.
// Eligible means: non-terminal stage, no live worker lease, and any
// scheduled retry delay elapsed. The claim is the per-job mutual
// exclusion: a claimed job is invisible to other workers until the lease
// expires or a stage update releases it.
func (s *Store) ClaimNext(ctx context.Context, lease time.Duration) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	nowMs := now.UnixMilli()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE stage NOT IN (?, ?)
		  AND (claimed_until IS NULL OR claimed_until < ?)
		  AND (retry_not_before IS NULL OR retry_not_before <= ?)
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`,
		string(StageCompleted), string(StageFailed), nowMs, nowMs)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, err
	}

	until := now.Add(lease)
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET claimed_until = ?, updated_at = ? WHERE id = ?`,
		until.UnixMilli(), nowMs, job.ID); err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.ClaimedUntil = &until
	return job, nil
}

// ReleaseClaim clears a job's worker lease without changing its stage.
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET claimed_until = NULL, updated_at = ? WHERE id = ?`,
		s.now().UTC().UnixMilli(), id)
	return err
}

// UpdateStage advances a job from expected to next via compare-and-swap.
// Returns ErrStageConflict when the job is not at the expected stage,
// which means another worker already advanced it. The update releases the
// worker lease, clears any pending retry delay, and resets the error
// message from prior attempts.
func (s *Store) UpdateStage(ctx context.Context, id string, expected, next Stage) error {
	now := s.now().UTC()

	var completedAt sql.NullInt64
	if next == StageCompleted {
		completedAt = sql.NullInt64{Int64: now.UnixMilli(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET stage = ?, progress = ?, error_message = NULL,
		    retry_not_before = NULL, claimed_until = NULL,
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND stage = ?`,
		string(next), next.EntryProgress(), completedAt, now.UnixMilli(),
		id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to update stage: %w", err)
	}
	return casOutcome(ctx, s, res, id)
}

// BeginStage advances a job from expected to next while keeping the
// claiming worker's lease intact. Used for transitions that happen in the
// middle of a claim, where the worker keeps working on the job afterward;
// releasing the lease there would let a second worker claim the job while
// the first is still inside a collaborator call.
func (s *Store) BeginStage(ctx context.Context, id string, expected, next Stage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET stage = ?, progress = ?, error_message = NULL,
		    retry_not_before = NULL, updated_at = ?
		WHERE id = ? AND stage = ?`,
		string(next), next.EntryProgress(), s.now().UTC().UnixMilli(),
		id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to begin stage: %w", err)
	}
	return casOutcome(ctx, s, res, id)
}

// UpdateProgress records within-stage progress for a claimed job. Progress
// never moves backward within an attempt.
func (s *Store) UpdateProgress(ctx context.Context, id string, stage Stage, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND stage = ? AND progress <= ?`,
		progress, s.now().UTC().UnixMilli(), id, string(stage), progress)
	return err
}

// SetDocHash records the content fingerprint of a job's source document.
func (s *Store) SetDocHash(ctx context.Context, id, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET doc_hash = ?, updated_at = ? WHERE id = ?`,
		hash, s.now().UTC().UnixMilli(), id)
	return err
}

// RequeueForRetry schedules a failed stage attempt for re-execution. The
// job keeps its stage (the retry resumes there), gets the incremented
// retry count and the earliest time the next attempt may run, and its
// worker lease is released so the normal worker loop picks it up.
func (s *Store) RequeueForRetry(ctx context.Context, id string, stage Stage, retryCount int, notBefore time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET retry_count = ?, retry_not_before = ?, error_message = ?,
		    progress = ?, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND stage = ?`,
		retryCount, notBefore.UnixMilli(), errMsg, stage.EntryProgress(),
		s.now().UTC().UnixMilli(), id, string(stage))
	if err != nil {
		return fmt.Errorf("failed to requeue job for retry: %w", err)
	}
	return casOutcome(ctx, s, res, id)
}

// MarkFailed moves a job to terminal FAILED, remembering the stage it
// failed at so a manual retry can resume there.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	now := s.now().UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET failed_stage = stage, stage = ?, error_message = ?,
		    retry_not_before = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND stage NOT IN (?, ?)`,
		string(StageFailed), errMsg, now, id,
		string(StageCompleted), string(StageFailed))
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return casOutcome(ctx, s, res, id)
}

// ReactivateFailed re-admits a permanently failed job: retry budget reset,
// resumed at the stage it failed at.
func (s *Store) ReactivateFailed(ctx context.Context, id string) (*Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Stage != StageFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried: %w", id, job.Stage, ErrStageConflict)
	}

	resume := job.FailedStage
	if resume == "" || resume.Terminal() {
		resume = StageQueued
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET stage = ?, progress = ?, retry_count = 0, error_message = NULL,
		    failed_stage = NULL, cancel_requested = 0,
		    retry_not_before = NULL, claimed_until = NULL,
		    completed_at = NULL, updated_at = ?
		WHERE id = ? AND stage = ?`,
		string(resume), resume.EntryProgress(), s.now().UTC().UnixMilli(),
		id, string(StageFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate job: %w", err)
	}
	if err := casOutcome(ctx, s, res, id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// RequestCancel flags a job for cancellation at its next stage boundary.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND stage NOT IN (?, ?)`,
		s.now().UTC().UnixMilli(), id, string(StageCompleted), string(StageFailed))
	if err != nil {
		return err
	}
	return casOutcome(ctx, s, res, id)
}

// StaleClaims returns jobs whose worker lease expired before cutoff while
// in a non-terminal stage. Used by the startup reconciliation sweep.
func (s *Store) StaleClaims(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE stage NOT IN (?, ?)
		  AND claimed_until IS NOT NULL AND claimed_until < ?`,
		string(StageCompleted), string(StageFailed), cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CleanupTerminal purges terminal jobs last touched before cutoff, along
// with their events, chunks, and payloads. In-flight jobs are never
// touched.
func (s *Store) CleanupTerminal(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	var result CleanupResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	cutoffMs := cutoff.UnixMilli()

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE stage = ? AND updated_at < ?`,
		string(StageCompleted), cutoffMs).Scan(&result.CompletedRemoved); err != nil {
		return result, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE stage = ? AND updated_at < ?`,
		string(StageFailed), cutoffMs).Scan(&result.FailedRemoved); err != nil {
		return result, err
	}

	const victim = `SELECT id FROM jobs WHERE stage IN (?, ?) AND updated_at < ?`
	args := []any{string(StageCompleted), string(StageFailed), cutoffMs}

	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE job_id IN (`+victim+`)`, args...)
	if err != nil {
		return result, fmt.Errorf("failed to delete events: %w", err)
	}
	result.EventsRemoved, _ = res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE job_id IN (`+victim+`)`, args...); err != nil {
		return result, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_payloads WHERE job_id IN (`+victim+`)`, args...); err != nil {
		return result, fmt.Errorf("failed to delete payloads: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE stage IN (?, ?) AND updated_at < ?`, args...); err != nil {
		return result, fmt.Errorf("failed to delete jobs: %w", err)
	}

	return result, tx.Commit()
}

// StageCounts returns the number of jobs per stage updated since the given
// time. Used by the health endpoint's last-24h summary.
func (s *Store) StageCounts(ctx context.Context, since time.Time) (map[Stage]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM jobs WHERE updated_at >= ? GROUP BY stage`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Stage]int64)
	for rows.Next() {
		var stage string
		var n int64
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[Stage(stage)] = n
	}
	return counts, rows.Err()
}

// casOutcome turns a zero-row UPDATE into ErrNotFound or ErrStageConflict.
func casOutcome(ctx context.Context, s *Store, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStageConflict
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job            Job
		stage          string
		docHash        sql.NullString
		errMsg         sql.NullString
		metaJSON       sql.NullString
		webhookURL     sql.NullString
		failedStage    sql.NullString
		cancelReq      int
		retryNotBefore sql.NullInt64
		claimedUntil   sql.NullInt64
		createdAt      int64
		updatedAt      int64
		completedAt    sql.NullInt64
	)

	err := row.Scan(&job.ID, &job.Filename, &job.FilePath, &docHash, &stage,
		&job.Progress, &job.RetryCount, &errMsg, &metaJSON, &webhookURL,
		&failedStage, &cancelReq, &retryNotBefore, &claimedUntil,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Stage = Stage(stage)
	job.DocHash = docHash.String
	job.ErrorMessage = errMsg.String
	job.WebhookURL = webhookURL.String
	job.FailedStage = Stage(failedStage.String)
	job.CancelRequested = cancelReq != 0
	job.RetryNotBefore = millisPtr(retryNotBefore)
	job.ClaimedUntil = millisPtr(claimedUntil)
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	job.CompletedAt = millisPtr(completedAt)

	if metaJSON.Valid && metaJSON.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(metaJSON.String), &m); err == nil {
			job.Metadata = m
		}
	}

	return &job, nil
}
