package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CompleteStoring finishes a job's storing stage: the stage moves to
// completed and the storage metrics aggregate absorbs the job's
// contribution, in a single transaction. Combining the two means a crash
// can never record metrics for a job that did not complete, and a
// re-executed storing stage (at-least-once semantics) cannot double-count
// because the stage CAS fails on the second pass.
func (s *Store) CompleteStoring(ctx context.Context, jobID string, result StoreResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixMilli()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET stage = ?, progress = 100, error_message = NULL,
		    retry_not_before = NULL, claimed_until = NULL,
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND stage = ?`,
		string(StageCompleted), now, now, jobID, string(StageStoring))
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrStageConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE storage_metrics
		SET documents_processed = documents_processed + 1,
		    chunks_stored = chunks_stored + ?,
		    chunks_deduplicated = chunks_deduplicated + ?,
		    storage_bytes = storage_bytes + ?,
		    updated_at = ?
		WHERE id = 1`,
		result.ChunksStored, result.ChunksDeduplicated, result.BytesStored, now); err != nil {
		return fmt.Errorf("failed to update storage metrics: %w", err)
	}

	return tx.Commit()
}

// GetStorageMetrics returns the aggregate storage metrics row.
func (s *Store) GetStorageMetrics(ctx context.Context) (*StorageMetrics, error) {
	var (
		m         StorageMetrics
		updatedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT documents_processed, chunks_stored, chunks_deduplicated,
		       storage_bytes, updated_at
		FROM storage_metrics WHERE id = 1`).Scan(
		&m.DocumentsProcessed, &m.ChunksStored, &m.ChunksDeduplicated,
		&m.StorageBytes, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage metrics: %w", err)
	}

	if m.DocumentsProcessed > 0 {
		m.AvgChunksPerDoc = float64(m.ChunksStored+m.ChunksDeduplicated) / float64(m.DocumentsProcessed)
	}
	if updatedAt.Valid && updatedAt.Int64 > 0 {
		m.UpdatedAt = time.UnixMilli(updatedAt.Int64).UTC()
	}
	return &m, nil
}
