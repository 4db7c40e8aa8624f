package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SavePayload stores the extracted raw content for a job. Overwrites any
// previous payload so a re-run extraction stage stays idempotent.
func (s *Store) SavePayload(ctx context.Context, jobID string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_payloads (job_id, raw_content) VALUES (?, ?)
		ON CONFLICT (job_id) DO UPDATE SET raw_content = excluded.raw_content`,
		jobID, content)
	if err != nil {
		return fmt.Errorf("failed to save payload: %w", err)
	}
	return nil
}

// GetPayload returns the extracted raw content for a job.
func (s *Store) GetPayload(ctx context.Context, jobID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT raw_content FROM job_payloads WHERE job_id = ?`, jobID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payload: %w", err)
	}
	return content, nil
}

// ChunkInput is one chunk produced by the chunking collaborator.
type ChunkInput struct {
	Content     string
	ContentHash string
}

// ReplaceChunks replaces a job's chunk set. The delete-then-insert makes a
// re-run chunking stage idempotent.
func (s *Store) ReplaceChunks(ctx context.Context, jobID string, chunks []ChunkInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	now := s.now().UTC().UnixMilli()
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, job_id, seq, content, content_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), jobID, i, c.Content, c.ContentHash, now); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// ListChunks returns a job's chunks in sequence order.
func (s *Store) ListChunks(ctx context.Context, jobID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, seq, content, content_hash, embedding
		FROM chunks WHERE job_id = ? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.JobID, &c.Seq, &c.Content, &c.ContentHash, &c.Embedding); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// SaveChunkEmbedding stores a computed vector on a chunk row.
func (s *Store) SaveChunkEmbedding(ctx context.Context, chunkID string, embedding []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding = ? WHERE id = ?`, embedding, chunkID)
	return err
}

// HasEmbedding reports whether an embedding is already stored for the
// given content hash within the document's dedup scope.
func (s *Store) HasEmbedding(ctx context.Context, docHash, contentHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_embeddings WHERE doc_hash = ? AND content_hash = ?`,
		docHash, contentHash).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertEmbedding stores an embedding in the dedup index. The primary key
// on (doc_hash, content_hash) makes concurrent and repeated inserts safe:
// the first write wins and every later identical write reports
// deduplicated. Returns true when the row was actually stored.
func (s *Store) InsertEmbedding(ctx context.Context, docHash, contentHash string, embedding []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_embeddings (doc_hash, content_hash, embedding, byte_size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doc_hash, content_hash) DO NOTHING`,
		docHash, contentHash, embedding, len(embedding), s.now().UTC().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EmbeddingCount returns the number of stored embeddings for a document.
func (s *Store) EmbeddingCount(ctx context.Context, docHash string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_embeddings WHERE doc_hash = ?`, docHash).Scan(&n)
	return n, err
}
