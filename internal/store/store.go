package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding jobs, events, chunks, and the
// storage metrics aggregate.
type Store struct {
	db *sql.DB

	// now is injectable for tests.
	now func() time.Time
}

// Open opens (creating if necessary) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory database. Used by tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock overrides the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		doc_hash TEXT,
		stage TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		metadata TEXT,
		webhook_url TEXT,
		failed_stage TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		retry_not_before INTEGER,
		claimed_until INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(stage, claimed_until, retry_not_before);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		stage TEXT NOT NULL,
		message TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id, created_at);

	CREATE TABLE IF NOT EXISTS job_payloads (
		job_id TEXT PRIMARY KEY,
		raw_content BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedding BLOB,
		created_at INTEGER NOT NULL,
		UNIQUE (job_id, seq)
	);

	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		doc_hash TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		embedding BLOB NOT NULL,
		byte_size INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (doc_hash, content_hash)
	);

	CREATE TABLE IF NOT EXISTS storage_metrics (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		documents_processed INTEGER NOT NULL DEFAULT 0,
		chunks_stored INTEGER NOT NULL DEFAULT 0,
		chunks_deduplicated INTEGER NOT NULL DEFAULT 0,
		storage_bytes INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO storage_metrics (id) VALUES (1);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// nullMillis converts a nil time to a SQL NULL, otherwise UnixMilli.
func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
