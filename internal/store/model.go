// Package store provides durable persistence for processing jobs, their
// event log, the chunk dedup index, and aggregate storage metrics, backed
// by SQLite.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStageConflict is returned by compare-and-swap stage updates when the
// job is no longer at the expected stage. A worker seeing this must drop
// the job; another worker has already advanced it.
var ErrStageConflict = errors.New("stage conflict")

// ErrNoJobs is returned by ClaimNext when no job is eligible for work.
var ErrNoJobs = errors.New("no eligible jobs")

// Stage identifies one phase of a job's lifecycle.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageStoring    Stage = "storing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Terminal reports whether the stage is a terminal state.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageQueued, StageExtracting, StageChunking, StageEmbedding,
		StageStoring, StageCompleted, StageFailed:
		return true
	}
	return false
}

// Next returns the stage that follows s on the happy path.
// Terminal stages return themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageQueued:
		return StageExtracting
	case StageExtracting:
		return StageChunking
	case StageChunking:
		return StageEmbedding
	case StageEmbedding:
		return StageStoring
	case StageStoring:
		return StageCompleted
	default:
		return s
	}
}

// EntryProgress returns the job progress percentage at entry to the stage.
// Progress within a stage interpolates between its entry value and the
// next stage's.
func (s Stage) EntryProgress() int {
	switch s {
	case StageQueued:
		return 0
	case StageExtracting:
		return 10
	case StageChunking:
		return 35
	case StageEmbedding:
		return 65
	case StageStoring:
		return 85
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// Job is the durable record of one source document moving through the
// pipeline.
type Job struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	FilePath     string         `json:"file_path"`
	DocHash      string         `json:"doc_hash,omitempty"`
	Stage        Stage          `json:"stage"`
	Progress     int            `json:"progress"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	WebhookURL   string         `json:"webhook_url,omitempty"`

	// FailedStage records the stage at which a permanently failed job
	// stopped, so a manual retry can resume there.
	FailedStage Stage `json:"failed_stage,omitempty"`

	// CancelRequested is honored at the next stage boundary.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// RetryNotBefore holds the earliest time a scheduled retry may run.
	RetryNotBefore *time.Time `json:"retry_not_before,omitempty"`

	// ClaimedUntil is the worker lease expiry. A job with a live claim is
	// invisible to ClaimNext.
	ClaimedUntil *time.Time `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EventType identifies what happened to a job.
type EventType string

const (
	EventJobQueued      EventType = "job-queued"
	EventStageStarted   EventType = "stage-started"
	EventStageCompleted EventType = "stage-completed"
	EventRetryScheduled EventType = "retry-scheduled"
	EventJobRequeued    EventType = "job-requeued"
	EventJobCompleted   EventType = "job-completed"
	EventJobFailed      EventType = "job-failed"
	EventWebhookSent    EventType = "webhook-sent"
	EventWebhookFailed  EventType = "webhook-failed"
)

// Event is an append-only audit record of something that happened to a job.
type Event struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Type      EventType `json:"event_type"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one piece of a document produced during the chunking stage.
// The embedding is filled in during the embedding stage for chunks whose
// content hash has no stored embedding yet.
type Chunk struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	Seq         int    `json:"seq"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
	Embedding   []byte `json:"-"`
}

// StorageMetrics is the single aggregate row tracking pipeline storage.
type StorageMetrics struct {
	DocumentsProcessed int64     `json:"documents_processed"`
	ChunksStored       int64     `json:"chunks_stored"`
	ChunksDeduplicated int64     `json:"chunks_deduplicated"`
	StorageBytes       int64     `json:"storage_bytes"`
	AvgChunksPerDoc    float64   `json:"avg_chunks_per_document"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// StoreResult summarizes one job's storing stage for metrics accounting.
type StoreResult struct {
	ChunksStored       int64
	ChunksDeduplicated int64
	BytesStored        int64
}

// CleanupResult reports what a retention cleanup removed.
type CleanupResult struct {
	CompletedRemoved int64 `json:"completed_removed"`
	FailedRemoved    int64 `json:"failed_removed"`
	EventsRemoved    int64 `json:"events_removed"`
}
