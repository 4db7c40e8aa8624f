package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackzampolin/docpipe/internal/store"
)

// DefaultBackoff is the fixed retry schedule indexed by attempt number.
var DefaultBackoff = []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}

// Options configures an Orchestrator.
type Options struct {
	// StageTimeout bounds a single stage execution. Exceeding it is a
	// transient failure routed through the retry controller.
	StageTimeout time.Duration

	// ClaimLease is how long a worker's claim on a job lasts. It must
	// comfortably exceed StageTimeout so a live worker never loses its
	// claim mid-stage.
	ClaimLease time.Duration

	// MaxAttempts is the retry budget per job.
	MaxAttempts int

	// Backoff is the delay schedule indexed by prior retry count.
	Backoff []time.Duration
}

func (o Options) withDefaults() Options {
	if o.StageTimeout <= 0 {
		o.StageTimeout = 2 * time.Minute
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if len(o.Backoff) == 0 {
		o.Backoff = DefaultBackoff
	}
	return o
}

// Orchestrator drives jobs through the pipeline state machine. Each
// ProcessNext call claims one eligible job and executes exactly one stage,
// persisting the outcome before any further work happens.
type Orchestrator struct {
	store     *store.Store
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	notifier  Notifier
	logger    *slog.Logger
	opts      Options

	// now is injectable for tests.
	now func() time.Time

	// onUpdate, when set, fires after every persisted job transition.
	onUpdate func(*store.Job)
}

// Config holds the orchestrator's dependencies.
type Config struct {
	Store     *store.Store
	Extractor Extractor
	Chunker   Chunker
	Embedder  Embedder
	Notifier  Notifier
	Logger    *slog.Logger
	Options   Options
}

// New creates a new Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     cfg.Store,
		extractor: cfg.Extractor,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		notifier:  cfg.Notifier,
		logger:    logger,
		opts:      cfg.Options.withDefaults(),
		now:       time.Now,
	}
}

// SetClock overrides the orchestrator's clock. Tests only.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// OnUpdate registers a callback fired after every persisted job
// transition. Used by the server to push live updates.
func (o *Orchestrator) OnUpdate(fn func(*store.Job)) {
	o.onUpdate = fn
}

// SubmitRequest describes a new document submission.
type SubmitRequest struct {
	FilePath   string
	Filename   string
	Metadata   map[string]any
	WebhookURL string
}

// Submit creates a queued job for the given source file.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if req.FilePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		return nil, fmt.Errorf("source file not accessible: %w", err)
	}

	job := store.NewJob(req.Filename, req.FilePath, req.Metadata, req.WebhookURL)
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := o.store.AppendEvent(ctx, job.ID, store.EventJobQueued, store.StageQueued, ""); err != nil {
		o.logger.Warn("failed to record queued event", "job_id", job.ID, "error", err)
	}

	o.logger.Info("job submitted", "job_id", job.ID, "filename", job.Filename)
	o.notifyUpdate(job)
	return job, nil
}

// Retry re-admits a permanently failed job, resuming at the stage it
// failed at with a fresh retry budget.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := o.store.ReactivateFailed(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.store.AppendEvent(ctx, job.ID, store.EventJobRequeued, job.Stage, "manual retry"); err != nil {
		o.logger.Warn("failed to record requeue event", "job_id", job.ID, "error", err)
	}
	o.logger.Info("job re-admitted", "job_id", job.ID, "stage", job.Stage)
	o.notifyUpdate(job)
	return job, nil
}

// RequestCancel flags a job for cancellation at its next stage boundary.
// There is no mid-stage preemption.
func (o *Orchestrator) RequestCancel(ctx context.Context, jobID string) error {
	return o.store.RequestCancel(ctx, jobID)
}

// ProcessNext claims one eligible job, executes one stage, and persists
// the result. Returns false when no job was eligible. Stage failures are
// classified and handed to the retry controller; they never propagate to
// the caller.
func (o *Orchestrator) ProcessNext(ctx context.Context) (bool, error) {
	job, err := o.store.ClaimNext(ctx, o.opts.ClaimLease)
	if errors.Is(err, store.ErrNoJobs) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o.runStage(ctx, job)
	return true, nil
}

func (o *Orchestrator) runStage(ctx context.Context, job *store.Job) {
	log := o.logger.With("job_id", job.ID, "stage", job.Stage)

	// Cancellation is honored only at stage boundaries.
	if job.CancelRequested {
		o.finishFailed(ctx, job, "cancelled by operator")
		return
	}

	// A queued claim starts the pipeline: the job enters EXTRACTING and
	// extraction runs within this same claim, so the transition must keep
	// the worker's lease.
	if job.Stage == store.StageQueued {
		if err := o.store.BeginStage(ctx, job.ID, store.StageQueued, store.StageExtracting); err != nil {
			if errors.Is(err, store.ErrStageConflict) {
				log.Warn("job already advanced by another worker")
				return
			}
			log.Error("failed to start job", "error", err)
			return
		}
		job.Stage = store.StageExtracting
		job.Progress = store.StageExtracting.EntryProgress()
		o.appendEvent(ctx, job.ID, store.EventStageStarted, store.StageExtracting, "")
		o.notify(ctx, job.ID, WebhookStarted)
		log = o.logger.With("job_id", job.ID, "stage", job.Stage)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	err := o.executeStage(stageCtx, job)
	cancel()

	if err != nil {
		o.handleFailure(ctx, job, err)
		return
	}

	if job.Stage == store.StageStoring {
		// CompleteStoring already persisted the terminal transition.
		o.appendEvent(ctx, job.ID, store.EventStageCompleted, store.StageStoring, "")
		o.appendEvent(ctx, job.ID, store.EventJobCompleted, store.StageCompleted, "")
		o.notify(ctx, job.ID, WebhookCompleted)
		log.Info("job completed")
		return
	}

	next := job.Stage.Next()
	if err := o.store.UpdateStage(ctx, job.ID, job.Stage, next); err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			log.Warn("stage advanced by another worker, dropping result")
			return
		}
		log.Error("failed to advance stage", "error", err)
		return
	}
	o.appendEvent(ctx, job.ID, store.EventStageCompleted, job.Stage, "")
	o.appendEvent(ctx, job.ID, store.EventStageStarted, next, "")
	o.notify(ctx, job.ID, WebhookProgress)
	log.Info("stage completed", "next", next)
}

// executeStage performs the work for the job's current stage. On success
// all stage outputs are durably persisted; the stage transition itself is
// the caller's responsibility (except storing, which completes the job
// transactionally with the metrics update).
func (o *Orchestrator) executeStage(ctx context.Context, job *store.Job) error {
	switch job.Stage {
	case store.StageExtracting:
		return o.runExtract(ctx, job)
	case store.StageChunking:
		return o.runChunk(ctx, job)
	case store.StageEmbedding:
		return o.runEmbed(ctx, job)
	case store.StageStoring:
		return o.runStore(ctx, job)
	default:
		return Permanent(fmt.Errorf("no work defined for stage %q", job.Stage))
	}
}

func (o *Orchestrator) runExtract(ctx context.Context, job *store.Job) error {
	ext, err := o.extractor.Extract(ctx, job.FilePath)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if len(ext.Content) == 0 {
		return Permanent(fmt.Errorf("extraction produced no content for %s", job.Filename))
	}

	if err := o.store.SavePayload(ctx, job.ID, ext.Content); err != nil {
		return fmt.Errorf("failed to persist extracted content: %w", err)
	}
	hash := HashContent(ext.Content)
	if err := o.store.SetDocHash(ctx, job.ID, hash); err != nil {
		return fmt.Errorf("failed to persist document hash: %w", err)
	}
	job.DocHash = hash

	o.updateProgress(ctx, job.ID, store.StageExtracting, 30)
	return nil
}

func (o *Orchestrator) runChunk(ctx context.Context, job *store.Job) error {
	content, err := o.store.GetPayload(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load extracted content: %w", err)
	}

	pieces, err := o.chunker.Chunk(ctx, content)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	if len(pieces) == 0 {
		return Permanent(fmt.Errorf("chunking produced no chunks for %s", job.Filename))
	}

	inputs := make([]store.ChunkInput, len(pieces))
	for i, p := range pieces {
		inputs[i] = store.ChunkInput{
			Content:     p,
			ContentHash: HashContent([]byte(p)),
		}
	}
	if err := o.store.ReplaceChunks(ctx, job.ID, inputs); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}

	o.updateProgress(ctx, job.ID, store.StageChunking, 60)
	return nil
}

func (o *Orchestrator) runEmbed(ctx context.Context, job *store.Job) error {
	chunks, err := o.store.ListChunks(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}

	seen := make(map[string]bool)
	for i, chunk := range chunks {
		// Resume point: chunks embedded by a prior attempt keep their vector.
		if len(chunk.Embedding) > 0 {
			seen[chunk.ContentHash] = true
			continue
		}
		if seen[chunk.ContentHash] {
			continue
		}
		// Dedup: a hash with a stored embedding needs no new inference.
		exists, err := o.store.HasEmbedding(ctx, job.DocHash, chunk.ContentHash)
		if err != nil {
			return fmt.Errorf("dedup lookup failed: %w", err)
		}
		if exists {
			seen[chunk.ContentHash] = true
			continue
		}

		vec, err := o.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return fmt.Errorf("embedding failed for chunk %d: %w", chunk.Seq, err)
		}
		if err := o.store.SaveChunkEmbedding(ctx, chunk.ID, EncodeVector(vec)); err != nil {
			return fmt.Errorf("failed to persist embedding for chunk %d: %w", chunk.Seq, err)
		}
		seen[chunk.ContentHash] = true

		progress := store.StageEmbedding.EntryProgress() +
			(i+1)*(store.StageStoring.EntryProgress()-store.StageEmbedding.EntryProgress())/len(chunks)
		o.updateProgress(ctx, job.ID, store.StageEmbedding, progress)
	}
	return nil
}

func (o *Orchestrator) runStore(ctx context.Context, job *store.Job) error {
	chunks, err := o.store.ListChunks(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}

	var result store.StoreResult
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			// The vector already exists in the dedup index (skipped during
			// embedding) or belongs to an identical chunk in this job.
			result.ChunksDeduplicated++
			continue
		}
		stored, err := o.store.InsertEmbedding(ctx, job.DocHash, chunk.ContentHash, chunk.Embedding)
		if err != nil {
			return fmt.Errorf("failed to store embedding for chunk %d: %w", chunk.Seq, err)
		}
		if stored {
			result.ChunksStored++
			result.BytesStored += int64(len(chunk.Embedding) + len(chunk.Content))
		} else {
			result.ChunksDeduplicated++
		}
	}

	if err := o.store.CompleteStoring(ctx, job.ID, result); err != nil {
		if errors.Is(err, store.ErrStageConflict) {
			// Another worker (or a prior attempt) already completed the job.
			o.logger.Warn("storing already completed elsewhere", "job_id", job.ID)
			return nil
		}
		return fmt.Errorf("failed to complete storing: %w", err)
	}

	o.logger.Info("document stored",
		"job_id", job.ID,
		"chunks_stored", result.ChunksStored,
		"chunks_deduplicated", result.ChunksDeduplicated,
		"bytes", result.BytesStored,
	)
	return nil
}

// handleFailure is the retry controller: it classifies the stage error and
// either schedules a same-stage retry on the fixed backoff schedule or
// moves the job to terminal FAILED.
func (o *Orchestrator) handleFailure(ctx context.Context, job *store.Job, stageErr error) {
	class := Classify(stageErr)
	msg := stageErr.Error()
	if class == ClassQuota {
		msg = "quota exceeded: " + msg
	}

	log := o.logger.With("job_id", job.ID, "stage", job.Stage, "class", class)

	if class.Retryable() && job.RetryCount < o.opts.MaxAttempts {
		delay := o.backoffFor(job.RetryCount)
		notBefore := o.now().UTC().Add(delay)

		err := o.store.RequeueForRetry(ctx, job.ID, job.Stage, job.RetryCount+1, notBefore, msg)
		if err != nil {
			log.Error("failed to schedule retry", "error", err)
			return
		}
		o.appendEvent(ctx, job.ID, store.EventRetryScheduled, job.Stage,
			fmt.Sprintf("attempt %d scheduled in %s: %s", job.RetryCount+1, delay, msg))
		log.Warn("stage failed, retry scheduled", "attempt", job.RetryCount+1, "delay", delay, "error", msg)
		return
	}

	o.finishFailed(ctx, job, msg)
	log.Error("job permanently failed", "retry_count", job.RetryCount, "error", msg)
}

// finishFailed moves a job to terminal FAILED and fires the failure
// webhook.
func (o *Orchestrator) finishFailed(ctx context.Context, job *store.Job, msg string) {
	if err := o.store.MarkFailed(ctx, job.ID, msg); err != nil {
		if !errors.Is(err, store.ErrStageConflict) {
			o.logger.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		}
		return
	}
	o.appendEvent(ctx, job.ID, store.EventJobFailed, job.Stage, msg)
	o.notify(ctx, job.ID, WebhookFailed)
}

// backoffFor returns the delay before the next attempt given the number of
// retries already consumed.
func (o *Orchestrator) backoffFor(retryCount int) time.Duration {
	if retryCount < len(o.opts.Backoff) {
		return o.opts.Backoff[retryCount]
	}
	return o.opts.Backoff[len(o.opts.Backoff)-1]
}

// notify fetches the job's persisted state and hands it to the webhook
// notifier. Delivery never affects the job.
func (o *Orchestrator) notify(ctx context.Context, jobID, event string) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Warn("failed to load job for webhook", "job_id", jobID, "error", err)
		return
	}
	if o.notifier != nil {
		o.notifier.Notify(job, event)
	}
	o.notifyUpdate(job)
}

func (o *Orchestrator) notifyUpdate(job *store.Job) {
	if o.onUpdate != nil {
		o.onUpdate(job)
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, jobID string, et store.EventType, stage store.Stage, msg string) {
	if err := o.store.AppendEvent(ctx, jobID, et, stage, msg); err != nil {
		o.logger.Warn("failed to append event", "job_id", jobID, "type", et, "error", err)
	}
}

// updateProgress persists within-stage progress. Best effort, but a store
// that stops accepting writes should be visible in the logs.
func (o *Orchestrator) updateProgress(ctx context.Context, jobID string, stage store.Stage, progress int) {
	if err := o.store.UpdateProgress(ctx, jobID, stage, progress); err != nil {
		o.logger.Warn("failed to update progress", "job_id", jobID, "stage", stage, "error", err)
	}
}
