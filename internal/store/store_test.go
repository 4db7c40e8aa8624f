package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, job *Job) *Job {
	t.Helper()
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := NewJob("report.pdf", "/tmp/report.pdf",
		map[string]any{"source": "upload"}, "https://example.com/hook")
	mustCreate(t, s, job)

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want report.pdf", got.Filename)
	}
	if got.Stage != StageQueued {
		t.Errorf("Stage = %q, want queued", got.Stage)
	}
	if got.Progress != 0 {
		t.Errorf("Progress = %d, want 0", got.Progress)
	}
	if got.Metadata["source"] != "upload" {
		t.Errorf("Metadata = %v, want source=upload", got.Metadata)
	}
	if got.WebhookURL != "https://example.com/hook" {
		t.Errorf("WebhookURL = %q", got.WebhookURL)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStageCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))

	if err := s.UpdateStage(ctx, job.ID, StageQueued, StageExtracting); err != nil {
		t.Fatalf("UpdateStage() error = %v", err)
	}

	// Second CAS from the same expected stage must conflict.
	err := s.UpdateStage(ctx, job.ID, StageQueued, StageExtracting)
	if !errors.Is(err, ErrStageConflict) {
		t.Fatalf("UpdateStage() stale error = %v, want ErrStageConflict", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Stage != StageExtracting {
		t.Errorf("Stage = %q, want extracting", got.Stage)
	}
	if got.Progress != StageExtracting.EntryProgress() {
		t.Errorf("Progress = %d, want %d", got.Progress, StageExtracting.EntryProgress())
	}

	if err := s.UpdateStage(ctx, "missing", StageQueued, StageExtracting); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStage(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateStageCompletedSetsCompletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	for _, step := range []struct{ from, to Stage }{
		{StageQueued, StageExtracting},
		{StageExtracting, StageChunking},
		{StageChunking, StageEmbedding},
		{StageEmbedding, StageStoring},
		{StageStoring, StageCompleted},
	} {
		if err := s.UpdateStage(ctx, job.ID, step.from, step.to); err != nil {
			t.Fatalf("UpdateStage(%s -> %s) error = %v", step.from, step.to, err)
		}
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.Stage != StageCompleted {
		t.Fatalf("Stage = %q, want completed", got.Stage)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}
}

func TestUpdateProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	if err := s.UpdateStage(ctx, job.ID, StageQueued, StageExtracting); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateProgress(ctx, job.ID, StageExtracting, 30); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	// Lower value is a stale write and must not apply.
	if err := s.UpdateProgress(ctx, job.ID, StageExtracting, 15); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.Progress != 30 {
		t.Errorf("Progress = %d, want 30 (stale write must not regress)", got.Progress)
	}
}

func TestClaimNext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := NewJob("first.txt", "/tmp/first.txt", nil, "")
	older.CreatedAt = time.Now().Add(-time.Minute)
	mustCreate(t, s, older)
	mustCreate(t, s, NewJob("second.txt", "/tmp/second.txt", nil, ""))

	// Oldest eligible job is claimed first.
	claimed, err := s.ClaimNext(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if claimed.ID != older.ID {
		t.Errorf("claimed %q, want oldest job %q", claimed.Filename, older.Filename)
	}
	if claimed.ClaimedUntil == nil {
		t.Error("ClaimedUntil not set on claim")
	}

	// The claimed job is invisible; the second job is claimed next.
	second, err := s.ClaimNext(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if second.ID == claimed.ID {
		t.Error("claimed the same job twice while lease is live")
	}

	// Everything is leased now.
	if _, err := s.ClaimNext(ctx, 5*time.Minute); !errors.Is(err, ErrNoJobs) {
		t.Errorf("ClaimNext() error = %v, want ErrNoJobs", err)
	}

	// Releasing the claim makes the job eligible again.
	if err := s.ReleaseClaim(ctx, claimed.ID); err != nil {
		t.Fatalf("ReleaseClaim() error = %v", err)
	}
	again, err := s.ClaimNext(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext() after release error = %v", err)
	}
	if again.ID != claimed.ID {
		t.Errorf("claimed %q after release, want %q", again.ID, claimed.ID)
	}
}

func TestClaimNextHonorsRetryDelay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	s.SetClock(func() time.Time { return base })

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	if err := s.UpdateStage(ctx, job.ID, StageQueued, StageExtracting); err != nil {
		t.Fatal(err)
	}
	if err := s.RequeueForRetry(ctx, job.ID, StageExtracting, 1, base.Add(5*time.Second), "boom"); err != nil {
		t.Fatalf("RequeueForRetry() error = %v", err)
	}

	// Delay not elapsed: invisible.
	if _, err := s.ClaimNext(ctx, time.Minute); !errors.Is(err, ErrNoJobs) {
		t.Fatalf("ClaimNext() before delay error = %v, want ErrNoJobs", err)
	}

	s.SetClock(func() time.Time { return base.Add(6 * time.Second) })
	claimed, err := s.ClaimNext(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext() after delay error = %v", err)
	}
	if claimed.ID != job.ID {
		t.Errorf("claimed wrong job %q", claimed.ID)
	}
	if claimed.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", claimed.RetryCount)
	}
	if claimed.Stage != StageExtracting {
		t.Errorf("Stage = %q, want extracting (retry resumes at failed stage)", claimed.Stage)
	}
	if claimed.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", claimed.ErrorMessage)
	}
}

func TestBeginStageKeepsClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))

	claimed, err := s.ClaimNext(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if err := s.BeginStage(ctx, claimed.ID, StageQueued, StageExtracting); err != nil {
		t.Fatalf("BeginStage() error = %v", err)
	}

	// The lease survives the transition: the job stays invisible to other
	// workers while the claiming worker keeps working on it.
	got, _ := s.GetJob(ctx, job.ID)
	if got.Stage != StageExtracting {
		t.Errorf("Stage = %q, want extracting", got.Stage)
	}
	if got.ClaimedUntil == nil {
		t.Fatal("ClaimedUntil = nil, want lease retained")
	}
	if _, err := s.ClaimNext(ctx, time.Minute); !errors.Is(err, ErrNoJobs) {
		t.Errorf("ClaimNext() during live claim error = %v, want ErrNoJobs", err)
	}

	// The CAS is still enforced.
	if err := s.BeginStage(ctx, claimed.ID, StageQueued, StageExtracting); !errors.Is(err, ErrStageConflict) {
		t.Errorf("BeginStage() stale error = %v, want ErrStageConflict", err)
	}

	// An end-of-claim transition releases the lease as before.
	if err := s.UpdateStage(ctx, claimed.ID, StageExtracting, StageChunking); err != nil {
		t.Fatal(err)
	}
	if next, err := s.ClaimNext(ctx, time.Minute); err != nil || next.ID != job.ID {
		t.Errorf("ClaimNext() after release = %v, %v, want job reclaimed", next, err)
	}
}

func TestMarkFailedAndReactivate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	if err := s.UpdateStage(ctx, job.ID, StageQueued, StageExtracting); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStage(ctx, job.ID, StageExtracting, StageChunking); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkFailed(ctx, job.ID, "unsupported format"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.Stage != StageFailed {
		t.Fatalf("Stage = %q, want failed", got.Stage)
	}
	if got.FailedStage != StageChunking {
		t.Errorf("FailedStage = %q, want chunking", got.FailedStage)
	}
	if got.ErrorMessage != "unsupported format" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}

	// Marking an already-terminal job fails the CAS.
	if err := s.MarkFailed(ctx, job.ID, "again"); !errors.Is(err, ErrStageConflict) {
		t.Errorf("MarkFailed() on failed job error = %v, want ErrStageConflict", err)
	}

	// Manual retry resumes at the failed stage with a fresh budget.
	revived, err := s.ReactivateFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("ReactivateFailed() error = %v", err)
	}
	if revived.Stage != StageChunking {
		t.Errorf("Stage = %q, want chunking", revived.Stage)
	}
	if revived.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", revived.RetryCount)
	}
	if revived.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want cleared", revived.ErrorMessage)
	}

	// Only failed jobs can be reactivated.
	if _, err := s.ReactivateFailed(ctx, job.ID); !errors.Is(err, ErrStageConflict) {
		t.Errorf("ReactivateFailed() on non-failed job error = %v, want ErrStageConflict", err)
	}
}

func TestRequestCancel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	if err := s.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}
	got, _ := s.GetJob(ctx, job.ID)
	if !got.CancelRequested {
		t.Error("CancelRequested not set")
	}

	// Terminal jobs cannot be cancelled.
	done := mustCreate(t, s, NewJob("b.txt", "/tmp/b.txt", nil, ""))
	if err := s.MarkFailed(ctx, done.ID, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestCancel(ctx, done.ID); !errors.Is(err, ErrStageConflict) {
		t.Errorf("RequestCancel() on terminal job error = %v, want ErrStageConflict", err)
	}
}

func TestListJobsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		job := NewJob("doc.txt", "/tmp/doc.txt", nil, "")
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		mustCreate(t, s, job)
	}
	failed := NewJob("bad.txt", "/tmp/bad.txt", nil, "")
	failed.CreatedAt = base.Add(time.Hour)
	mustCreate(t, s, failed)
	if err := s.MarkFailed(ctx, failed.ID, "x"); err != nil {
		t.Fatal(err)
	}

	jobs, total, err := s.ListJobs(ctx, ListFilter{Page: 1, PageSize: 4})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if total != 6 {
		t.Errorf("total = %d, want 6", total)
	}
	if len(jobs) != 4 {
		t.Errorf("page 1 len = %d, want 4", len(jobs))
	}
	// Newest first.
	if jobs[0].ID != failed.ID {
		t.Errorf("first job = %q, want newest", jobs[0].ID)
	}

	jobs, _, err = s.ListJobs(ctx, ListFilter{Page: 2, PageSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Errorf("page 2 len = %d, want 2", len(jobs))
	}

	jobs, total, err = s.ListJobs(ctx, ListFilter{Stage: StageFailed})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(jobs) != 1 || jobs[0].ID != failed.ID {
		t.Errorf("stage filter returned %d jobs (total %d)", len(jobs), total)
	}
}

func TestCleanupTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	s.SetClock(func() time.Time { return old })

	done := mustCreate(t, s, NewJob("done.txt", "/tmp/done.txt", nil, ""))
	for _, step := range []struct{ from, to Stage }{
		{StageQueued, StageExtracting},
		{StageExtracting, StageChunking},
		{StageChunking, StageEmbedding},
		{StageEmbedding, StageStoring},
		{StageStoring, StageCompleted},
	} {
		if err := s.UpdateStage(ctx, done.ID, step.from, step.to); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendEvent(ctx, done.ID, EventJobCompleted, StageCompleted, ""); err != nil {
		t.Fatal(err)
	}

	failed := mustCreate(t, s, NewJob("failed.txt", "/tmp/failed.txt", nil, ""))
	if err := s.MarkFailed(ctx, failed.ID, "x"); err != nil {
		t.Fatal(err)
	}

	// Back to the present: in-flight and recent jobs must survive.
	s.SetClock(time.Now)
	inflight := mustCreate(t, s, NewJob("live.txt", "/tmp/live.txt", nil, ""))

	result, err := s.CleanupTerminal(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupTerminal() error = %v", err)
	}
	if result.CompletedRemoved != 1 {
		t.Errorf("CompletedRemoved = %d, want 1", result.CompletedRemoved)
	}
	if result.FailedRemoved != 1 {
		t.Errorf("FailedRemoved = %d, want 1", result.FailedRemoved)
	}
	if result.EventsRemoved != 1 {
		t.Errorf("EventsRemoved = %d, want 1", result.EventsRemoved)
	}

	if _, err := s.GetJob(ctx, done.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old completed job survived cleanup")
	}
	if _, err := s.GetJob(ctx, inflight.ID); err != nil {
		t.Errorf("in-flight job was removed: %v", err)
	}
}

func TestStaleClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	if _, err := s.ClaimNext(ctx, 30*time.Second); err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}

	// Lease still live.
	stale, err := s.StaleClaims(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("StaleClaims() = %d jobs before expiry, want 0", len(stale))
	}

	stale, err = s.StaleClaims(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != job.ID {
		t.Fatalf("StaleClaims() after expiry = %v, want the claimed job", stale)
	}
}

func TestStageCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))
	mustCreate(t, s, NewJob("b.txt", "/tmp/b.txt", nil, ""))
	failed := mustCreate(t, s, NewJob("c.txt", "/tmp/c.txt", nil, ""))
	if err := s.MarkFailed(ctx, failed.ID, "x"); err != nil {
		t.Fatal(err)
	}

	counts, err := s.StageCounts(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("StageCounts() error = %v", err)
	}
	if counts[StageQueued] != 2 {
		t.Errorf("queued = %d, want 2", counts[StageQueued])
	}
	if counts[StageFailed] != 1 {
		t.Errorf("failed = %d, want 1", counts[StageFailed])
	}
}
