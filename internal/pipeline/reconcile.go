package pipeline

import (
	"context"

	"github.com/jackzampolin/docpipe/internal/store"
)

// Reconcile re-admits jobs left mid-stage by a crashed worker. A stale
// claim (expired lease on a non-terminal job) means the owning process
// died without persisting an outcome; clearing the lease makes the job
// visible to the worker pool again, and at-least-once stage semantics make
// the re-execution safe. Run once at startup before the pool starts.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	stale, err := o.store.StaleClaims(ctx, o.now().UTC())
	if err != nil {
		return 0, err
	}

	for _, job := range stale {
		if err := o.store.ReleaseClaim(ctx, job.ID); err != nil {
			o.logger.Error("failed to release stale claim", "job_id", job.ID, "error", err)
			continue
		}
		o.appendEvent(ctx, job.ID, store.EventJobRequeued, job.Stage, "re-admitted after stale worker claim")
		o.logger.Warn("re-admitted stale job", "job_id", job.ID, "stage", job.Stage)
	}

	return len(stale), nil
}
