package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/docpipe/internal/store"
)

func TestPoolProcessesJobsToCompletion(t *testing.T) {
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	orch := New(Config{
		Store:     st,
		Extractor: &MockExtractor{Content: []byte("one\n\ntwo")},
		Chunker:   &MockChunker{},
		Embedder:  &MockEmbedder{},
		Notifier:  &MockNotifier{},
		Logger:    logger,
	})

	ctx := context.Background()
	var jobs []*store.Job
	for i := 0; i < 3; i++ {
		path := filepath.Join(t.TempDir(), "doc.txt")
		if err := os.WriteFile(path, []byte("source"), 0o644); err != nil {
			t.Fatal(err)
		}
		job, err := orch.Submit(ctx, SubmitRequest{FilePath: path, Filename: "doc.txt"})
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, job)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	pool := NewPool(PoolConfig{
		Orchestrator: orch,
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		Logger:       logger,
	})
	go func() {
		defer close(done)
		pool.Run(poolCtx)
	}()

	deadline := time.After(10 * time.Second)
	for {
		allDone := true
		for _, job := range jobs {
			got, err := st.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Stage != store.StageCompleted {
				allDone = false
			}
		}
		if allDone {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("jobs did not complete in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain after cancel")
	}
}
