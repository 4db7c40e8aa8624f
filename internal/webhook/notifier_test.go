package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/docpipe/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *store.Store, webhookURL string) *store.Job {
	t.Helper()
	job := store.NewJob("doc.txt", "/tmp/doc.txt", map[string]any{"k": "v"}, webhookURL)
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestNotifyDeliversPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestStore(t)
	job := createJob(t, s, srv.URL)

	n := New(Config{Store: s})
	n.Notify(job, "processing.started")
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(received))
	}
	got := received[0]
	if got.Event != "processing.started" {
		t.Errorf("Event = %q", got.Event)
	}
	if got.JobID != job.ID {
		t.Errorf("JobID = %q, want %q", got.JobID, job.ID)
	}
	if got.Filename != "doc.txt" {
		t.Errorf("Filename = %q", got.Filename)
	}
	if got.Metadata["k"] != "v" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	events, err := s.EventsOfType(context.Background(), job.ID, store.EventWebhookSent)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Message != "processing.started" {
		t.Errorf("webhook-sent events = %v", events)
	}
}

func TestNotifyRetriesTransportOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestStore(t)
	job := createJob(t, s, srv.URL)

	n := New(Config{Store: s, Timeout: 5 * time.Second})
	n.Notify(job, "processing.completed")
	n.Close()

	mu.Lock()
	if calls != 2 {
		t.Errorf("endpoint calls = %d, want 2 (one retry)", calls)
	}
	mu.Unlock()

	events, _ := s.EventsOfType(context.Background(), job.ID, store.EventWebhookSent)
	if len(events) != 1 {
		t.Errorf("webhook-sent events = %d, want 1", len(events))
	}
}

func TestNotifyFailureRecordedButHarmless(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestStore(t)
	job := createJob(t, s, srv.URL)

	n := New(Config{Store: s, Timeout: 2 * time.Second})
	n.Notify(job, "processing.failed")
	n.Close()

	events, err := s.EventsOfType(context.Background(), job.ID, store.EventWebhookFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("webhook-failed events = %d, want 1", len(events))
	}

	// The job record is untouched by delivery failures.
	got, err := s.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != store.StageQueued || got.ErrorMessage != "" {
		t.Errorf("job mutated by webhook failure: %s / %q", got.Stage, got.ErrorMessage)
	}
}

func TestNotifySkipsJobsWithoutURL(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, "")

	n := New(Config{Store: s})
	n.Notify(job, "processing.started")
	n.Notify(nil, "processing.started")
	n.Close()

	events, _ := s.RecentEvents(context.Background(), job.ID, 10)
	if len(events) != 0 {
		t.Errorf("events recorded for job without webhook URL: %v", events)
	}
}
