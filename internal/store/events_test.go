package store

import (
	"context"
	"testing"
)

func TestEventLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustCreate(t, s, NewJob("a.txt", "/tmp/a.txt", nil, ""))

	if err := s.AppendEvent(ctx, job.ID, EventJobQueued, StageQueued, ""); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := s.AppendEvent(ctx, job.ID, EventStageStarted, StageExtracting, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvent(ctx, job.ID, EventRetryScheduled, StageExtracting, "attempt 1 scheduled in 5s: boom"); err != nil {
		t.Fatal(err)
	}

	events, err := s.RecentEvents(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	// Newest first.
	if events[0].Type != EventRetryScheduled {
		t.Errorf("events[0].Type = %q, want retry-scheduled", events[0].Type)
	}
	if events[0].Message != "attempt 1 scheduled in 5s: boom" {
		t.Errorf("events[0].Message = %q", events[0].Message)
	}

	// Limit applies from the newest end.
	events, err = s.RecentEvents(ctx, job.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != EventRetryScheduled {
		t.Errorf("limited events = %v", events)
	}

	retries, err := s.EventsOfType(ctx, job.ID, EventRetryScheduled)
	if err != nil {
		t.Fatalf("EventsOfType() error = %v", err)
	}
	if len(retries) != 1 {
		t.Errorf("len(retries) = %d, want 1", len(retries))
	}
}
