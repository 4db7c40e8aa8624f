// Package webhook delivers job lifecycle notifications to caller-supplied
// URLs. Delivery is best-effort and fully decoupled from job progress: a
// dead endpoint never changes a job's outcome.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/docpipe/internal/store"
)

// Payload is the outbound webhook body.
type Payload struct {
	Event     string         `json:"event"`
	JobID     string         `json:"job_id"`
	Filename  string         `json:"filename"`
	Stage     store.Stage    `json:"stage"`
	Progress  int            `json:"progress"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config configures a Notifier.
type Config struct {
	Store       *store.Store
	Logger      *slog.Logger
	Timeout     time.Duration // per-delivery budget (default 5s)
	MaxInFlight int           // concurrent deliveries (default 8)
	HTTPClient  *http.Client  // optional (tests)
}

// Notifier sends webhooks from background goroutines, bounded by a small
// in-flight limit. Outcomes are logged as job events.
type Notifier struct {
	store   *store.Store
	logger  *slog.Logger
	client  *http.Client
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
}

// New creates a Notifier.
func New(cfg Config) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Notifier{
		store:   cfg.Store,
		logger:  logger,
		client:  client,
		timeout: timeout,
		sem:     make(chan struct{}, maxInFlight),
	}
}

// Notify queues a delivery for the job's webhook URL and returns
// immediately. Jobs without a webhook URL are skipped.
func (n *Notifier) Notify(job *store.Job, event string) {
	if job == nil || job.WebhookURL == "" {
		return
	}

	payload := Payload{
		Event:     event,
		JobID:     job.ID,
		Filename:  job.Filename,
		Stage:     job.Stage,
		Progress:  job.Progress,
		Metadata:  job.Metadata,
		Timestamp: time.Now().UTC(),
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.sem <- struct{}{}
		defer func() { <-n.sem }()
		n.deliver(job.WebhookURL, job.ID, payload)
	}()
}

func (n *Notifier) deliver(url, jobID string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", "job_id", jobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := n.client.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			if resp.StatusCode >= 300 {
				return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)

	// Delivery outcomes are audit data only; they never touch the job.
	evCtx, evCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer evCancel()

	if err != nil {
		n.logger.Warn("webhook delivery failed", "job_id", jobID, "event", payload.Event, "error", err)
		if evErr := n.store.AppendEvent(evCtx, jobID, store.EventWebhookFailed, payload.Stage,
			fmt.Sprintf("%s: %s", payload.Event, err)); evErr != nil {
			n.logger.Warn("failed to record webhook failure", "job_id", jobID, "error", evErr)
		}
		return
	}

	n.logger.Debug("webhook delivered", "job_id", jobID, "event", payload.Event)
	if evErr := n.store.AppendEvent(evCtx, jobID, store.EventWebhookSent, payload.Stage, payload.Event); evErr != nil {
		n.logger.Warn("failed to record webhook delivery", "job_id", jobID, "error", evErr)
	}
}

// Close drains in-flight deliveries. Each delivery has a bounded timeout,
// so Close returns promptly on shutdown.
func (n *Notifier) Close() {
	n.wg.Wait()
}
