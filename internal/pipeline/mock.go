package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackzampolin/docpipe/internal/store"
)

// MockExtractor is a scripted extraction collaborator for tests. If
// FailTimes > 0 the first FailTimes calls return Err, then calls succeed.
type MockExtractor struct {
	Content   []byte
	Pages     int
	Err       error
	FailTimes int

	mu    sync.Mutex
	calls int
}

func (m *MockExtractor) Extract(ctx context.Context, path string) (*Extraction, error) {
	m.mu.Lock()
	m.calls++
	calls := m.calls
	m.mu.Unlock()

	if m.Err != nil && (m.FailTimes == 0 || calls <= m.FailTimes) {
		return nil, m.Err
	}
	content := m.Content
	if content == nil {
		content = []byte(fmt.Sprintf("extracted content of %s", path))
	}
	return &Extraction{Content: content, Pages: m.Pages}, nil
}

// Calls returns how many times Extract was invoked.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockChunker splits content on blank lines. Err, when set, is returned
// on every call.
type MockChunker struct {
	Err error
}

func (m *MockChunker) Chunk(ctx context.Context, content []byte) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var chunks []string
	for _, part := range strings.Split(string(content), "\n\n") {
		part = strings.TrimSpace(part)
		if part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks, nil
}

// MockEmbedder produces a deterministic vector from the content hash. If
// FailTimes > 0 the first FailTimes calls return Err.
type MockEmbedder struct {
	Dim       int
	Err       error
	FailTimes int

	mu    sync.Mutex
	calls int
}

func (m *MockEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	calls := m.calls
	m.mu.Unlock()

	if m.Err != nil && (m.FailTimes == 0 || calls <= m.FailTimes) {
		return nil, m.Err
	}

	dim := m.Dim
	if dim <= 0 {
		dim = 8
	}
	hash := HashContent([]byte(content))
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(hash[i%len(hash)]) / 255.0
	}
	return vec, nil
}

// Calls returns how many times Embed was invoked.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Delivery is one recorded webhook notification.
type Delivery struct {
	JobID string
	Event string
	Stage store.Stage
}

// MockNotifier records webhook deliveries instead of sending them.
type MockNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (m *MockNotifier) Notify(job *store.Job, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, Delivery{JobID: job.ID, Event: event, Stage: job.Stage})
}

// Deliveries returns all recorded deliveries.
func (m *MockNotifier) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// EventCount returns how many deliveries of the given event were recorded
// for a job.
func (m *MockNotifier) EventCount(jobID, event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.deliveries {
		if d.JobID == jobID && d.Event == event {
			n++
		}
	}
	return n
}
