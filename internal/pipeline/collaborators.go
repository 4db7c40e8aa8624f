package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/jackzampolin/docpipe/internal/store"
)

// Extraction is the output of the extraction collaborator.
type Extraction struct {
	// Content is the extracted text.
	Content []byte

	// Pages is the source page count, when the format has pages.
	Pages int
}

// Extractor pulls text content out of an uploaded source file.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// Chunker splits extracted content into pieces suitable for embedding.
type Chunker interface {
	Chunk(ctx context.Context, content []byte) ([]string, error)
}

// Embedder converts one chunk of text into a vector.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
}

// Notifier delivers lifecycle webhooks. Delivery is fire-and-forget: the
// orchestrator never learns whether it succeeded.
type Notifier interface {
	Notify(job *store.Job, event string)
}

// Webhook event types carried in the outbound payload.
const (
	WebhookStarted   = "processing.started"
	WebhookProgress  = "processing.progress"
	WebhookCompleted = "processing.completed"
	WebhookFailed    = "processing.failed"
)

// HashContent returns the content-addressed fingerprint used for both
// document identity and per-chunk dedup.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// EncodeVector serializes an embedding as little-endian float32s.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector deserializes an embedding produced by EncodeVector.
func DecodeVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
