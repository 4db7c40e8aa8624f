package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/jackzampolin/docpipe/internal/pipeline"
)

// LocalEmbedder produces deterministic pseudo-embeddings derived from the
// content hash. It exists for deployments without an inference provider
// and for offline development; identical content always maps to the same
// vector, which is all the dedup layer needs.
type LocalEmbedder struct {
	Dim int
}

// NewLocal creates a local embedder with the given dimensionality (<=0
// uses 64).
func NewLocal(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &LocalEmbedder{Dim: dim}
}

// Embed implements pipeline.Embedder.
func (e *LocalEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.Dim)
	seed := sha256.Sum256([]byte(content))
	state := binary.LittleEndian.Uint64(seed[:8])
	for i := range vec {
		// xorshift64 keeps the expansion cheap and reproducible.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[i] = float32(state%2000)/1000.0 - 1.0
	}
	return vec, nil
}

var _ pipeline.Embedder = (*LocalEmbedder)(nil)
