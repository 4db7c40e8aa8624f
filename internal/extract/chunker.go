package extract

import (
	"context"
	"strings"
)

// DefaultChunkSize is the maximum chunk length in bytes.
const DefaultChunkSize = 1200

// TextChunker packs paragraphs into chunks of at most MaxChars bytes.
// Paragraphs longer than the limit are split hard.
type TextChunker struct {
	MaxChars int
}

// NewTextChunker creates a chunker with the given size limit (<=0 uses
// DefaultChunkSize).
func NewTextChunker(maxChars int) *TextChunker {
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}
	return &TextChunker{MaxChars: maxChars}
}

// Chunk implements pipeline.Chunker.
func (c *TextChunker) Chunk(ctx context.Context, content []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, para := range strings.Split(string(content), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		for len(para) > c.MaxChars {
			flush()
			cut := c.MaxChars
			// Prefer breaking at a space near the limit.
			if idx := strings.LastIndexByte(para[:cut], ' '); idx > c.MaxChars/2 {
				cut = idx
			}
			chunks = append(chunks, strings.TrimSpace(para[:cut]))
			para = strings.TrimSpace(para[cut:])
		}
		if para == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > c.MaxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks, nil
}
