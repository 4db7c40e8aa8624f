package extract

import (
	"context"
	"strings"
	"testing"
)

func TestChunkPacksParagraphs(t *testing.T) {
	c := NewTextChunker(100)
	content := []byte("short one\n\nshort two\n\nshort three")

	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1 (paragraphs pack together)", len(chunks))
	}
	if !strings.Contains(chunks[0], "short one") || !strings.Contains(chunks[0], "short three") {
		t.Errorf("chunk = %q", chunks[0])
	}
}

func TestChunkRespectsSizeLimit(t *testing.T) {
	c := NewTextChunker(50)
	content := []byte(strings.Repeat("word ", 40)) // ~200 bytes, one paragraph

	chunks, err := c.Chunk(context.Background(), content)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 3 {
		t.Fatalf("len(chunks) = %d, want oversized paragraph split", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 50 {
			t.Errorf("chunk %d is %d bytes, limit 50", i, len(chunk))
		}
		if chunk != strings.TrimSpace(chunk) {
			t.Errorf("chunk %d has surrounding whitespace: %q", i, chunk)
		}
	}
}

func TestChunkSkipsEmptyParagraphs(t *testing.T) {
	c := NewTextChunker(0) // default size
	chunks, err := c.Chunk(context.Background(), []byte("\n\n\n\n  \n\nreal content\n\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0] != "real content" {
		t.Errorf("chunks = %v, want [real content]", chunks)
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := NewTextChunker(100)
	chunks, err := c.Chunk(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %v, want none", chunks)
	}
}
