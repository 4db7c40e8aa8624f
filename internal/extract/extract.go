// Package extract provides the default extraction and chunking
// collaborators for the pipeline.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/docpipe/internal/pipeline"
)

// FileExtractor extracts text content from uploaded source files. Plain
// text formats are read directly; PDFs are validated and have their
// content streams extracted via pdfcpu.
type FileExtractor struct {
	logger *slog.Logger
}

// NewFileExtractor creates the default extractor.
func NewFileExtractor(logger *slog.Logger) *FileExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileExtractor{logger: logger}
}

// Extract implements pipeline.Extractor.
func (e *FileExtractor) Extract(ctx context.Context, path string) (*pipeline.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(ctx, path)
	default:
		return e.extractText(path)
	}
}

func (e *FileExtractor) extractText(path string) (*pipeline.Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipeline.Permanent(fmt.Errorf("source file missing: %w", err))
		}
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, pipeline.Permanent(fmt.Errorf("unsupported binary content in %s", filepath.Base(path)))
	}
	return &pipeline.Extraction{Content: data}, nil
}

func (e *FileExtractor) extractPDF(ctx context.Context, path string) (*pipeline.Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipeline.Permanent(fmt.Errorf("source file missing: %w", err))
		}
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		// A PDF pdfcpu cannot parse will never become readable.
		return nil, pipeline.Permanent(fmt.Errorf("corrupt or unsupported PDF: %w", err))
	}

	tmpDir, err := os.MkdirTemp("", "docpipe-extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractContentFile(path, tmpDir, nil, nil); err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("PDF content extraction failed: %w", err))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted content: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read extracted page %s: %w", name, err)
		}
		sb.Write(data)
		sb.WriteString("\n\n")
	}

	e.logger.Debug("pdf extracted", "path", path, "pages", pageCount)
	return &pipeline.Extraction{
		Content: []byte(sb.String()),
		Pages:   pageCount,
	}, nil
}
