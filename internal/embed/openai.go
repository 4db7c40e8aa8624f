// Package embed provides embedding collaborators for the pipeline.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/docpipe/internal/pipeline"
)

const openAIDefaultModel = "text-embedding-3-small"

// OpenAIConfig holds configuration for the OpenAI embedding client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // "text-embedding-3-small" (default)
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIEmbedder implements pipeline.Embedder using the official OpenAI SDK.
type OpenAIEmbedder struct {
	model  string
	client openai.Client
}

// NewOpenAI creates a new OpenAI embedding client.
func NewOpenAI(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

// Embed converts one chunk of text into a vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(content)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, pipeline.Transient(fmt.Errorf("openai returned no embedding data"))
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// mapOpenAIError translates SDK errors into the pipeline's error classes.
func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return pipeline.QuotaExceeded(fmt.Errorf("openai rate limited: %s", apiErr.Message))
		case apiErr.StatusCode == http.StatusPaymentRequired:
			return pipeline.QuotaExceeded(fmt.Errorf("openai quota exhausted: %s", apiErr.Message))
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return pipeline.Permanent(fmt.Errorf("openai rejected request (status %d): %s", apiErr.StatusCode, apiErr.Message))
		default:
			return pipeline.Transient(fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message))
		}
	}
	return err
}

var _ pipeline.Embedder = (*OpenAIEmbedder)(nil)
