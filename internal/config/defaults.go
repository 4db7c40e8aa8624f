package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8573",
		},
		Pipeline: PipelineConfig{
			Workers:             3,
			PollIntervalMS:      500,
			StageTimeoutSeconds: 120,
			ClaimLeaseSeconds:   300,
			MaxAttempts:         3,
		},
		Chunking: ChunkingConfig{
			MaxChars: 1200,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			APIKey:     "${OPENAI_API_KEY}",
			Dimensions: 1536,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 5,
			MaxInFlight:    8,
		},
		Retention: RetentionConfig{
			CleanupDays: 30,
		},
	}
}
