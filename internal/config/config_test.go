package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Pipeline.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", cfg.Embedding.Provider)
	}
	if cfg.Retention.CleanupDays != 30 {
		t.Errorf("CleanupDays = %d, want 30", cfg.Retention.CleanupDays)
	}
}

func TestWriteDefaultAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	cfg := cm.Get()
	if cfg.Server.Port != "8573" {
		t.Errorf("Port = %q, want 8573", cfg.Server.Port)
	}
	if cfg.Embedding.APIKey != "${OPENAI_API_KEY}" {
		t.Errorf("APIKey = %q, want env reference preserved", cfg.Embedding.APIKey)
	}
	if cfg.Chunking.MaxChars != 1200 {
		t.Errorf("MaxChars = %d, want 1200", cfg.Chunking.MaxChars)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("DOCPIPE_TEST_KEY", "sk-12345")

	if got := ResolveEnvVars("${DOCPIPE_TEST_KEY}"); got != "sk-12345" {
		t.Errorf("ResolveEnvVars() = %q", got)
	}
	if got := ResolveEnvVars("plain-value"); got != "plain-value" {
		t.Errorf("ResolveEnvVars() = %q, want passthrough", got)
	}
	if got := ResolveEnvVars(""); got != "" {
		t.Errorf("ResolveEnvVars(empty) = %q", got)
	}
	if got := ResolveEnvVars("${DOCPIPE_UNSET_VAR_XYZ}"); got != "" {
		t.Errorf("ResolveEnvVars(unset) = %q, want empty", got)
	}
}

func TestLoadMetadataSchema(t *testing.T) {
	schema, err := LoadMetadataSchema("")
	if err != nil || schema != nil {
		t.Errorf("LoadMetadataSchema(empty) = %v, %v, want nil, nil", schema, err)
	}

	path := filepath.Join(t.TempDir(), "meta.schema.json")
	doc := `{
		"type": "object",
		"properties": {
			"source": {"type": "string"}
		},
		"required": ["source"]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	schema, err = LoadMetadataSchema(path)
	if err != nil {
		t.Fatalf("LoadMetadataSchema() error = %v", err)
	}

	if err := schema.Validate(map[string]any{"source": "upload"}); err != nil {
		t.Errorf("valid metadata rejected: %v", err)
	}
	if err := schema.Validate(map[string]any{}); err == nil {
		t.Error("metadata missing required field accepted")
	}
}
