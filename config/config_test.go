package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("LLM_MODEL", "claude-3-sonnet-20240229")
	t.Setenv("RETRIEVAL_K", "4")
	t.Setenv("GENERATE_TIMEOUT", "15s")
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-3-sonnet-20240229", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Retrieval.K)
	assert.Equal(t, 15*time.Second, cfg.Retrieval.GenerateTimeout)
	assert.Equal(t, 1000, cfg.Chunking.Size, "invalid ints fall back to the default")
	assert.Equal(t, 200, cfg.Chunking.Overlap)
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := Config{
		LLM:          LLMConfig{Provider: ProviderOpenAI},
		Embeddings:   EmbeddingConfig{Provider: ProviderOpenAI},
		IndexBackend: BackendMemory,
		Retrieval:    RetrievalConfig{K: 10},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCredentials))

	cfg.OpenAIAPIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

func TestValidateAllowsOllamaWithoutKeys(t *testing.T) {
	cfg := Config{
		LLM:          LLMConfig{Provider: ProviderOllama},
		Embeddings:   EmbeddingConfig{Provider: ProviderOllama},
		IndexBackend: BackendMemory,
		Retrieval:    RetrievalConfig{K: 3},
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Config{
		LLM:          LLMConfig{Provider: ProviderOllama},
		Embeddings:   EmbeddingConfig{Provider: ProviderOllama},
		IndexBackend: "faiss",
		Retrieval:    RetrievalConfig{K: 3},
	}
	assert.ErrorContains(t, cfg.Validate(), "unknown index backend")
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := filepath.Join(t.TempDir(), "counselor.yaml")
	content := []byte(`
llm:
  provider: OLLAMA
  model: llama3.1:8b
retrieval:
  k: 7
  generate_timeout: 30s
index_backend: postgres
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Model)
	assert.Equal(t, 7, cfg.Retrieval.K)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.GenerateTimeout)
	assert.Equal(t, BackendPostgres, cfg.IndexBackend)
	assert.Equal(t, "sk-env", cfg.OpenAIAPIKey)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
