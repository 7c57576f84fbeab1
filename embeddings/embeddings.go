// Package embeddings turns posting chunks and questions into vectors.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/counselor/config"
)

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// BatchSize caps the number of texts sent in one OpenAI request.
	BatchSize int
}

var errNoEmbeddingsAPI = errors.New("anthropic does not offer an embeddings API, pick openai or ollama")

func optionsFromConfig(cfg config.Config) Options {
	emb := cfg.Embeddings
	return Options{
		Provider:      emb.Provider,
		Model:         emb.Model,
		Dimension:     emb.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

// NewEmbedder picks the provider named in cfg.Embeddings.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := optionsFromConfig(cfg)
	if opts.Provider == config.ProviderAnthropic {
		return nil, errNoEmbeddingsAPI
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model is not set for provider %q", opts.Provider)
	}

	var embedder Embedder
	switch opts.Provider {
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embeddings need OPENAI_API_KEY")
		}
		embedder = NewOpenAIEmbedder(opts)
	case config.ProviderOllama:
		embedder = NewOllamaEmbedder(opts)
	default:
		return nil, fmt.Errorf("embedding provider %q is not supported", opts.Provider)
	}
	return embedder, nil
}
