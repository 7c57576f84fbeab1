package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ollamaEmbedder uses the batch /api/embed endpoint, which accepts a list of
// inputs and returns float32-compatible vectors in the same order.
type ollamaEmbedder struct {
	endpoint  string
	model     string
	dimension int
	http      *http.Client
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedReply struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func NewOllamaEmbedder(opts Options) Embedder {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	return &ollamaEmbedder{
		endpoint:  host + "/api/embed",
		model:     opts.Model,
		dimension: opts.Dimension,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode ollama embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed %s: %w", e.model, err)
	}
	defer resp.Body.Close()

	var reply ollamaEmbedReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode ollama embed reply (status %s): %w", resp.Status, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("ollama embed %s: %s", e.model, reply.Error)
	}
	if len(reply.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(reply.Embeddings), len(texts))
	}

	for _, vec := range reply.Embeddings {
		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("ollama embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
		}
	}
	return reply.Embeddings, nil
}
