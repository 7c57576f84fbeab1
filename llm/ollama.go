package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaHost = "http://localhost:11434"

// ollamaClient talks to a local Ollama daemon over /api/chat without
// streaming.
type ollamaClient struct {
	endpoint string
	model    string
	params   *ollamaParams
	http     *http.Client
}

type ollamaParams struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ollamaTurn  `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *ollamaParams `json:"options,omitempty"`
}

type ollamaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReply struct {
	Message ollamaTurn `json:"message"`
	Done    bool       `json:"done"`
	Error   string     `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = defaultOllamaHost
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var params *ollamaParams
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		params = &ollamaParams{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}

	return &ollamaClient{
		endpoint: host + "/api/chat",
		model:    opts.Model,
		params:   params,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, messages []Message) (string, error) {
	turns := make([]ollamaTurn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, ollamaTurn{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: turns,
		Options:  c.params,
	})
	if err != nil {
		return "", fmt.Errorf("encode ollama chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat %s: %w", c.model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama chat reply: %w", err)
	}

	var reply ollamaChatReply
	decodeErr := json.Unmarshal(raw, &reply)
	switch {
	case decodeErr == nil && reply.Error != "":
		return "", fmt.Errorf("ollama chat %s: %s", c.model, reply.Error)
	case resp.StatusCode >= http.StatusBadRequest:
		if text := strings.TrimSpace(string(raw)); text != "" {
			return "", fmt.Errorf("ollama chat %s: %s", c.model, text)
		}
		return "", fmt.Errorf("ollama chat %s: status %s", c.model, resp.Status)
	case decodeErr != nil:
		return "", fmt.Errorf("decode ollama chat reply: %w", decodeErr)
	}

	return reply.Message.Content, nil
}
