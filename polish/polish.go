// Package polish asks a language model to rewrite Python code for
// efficiency.
package polish

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/counselor/llm"
	"github.com/fabfab/counselor/metrics"
)

// DefaultLabel is the catalog entry used when the caller picks none.
const DefaultLabel = "GPT-4"

const (
	systemPrompt = "You are a Python code optimization expert. " +
		"Improve the given code for efficiency. " +
		"Do only deliver the code, no other explanation."
	userPromptPrefix = "Please improve this Python code:\n\n"
)

// ClientFunc resolves a friendly model label to a ready client. It returns
// *llm.UnknownProviderError for labels it does not know.
type ClientFunc func(label string) (llm.Client, error)

type Polisher struct {
	clients ClientFunc
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(clients ClientFunc, logger *zap.Logger, m *metrics.Metrics) *Polisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Polisher{clients: clients, logger: logger, metrics: m}
}

// Improve returns the model's rewrite of code with any markdown fence
// removed.
func (p *Polisher) Improve(ctx context.Context, code, label string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("code cannot be empty")
	}
	if label == "" {
		label = DefaultLabel
	}

	client, err := p.clients(label)
	if err != nil {
		return "", err
	}

	out, err := client.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userPromptPrefix + code},
	})
	p.metrics.ObserveGeneration("polish", err)
	if err != nil {
		return "", fmt.Errorf("improve code with %s: %w", label, err)
	}

	p.logger.Debug("code polished", zap.String("model", label), zap.Int("bytes", len(out)))
	return StripFence(out), nil
}

// StripFence removes a surrounding ``` block, including its language tag.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
