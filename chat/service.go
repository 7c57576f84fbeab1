// Package chat answers job-search questions by retrieving posting chunks and
// conditioning a hosted language model on them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/counselor/index"
	"github.com/fabfab/counselor/llm"
	"github.com/fabfab/counselor/metrics"
)

const (
	DefaultK = 10

	snippetLimit = 500
)

type Config struct {
	// K is the number of chunks retrieved per question.
	K int

	// Timeout bounds the language model call; zero means no limit beyond ctx.
	Timeout time.Duration
}

type Responder struct {
	backend index.Backend
	handle  index.Handle
	graph   GraphStore
	llm     llm.Client
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResponder binds a built index to a model client. graph and m may be nil.
func NewResponder(backend index.Backend, handle index.Handle, graph GraphStore, client llm.Client, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}

	return &Responder{
		backend: backend,
		handle:  handle,
		graph:   graph,
		llm:     client,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Ask answers question within session. The turn is recorded only when an
// answer comes back; on any error the session history is left as it was.
func (r *Responder) Ask(ctx context.Context, session *Session, question string) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, fmt.Errorf("question cannot be empty")
	}
	if session == nil {
		return Response{}, fmt.Errorf("session is nil")
	}
	if r.backend == nil {
		return Response{}, fmt.Errorf("index backend is not configured")
	}
	if r.llm == nil {
		return Response{}, fmt.Errorf("llm client is not configured")
	}

	if !session.begin() {
		r.metrics.ObserveAsk(metrics.OutcomeBusy, 0)
		return Response{}, ErrBusy
	}

	start := time.Now()
	resp, err := r.answer(ctx, session, question)
	session.finish(question, resp.Answer, err == nil)

	r.metrics.ObserveAsk(outcome(err), time.Since(start))
	if err != nil {
		r.logger.Warn("ask failed", zap.String("session", session.ID), zap.Error(err))
		return Response{}, err
	}
	r.logger.Debug("ask answered",
		zap.String("session", session.ID),
		zap.Int("sources", len(resp.Sources)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

func (r *Responder) answer(ctx context.Context, session *Session, question string) (Response, error) {
	results, err := r.backend.Search(ctx, r.handle, question, r.cfg.K)
	if err != nil {
		return Response{}, &BackendUnavailableError{Cause: err}
	}
	if len(results) == 0 {
		r.logger.Info("no context retrieved for question", zap.String("session", session.ID))
	}

	insights := map[string]EmployerInsight{}
	if r.graph != nil && len(results) > 0 {
		employers := make([]string, 0, len(results))
		for _, res := range results {
			employers = append(employers, res.Chunk.Metadata.Employer)
		}
		found, insightErr := r.graph.EmployerInsights(ctx, unique(employers))
		if insightErr != nil {
			r.logger.Warn("employer insights unavailable", zap.Error(insightErr))
		} else {
			insights = found
		}
	}

	messages := buildMessages(results, insights, session, question)

	genCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	generated, err := r.llm.Generate(genCtx, messages)
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", r.cfg.Timeout, err)
		}
		return Response{}, &GenerationFailedError{Cause: err}
	}
	answer := strings.TrimSpace(generated)
	if answer == "" {
		return Response{}, &GenerationFailedError{Cause: errors.New("model returned an empty answer")}
	}

	return Response{Answer: answer, Sources: mergeSources(results, insights)}, nil
}

func buildMessages(results []index.Result, insights map[string]EmployerInsight, session *Session, question string) []llm.Message {
	history := session.History()
	messages := make([]llm.Message, 0, 2*len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(buildContext(results, insights))})
	for _, turn := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: question})
}

func buildContext(results []index.Result, insights map[string]EmployerInsight) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.Chunk.Content)
	}
	text := strings.Join(parts, "\n\n")

	if len(insights) == 0 {
		return text
	}
	names := make([]string, 0, len(insights))
	for name := range insights {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nEmployer notes:\n")
	for _, name := range names {
		insight := insights[name]
		sb.WriteString(fmt.Sprintf("- %s has %d open postings", name, insight.PostingCount))
		if len(insight.PostingTitles) > 0 {
			sb.WriteString(": " + strings.Join(insight.PostingTitles, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func systemPrompt(contextText string) string {
	return `You are a helpful job counselor specializing in data science positions.
Engage in a friendly and conversational manner. When discussing job positions, weave the key details naturally into your responses without listing them numerically but highlight the most important words.
Ask questions to get more information from the user and keep the conversation going. Keep your responses concise, try to be less than 700 characters.
If the user asks about a specific job position, provide a detailed answer including the company name, job title, and key requirements or responsibilities.
Use the following pieces of context to answer the user's questions:
` + contextText
}

func mergeSources(results []index.Result, insights map[string]EmployerInsight) []Source {
	grouped := make(map[string]*Source, len(results))
	order := make([]string, 0, len(results))
	for _, res := range results {
		chunk := res.Chunk
		source, ok := grouped[chunk.DocumentID]
		if !ok {
			source = &Source{
				DocumentID: chunk.DocumentID,
				Title:      chunk.Metadata.Title,
				Employer:   chunk.Metadata.Employer,
				Score:      res.Score,
				Insight:    insights[chunk.Metadata.Employer],
			}
			grouped[chunk.DocumentID] = source
			order = append(order, chunk.DocumentID)
		} else if res.Score > source.Score {
			source.Score = res.Score
		}

		snippet := strings.TrimSpace(chunk.Content)
		if runes := []rune(snippet); len(runes) > snippetLimit {
			snippet = string(runes[:snippetLimit]) + "..."
		}
		if source.Snippet == "" {
			source.Snippet = snippet
		} else if !strings.Contains(source.Snippet, snippet) {
			source.Snippet += "\n---\n" + snippet
		}
	}

	sources := make([]Source, 0, len(grouped))
	for _, id := range order {
		sources = append(sources, *grouped[id])
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})
	return sources
}

func outcome(err error) string {
	var unavailable *BackendUnavailableError
	switch {
	case err == nil:
		return metrics.OutcomeAnswered
	case errors.As(err, &unavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeFailed
	}
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
