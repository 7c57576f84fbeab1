package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/counselor/corpus"
	"github.com/fabfab/counselor/index"
	"github.com/fabfab/counselor/llm"
	"github.com/fabfab/counselor/metrics"
)

type stubBackend struct {
	results []index.Result
	err     error
	k       int
}

func (s *stubBackend) Index(ctx context.Context, chunks []corpus.Chunk) (index.Handle, error) {
	return index.Handle{ID: "stub", Chunks: len(chunks)}, nil
}

func (s *stubBackend) Search(ctx context.Context, h index.Handle, query string, k int) ([]index.Result, error) {
	s.k = k
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

var _ index.Backend = (*stubBackend)(nil)

type stubLLM struct {
	answer   string
	err      error
	messages []llm.Message

	// When set, Generate blocks until release is closed or ctx ends.
	started chan struct{}
	release chan struct{}
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.messages = messages
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

var _ llm.Client = (*stubLLM)(nil)

type stubGraph struct {
	data map[string]EmployerInsight
	err  error
}

func (s *stubGraph) EmployerInsights(ctx context.Context, employers []string) (map[string]EmployerInsight, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func acmeResults() []index.Result {
	meta := corpus.Metadata{Title: "Data Scientist", Employer: "Acme"}
	return []index.Result{
		{Chunk: corpus.Chunk{ID: "d1:0", DocumentID: "d1", Content: "Title: Data Scientist\nEmployer: Acme", Metadata: meta}, Score: 0.9},
		{Chunk: corpus.Chunk{ID: "d1:1", DocumentID: "d1", Content: "Description: Build models.", Metadata: meta}, Score: 0.7},
	}
}

func TestAskSuccessAppendsOneTurn(t *testing.T) {
	backend := &stubBackend{results: acmeResults()}
	client := &stubLLM{answer: "  Acme needs a **Data Scientist**.  "}
	responder := NewResponder(backend, index.Handle{ID: "h"}, nil, client, Config{}, nil, nil)
	session := NewSession()

	resp, err := responder.Ask(context.Background(), session, "What does Acme need?")
	require.NoError(t, err)
	assert.Equal(t, "Acme needs a **Data Scientist**.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Acme", resp.Sources[0].Employer)
	assert.InDelta(t, 0.9, resp.Sources[0].Score, 1e-9)
	assert.Equal(t, DefaultK, backend.k)

	history := session.History()
	require.Len(t, history, 1)
	assert.Equal(t, "What does Acme need?", history[0].Question)
	assert.Equal(t, resp.Answer, history[0].Answer)
	assert.Equal(t, StateIdle, session.State())

	require.Len(t, client.messages, 2)
	assert.Equal(t, llm.RoleSystem, client.messages[0].Role)
	assert.Contains(t, client.messages[0].Content, "job counselor")
	assert.Contains(t, client.messages[0].Content, "Description: Build models.")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What does Acme need?"}, client.messages[1])
}

func TestAskIncludesHistoryInOrder(t *testing.T) {
	client := &stubLLM{answer: "first"}
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, client, Config{K: 3}, nil, nil)
	session := NewSession()

	_, err := responder.Ask(context.Background(), session, "q1")
	require.NoError(t, err)

	client.answer = "second"
	_, err = responder.Ask(context.Background(), session, "q2")
	require.NoError(t, err)

	require.Len(t, client.messages, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "q1"}, client.messages[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "first"}, client.messages[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "q2"}, client.messages[3])
	assert.Len(t, session.History(), 2)
}

func TestAskEmptyRetrievalProceeds(t *testing.T) {
	client := &stubLLM{answer: "Tell me more about what you are looking for."}
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, client, Config{}, nil, nil)
	session := NewSession()

	resp, err := responder.Ask(context.Background(), session, "What does Acme need?")
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.True(t, strings.HasSuffix(client.messages[0].Content, "answer the user's questions:\n"))
	assert.Len(t, session.History(), 1)
}

func TestAskGenerationFailureLeavesHistory(t *testing.T) {
	client := &stubLLM{answer: "ok"}
	responder := NewResponder(&stubBackend{results: acmeResults()}, index.Handle{}, nil, client, Config{}, nil, nil)
	session := NewSession()
	_, err := responder.Ask(context.Background(), session, "q1")
	require.NoError(t, err)
	before := session.History()

	cause := errors.New("upstream 500")
	client.err = cause
	_, err = responder.Ask(context.Background(), session, "q2")

	var genErr *GenerationFailedError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, before, session.History())
	assert.Equal(t, StateIdle, session.State())
}

func TestAskUnavailableGuardIsGenerationFailure(t *testing.T) {
	client := &stubLLM{err: llm.ErrUnavailable}
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, client, Config{}, nil, nil)

	_, err := responder.Ask(context.Background(), NewSession(), "q")
	var genErr *GenerationFailedError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestAskSearchFailureIsBackendUnavailable(t *testing.T) {
	client := &stubLLM{answer: "unused"}
	responder := NewResponder(&stubBackend{err: errors.New("connection refused")}, index.Handle{}, nil, client, Config{}, nil, nil)
	session := NewSession()

	_, err := responder.Ask(context.Background(), session, "q")
	var unavailable *BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Nil(t, client.messages)
	assert.Empty(t, session.History())
}

func TestAskEmptyAnswerIsGenerationFailure(t *testing.T) {
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, &stubLLM{answer: "   "}, Config{}, nil, nil)
	session := NewSession()

	_, err := responder.Ask(context.Background(), session, "q")
	var genErr *GenerationFailedError
	assert.ErrorAs(t, err, &genErr)
	assert.Empty(t, session.History())
}

func TestAskTimeoutIsGenerationFailure(t *testing.T) {
	client := &stubLLM{release: make(chan struct{})}
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, client, Config{Timeout: 20 * time.Millisecond}, nil, nil)
	session := NewSession()

	_, err := responder.Ask(context.Background(), session, "q")
	var genErr *GenerationFailedError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Empty(t, session.History())
}

func TestAskRejectsConcurrentQuestion(t *testing.T) {
	client := &stubLLM{answer: "done", started: make(chan struct{}), release: make(chan struct{})}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, client, Config{}, nil, m)
	session := NewSession()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = responder.Ask(context.Background(), session, "first")
	}()

	<-client.started
	assert.Equal(t, StateGenerating, session.State())

	_, err := responder.Ask(context.Background(), session, "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(client.release)
	wg.Wait()
	require.NoError(t, firstErr)

	history := session.History()
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].Question)

	count, err := testutil.GatherAndCount(reg, "counselor_asks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAskSeparateSessionsDoNotBlock(t *testing.T) {
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, &stubLLM{answer: "a"}, Config{}, nil, nil)
	s1, s2 := NewSession(), NewSession()
	assert.NotEqual(t, s1.ID, s2.ID)

	_, err := responder.Ask(context.Background(), s1, "q")
	require.NoError(t, err)
	_, err = responder.Ask(context.Background(), s2, "q")
	require.NoError(t, err)
	assert.Len(t, s1.History(), 1)
	assert.Len(t, s2.History(), 1)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	responder := NewResponder(&stubBackend{}, index.Handle{}, nil, &stubLLM{answer: "a"}, Config{}, nil, nil)
	_, err := responder.Ask(context.Background(), NewSession(), "   ")
	assert.ErrorContains(t, err, "empty")
}

func TestAskAddsEmployerInsights(t *testing.T) {
	graph := &stubGraph{data: map[string]EmployerInsight{
		"Acme": {Employer: "Acme", PostingCount: 2, PostingTitles: []string{"Data Scientist", "ML Engineer"}},
	}}
	client := &stubLLM{answer: "ok"}
	responder := NewResponder(&stubBackend{results: acmeResults()}, index.Handle{}, graph, client, Config{}, nil, nil)

	resp, err := responder.Ask(context.Background(), NewSession(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Sources[0].Insight.PostingCount)
	assert.Contains(t, client.messages[0].Content, "Acme has 2 open postings: Data Scientist, ML Engineer")
}

func TestAskGraphFailureIsNotFatal(t *testing.T) {
	graph := &stubGraph{err: errors.New("neo4j down")}
	responder := NewResponder(&stubBackend{results: acmeResults()}, index.Handle{}, graph, &stubLLM{answer: "ok"}, Config{}, nil, nil)

	resp, err := responder.Ask(context.Background(), NewSession(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Answer)
}

func TestMergeSourcesGroupsByDocument(t *testing.T) {
	sources := mergeSources(acmeResults(), nil)
	require.Len(t, sources, 1)
	assert.Contains(t, sources[0].Snippet, "Employer: Acme")
	assert.Contains(t, sources[0].Snippet, "\n---\nDescription: Build models.")
}

func TestNeo4jGraphStoreNilDriver(t *testing.T) {
	_, err := NewNeo4jGraphStore(nil).EmployerInsights(context.Background(), []string{"Acme"})
	assert.ErrorIs(t, err, errNoGraphDriver)
}
