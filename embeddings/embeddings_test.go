package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/counselor/config"
)

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 3,
		},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.NotNil(t, embedder)
}

func TestNewEmbedderOpenAIMissingKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}

	_, err := NewEmbedder(cfg)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestNewEmbedderRejectsAnthropic(t *testing.T) {
	_, err := NewEmbedder(config.Config{Embeddings: config.EmbeddingConfig{Provider: config.ProviderAnthropic}})
	assert.ErrorIs(t, err, errNoEmbeddingsAPI)
}

func TestOllamaEmbedderDimensionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		reply := ollamaEmbedReply{}
		for range req.Input {
			reply.Embeddings = append(reply.Embeddings, []float32{0.1, 0.2})
		}
		_ = json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	ok := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Dimension: 2})
	vecs, err := ok.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.InDelta(t, 0.2, vecs[1][1], 1e-6)

	bad := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Dimension: 3})
	_, err = bad.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestOllamaEmbedderReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic\" not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Model: "nomic"}).Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "not found")
}

type fakeCache struct {
	data    map[string]string
	sets    int
	mgetErr error
}

func (f *fakeCache) MGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	if f.mgetErr != nil {
		return redis.NewSliceResult(nil, f.mgetErr)
	}
	out := make([]interface{}, len(keys))
	for i, key := range keys {
		if v, ok := f.data[key]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.sets++
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

type recordingEmbedder struct {
	seen [][]string
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.seen = append(r.seen, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	cache := &fakeCache{data: map[string]string{}}
	next := &recordingEmbedder{}
	embedder := NewCachedEmbedder(next, cache, "m", time.Hour, nil)

	first, err := embedder.Embed(context.Background(), []string{"alpha", "be"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 1}, {2, 1}}, first)
	assert.Equal(t, 2, cache.sets)

	second, err := embedder.Embed(context.Background(), []string{"be", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {5, 1}}, second)
	require.Len(t, next.seen, 2)
	assert.Equal(t, []string{"gamma"}, next.seen[1])
}

func TestCachedEmbedderFallsThroughOnCacheError(t *testing.T) {
	cache := &fakeCache{data: map[string]string{}, mgetErr: errors.New("connection refused")}
	next := &recordingEmbedder{}
	embedder := NewCachedEmbedder(next, cache, "m", 0, nil)

	vecs, err := embedder.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestVectorEncodingRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3}
	decoded, ok := decodeVector(encodeVector(vec))
	require.True(t, ok)
	assert.Equal(t, vec, decoded)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}
