package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/counselor/corpus"
	"github.com/fabfab/counselor/embeddings"
)

type memoryCollection struct {
	chunks  []corpus.Chunk
	vectors [][]float32
	norms   []float64
}

// MemoryBackend keeps vectors in process and ranks by cosine similarity.
type MemoryBackend struct {
	embedder embeddings.Embedder
	logger   *zap.Logger

	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemoryBackend(embedder embeddings.Embedder, logger *zap.Logger) *MemoryBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBackend{
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*memoryCollection),
	}
}

func (b *MemoryBackend) Index(ctx context.Context, chunks []corpus.Chunk) (Handle, error) {
	if b.embedder == nil {
		return Handle{}, fmt.Errorf("embedder not configured")
	}

	col := &memoryCollection{chunks: append([]corpus.Chunk(nil), chunks...)}
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}
		vectors, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return Handle{}, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(chunks) {
			return Handle{}, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
		}
		col.vectors = vectors
		col.norms = make([]float64, len(vectors))
		for i, vec := range vectors {
			col.norms[i] = norm(vec)
		}
	}

	h := Handle{ID: uuid.NewString(), Chunks: len(chunks)}
	b.mu.Lock()
	b.collections[h.ID] = col
	b.mu.Unlock()

	b.logger.Info("built in-memory index", zap.String("index", h.ID), zap.Int("chunks", h.Chunks))
	return h, nil
}

func (b *MemoryBackend) Search(ctx context.Context, h Handle, query string, k int) ([]Result, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}

	b.mu.RLock()
	col, ok := b.collections[h.ID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
	}
	if len(col.chunks) == 0 {
		return []Result{}, nil
	}

	vectors, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	q := vectors[0]
	qNorm := norm(q)

	results := make([]Result, len(col.chunks))
	for i := range col.chunks {
		results[i] = Result{Chunk: col.chunks[i], Score: cosine(q, col.vectors[i], qNorm, col.norms[i])}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, aNorm, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

var _ Backend = (*MemoryBackend)(nil)
