package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultCachePrefix = "emb:"

// vectorCache is the part of the redis client the cache needs.
type vectorCache interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder memoizes embeddings in redis keyed by model and text hash.
// Cache errors are logged and never fail an Embed call.
type CachedEmbedder struct {
	next   Embedder
	cache  vectorCache
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedEmbedder(next Embedder, client vectorCache, model string, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{next: next, cache: client, model: model, ttl: ttl, logger: logger}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text)
	}

	results := make([][]float32, len(texts))
	cached, err := c.cache.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache lookup failed", zap.Error(err))
		cached = nil
	}
	for i, value := range cached {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		if vec, ok := decodeVector([]byte(raw)); ok {
			results[i] = vec
		}
	}

	missing := make([]int, 0, len(texts))
	for i := range results {
		if results[i] == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}

	pending := make([]string, len(missing))
	for j, idx := range missing {
		pending[j] = texts[idx]
	}
	fresh, err := c.next.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(pending) {
		return nil, fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", len(pending), len(fresh))
	}

	for j, idx := range missing {
		results[idx] = fresh[j]
		if err := c.cache.Set(ctx, keys[idx], encodeVector(fresh[j]), c.ttl).Err(); err != nil {
			c.logger.Warn("embedding cache store failed", zap.Error(err))
		}
	}
	c.logger.Debug("embedded texts", zap.Int("cached", len(texts)-len(missing)), zap.Int("fresh", len(missing)))
	return results, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return defaultCachePrefix + c.model + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, bool) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, true
}

var _ Embedder = (*CachedEmbedder)(nil)
