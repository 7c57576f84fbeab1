package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fabfab/counselor/corpus"
	"github.com/fabfab/counselor/database"
	"github.com/fabfab/counselor/embeddings"
)

// PostgresBackend stores chunk vectors in pgvector tables. Each Index call
// writes a new index_id so earlier builds stay searchable until cleared.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	embedder  embeddings.Embedder
	dimension int
	logger    *zap.Logger
}

func NewPostgresBackend(pool *pgxpool.Pool, embedder embeddings.Embedder, dimension int, logger *zap.Logger) *PostgresBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresBackend{pool: pool, embedder: embedder, dimension: dimension, logger: logger}
}

func (b *PostgresBackend) Index(ctx context.Context, chunks []corpus.Chunk) (h Handle, err error) {
	if b.pool == nil {
		return Handle{}, fmt.Errorf("postgres pool is nil")
	}
	if b.embedder == nil {
		return Handle{}, fmt.Errorf("embedder not configured")
	}
	if err := database.EnsureRAGSchema(ctx, b.pool, b.dimension); err != nil {
		return Handle{}, fmt.Errorf("ensure schema: %w", err)
	}

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}
		vectors, err = b.embedder.Embed(ctx, texts)
		if err != nil {
			return Handle{}, fmt.Errorf("generate embeddings: %w", err)
		}
		if len(vectors) != len(chunks) {
			return Handle{}, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
		}
	}

	indexID := uuid.New()
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Handle{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				b.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	seen := make(map[string]struct{})
	for i, chunk := range chunks {
		if _, ok := seen[chunk.DocumentID]; !ok {
			seen[chunk.DocumentID] = struct{}{}
			if _, err = tx.Exec(ctx, `
				INSERT INTO rag_documents (id, index_id, title, employer, created_at)
				VALUES ($1, $2, $3, $4, NOW())
				ON CONFLICT (id) DO UPDATE SET index_id = EXCLUDED.index_id
			`, chunk.DocumentID, indexID, chunk.Metadata.Title, chunk.Metadata.Employer); err != nil {
				return Handle{}, fmt.Errorf("insert document %s: %w", chunk.DocumentID, err)
			}
		}

		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, index_id, document_id, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, chunk.ID, indexID, chunk.DocumentID, chunk.Index, chunk.Content, pgvector.NewVector(vectors[i])); err != nil {
			return Handle{}, fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return Handle{}, fmt.Errorf("commit transaction: %w", err)
	}

	h = Handle{ID: indexID.String(), Chunks: len(chunks)}
	b.logger.Info("built postgres index", zap.String("index", h.ID), zap.Int("chunks", h.Chunks))
	return h, nil
}

func (b *PostgresBackend) Search(ctx context.Context, h Handle, query string, k int) ([]Result, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	if b.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	indexID, err := uuid.Parse(h.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h.ID)
	}

	vectors, err := b.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := max(k*10, 10)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT
			rc.id,
			rc.document_id,
			rc.chunk_index,
			rc.content,
			rd.title,
			rd.employer,
			(rc.embedding <-> $2::vector) AS distance
		FROM rag_chunks rc
		JOIN rag_documents rd ON rd.id = rc.document_id
		WHERE rc.index_id = $1
		ORDER BY rc.embedding <-> $2::vector
		LIMIT $3
	`, indexID, pgvector.NewVector(vectors[0]), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, k)
	for rows.Next() {
		var item Result
		var distance float64
		if err := rows.Scan(
			&item.Chunk.ID,
			&item.Chunk.DocumentID,
			&item.Chunk.Index,
			&item.Chunk.Content,
			&item.Chunk.Metadata.Title,
			&item.Chunk.Metadata.Employer,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		item.Score = 1 / (1 + distance)
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}

	return results, nil
}

var _ Backend = (*PostgresBackend)(nil)
