// Package index defines the embedding/search capability the responder
// consumes, with an in-process and a Postgres/pgvector adapter.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/counselor/corpus"
)

// Handle identifies one built index.
type Handle struct {
	ID     string
	Chunks int
}

type Result struct {
	Chunk corpus.Chunk
	Score float64
}

// Backend builds searchable indexes over chunks. Index may be slow and is
// expected to finish before any Search. Search returns at most k results,
// best first.
type Backend interface {
	Index(ctx context.Context, chunks []corpus.Chunk) (Handle, error)
	Search(ctx context.Context, h Handle, query string, k int) ([]Result, error)
}

// ErrUnknownHandle is returned when searching an index this backend never
// built.
var ErrUnknownHandle = errors.New("unknown index handle")

func validateK(k int) error {
	if k <= 0 {
		return fmt.Errorf("search k must be positive, got %d", k)
	}
	return nil
}
