// Package knowledge mirrors ingested postings into a Neo4j graph of
// employers, postings and chunks.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNoDriver is returned when a graph write is attempted without Neo4j.
var ErrNoDriver = errors.New("knowledge graph: neo4j driver is nil")

type Posting struct {
	ID       string
	Title    string
	Employer string
	Chunks   []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Text  string
}

// Syncer binds SyncPosting to a driver so ingestion can depend on an
// interface.
type Syncer struct {
	driver neo4j.DriverWithContext
}

func NewSyncer(driver neo4j.DriverWithContext) *Syncer {
	return &Syncer{driver: driver}
}

func (s *Syncer) SyncPosting(ctx context.Context, posting Posting) error {
	return SyncPosting(ctx, s.driver, posting)
}

const (
	upsertPosting = `
MERGE (p:Posting {id: $id})
SET p.title = $title, p.updated_at = datetime()
WITH p
OPTIONAL MATCH (:Employer)-[old:POSTED]->(p)
DELETE old`

	linkEmployer = `
MATCH (p:Posting {id: $id})
MERGE (e:Employer {name: $employer})
MERGE (e)-[:POSTED]->(p)`

	replaceChunks = `
MATCH (p:Posting {id: $id})
OPTIONAL MATCH (p)-[:HAS_CHUNK]->(stale:Chunk)
DETACH DELETE stale
WITH DISTINCT p
UNWIND $chunks AS chunk
MERGE (c:Chunk {id: chunk.id})
SET c.index = chunk.index, c.text = chunk.text
MERGE (p)-[:HAS_CHUNK {order: chunk.index}]->(c)`
)

// SyncPosting upserts the posting, points it at its employer and replaces
// its chunk nodes, all in one write transaction. A posting without an
// employer is stored unlinked.
func SyncPosting(ctx context.Context, driver neo4j.DriverWithContext, posting Posting) error {
	if driver == nil {
		return ErrNoDriver
	}

	chunks := make([]map[string]any, 0, len(posting.Chunks))
	for _, chunk := range posting.Chunks {
		chunks = append(chunks, map[string]any{"id": chunk.ID, "index": chunk.Index, "text": chunk.Text})
	}
	params := map[string]any{
		"id":       posting.ID,
		"title":    posting.Title,
		"employer": posting.Employer,
		"chunks":   chunks,
	}

	steps := []struct {
		name  string
		query string
	}{
		{"upsert posting", upsertPosting},
		{"link employer", linkEmployer},
		{"replace chunks", replaceChunks},
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, step := range steps {
			if step.query == linkEmployer && posting.Employer == "" {
				continue
			}
			res, err := tx.Run(ctx, step.query, params)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", step.name, posting.ID, err)
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, fmt.Errorf("%s %s: %w", step.name, posting.ID, err)
			}
		}
		return nil, nil
	})
	return err
}

// Purge removes every Chunk, Posting and Employer node.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return ErrNoDriver
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, label := range []string{"Chunk", "Posting", "Employer"} {
		_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (neo4j.ResultSummary, error) {
			res, err := tx.Run(ctx, fmt.Sprintf("MATCH (n:%s) DETACH DELETE n", label), nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("purge %s nodes: %w", label, err)
		}
	}
	return nil
}
