package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphStore looks up what the knowledge graph knows about employers.
// Unknown employers are simply absent from the returned map.
type GraphStore interface {
	EmployerInsights(ctx context.Context, employers []string) (map[string]EmployerInsight, error)
}

const employerInsightsQuery = `
MATCH (e:Employer)
WHERE e.name IN $names
OPTIONAL MATCH (e)-[:POSTED]->(p:Posting)
WITH e, collect(DISTINCT p.title) AS titles
RETURN e.name AS employer,
       size(titles) AS postingCount,
       [t IN titles WHERE t IS NOT NULL AND t <> ''] AS titles`

type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

var errNoGraphDriver = errors.New("employer graph has no neo4j driver")

func (s *Neo4jGraphStore) EmployerInsights(ctx context.Context, employers []string) (map[string]EmployerInsight, error) {
	if s.driver == nil {
		return nil, errNoGraphDriver
	}
	if len(employers) == 0 {
		return map[string]EmployerInsight{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		res, err := tx.Run(ctx, employerInsightsQuery, map[string]any{"names": employers})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("query employer insights: %w", err)
	}

	insights := make(map[string]EmployerInsight, len(records))
	for _, record := range records {
		insight, err := insightFromRecord(record)
		if err != nil {
			return nil, err
		}
		if insight.Employer != "" {
			insights[insight.Employer] = insight
		}
	}
	return insights, nil
}

func insightFromRecord(record *neo4j.Record) (EmployerInsight, error) {
	name, _, err := neo4j.GetRecordValue[string](record, "employer")
	if err != nil {
		return EmployerInsight{}, fmt.Errorf("employer insight name: %w", err)
	}
	count, _, err := neo4j.GetRecordValue[int64](record, "postingCount")
	if err != nil {
		return EmployerInsight{}, fmt.Errorf("employer insight count for %s: %w", name, err)
	}
	rawTitles, _, err := neo4j.GetRecordValue[[]any](record, "titles")
	if err != nil {
		return EmployerInsight{}, fmt.Errorf("employer insight titles for %s: %w", name, err)
	}

	titles := make([]string, 0, len(rawTitles))
	for _, raw := range rawTitles {
		if title, ok := raw.(string); ok {
			titles = append(titles, title)
		}
	}
	return EmployerInsight{Employer: name, PostingCount: int(count), PostingTitles: titles}, nil
}
