package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/counselor/config"
)

func TestEnsureRAGSchemaRejectsInvalidDimension(t *testing.T) {
	err := EnsureRAGSchema(context.Background(), nil, 0)
	assert.ErrorContains(t, err, "dimension must be positive")
}

func TestEnsureRAGSchemaRejectsNilPool(t *testing.T) {
	assert.Error(t, EnsureRAGSchema(context.Background(), nil, 3))
}

func TestTruncateRAGRejectsNilPool(t *testing.T) {
	assert.Error(t, TruncateRAG(context.Background(), nil))
}

func TestNewNeo4jDriverOptional(t *testing.T) {
	driver, err := NewNeo4jDriver(context.Background(), "", "neo4j", "password")
	assert.NoError(t, err)
	assert.Nil(t, driver)
}

func TestDatabaseConnectivity(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, EnsureRAGSchema(ctx, pool, cfg.Embeddings.Dimension))

	if cfg.Neo4jURI == "" {
		t.Log("NEO4J_URI not set, skipping graph connectivity")
		return
	}
	driver, err := NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	require.NoError(t, err)
	assert.NoError(t, driver.Close(ctx))
}
