package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fabfab/counselor/chat"
	"github.com/fabfab/counselor/chunking"
	"github.com/fabfab/counselor/config"
	"github.com/fabfab/counselor/database"
	"github.com/fabfab/counselor/dbtgen"
	"github.com/fabfab/counselor/embeddings"
	"github.com/fabfab/counselor/index"
	"github.com/fabfab/counselor/ingestion"
	"github.com/fabfab/counselor/knowledge"
	"github.com/fabfab/counselor/llm"
	"github.com/fabfab/counselor/metrics"
	"github.com/fabfab/counselor/polish"
)

const embeddingCacheTTL = 7 * 24 * time.Hour

type appOptions struct {
	configPath string
	verbose    bool

	// logFile redirects logs away from the terminal, for the TUI.
	logFile string
}

// app owns the configuration and every connection opened for a command.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	mu      sync.Mutex
	closers []func()
	pool    *pgxpool.Pool
	driver  neo4j.DriverWithContext
}

func newApp(opts appOptions) (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(opts.verbose, opts.logFile)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func newLogger(verbose bool, logFile string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
		zcfg.Level = level
	}
	if logFile != "" {
		zcfg.OutputPaths = []string{logFile}
		zcfg.ErrorOutputPaths = []string{logFile}
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func (a *app) onClose(fn func()) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

func (a *app) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	a.pool = pool
	a.onClose(pool.Close)
	return pool, nil
}

// graph returns nil when no NEO4J_URI is configured.
func (a *app) graph(ctx context.Context) (neo4j.DriverWithContext, error) {
	if a.driver != nil || a.cfg.Neo4jURI == "" {
		return a.driver, nil
	}
	driver, err := database.NewNeo4jDriver(ctx, a.cfg.Neo4jURI, a.cfg.Neo4jUser, a.cfg.Neo4jPass)
	if err != nil {
		return nil, fmt.Errorf("neo4j connection: %w", err)
	}
	a.driver = driver
	a.onClose(func() { _ = driver.Close(context.Background()) })
	return driver, nil
}

func (a *app) embedder(ctx context.Context) (embeddings.Embedder, error) {
	embedder, err := embeddings.NewEmbedder(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	if a.cfg.RedisAddr == "" {
		return embedder, nil
	}

	client, err := embeddings.NewRedisClient(ctx, a.cfg.RedisAddr)
	if err != nil {
		a.logger.Warn("embedding cache disabled", zap.Error(err))
		return embedder, nil
	}
	a.onClose(func() { _ = client.Close() })
	return embeddings.NewCachedEmbedder(embedder, client, a.cfg.Embeddings.Model, embeddingCacheTTL, a.logger), nil
}

func (a *app) backend(ctx context.Context, embedder embeddings.Embedder) (index.Backend, error) {
	switch a.cfg.IndexBackend {
	case config.BackendPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return index.NewPostgresBackend(pool, embedder, a.cfg.Embeddings.Dimension, a.logger), nil
	default:
		return index.NewMemoryBackend(embedder, a.logger), nil
	}
}

func (a *app) guard(client llm.Client, name string) llm.Client {
	return llm.NewGuard(client, llm.GuardOptions{
		Name:      name,
		Logger:    a.logger,
		RateLimit: a.cfg.Retrieval.RateLimit,
	})
}

// buildIndex ingests the postings file and indexes its chunks.
func (a *app) buildIndex(ctx context.Context, path string) (index.Backend, index.Handle, ingestion.Report, error) {
	chunker, err := chunking.New(a.cfg.Chunking.Size, a.cfg.Chunking.Overlap)
	if err != nil {
		return nil, index.Handle{}, ingestion.Report{}, err
	}

	driver, err := a.graph(ctx)
	if err != nil {
		return nil, index.Handle{}, ingestion.Report{}, err
	}
	var syncer ingestion.GraphSyncer
	if driver != nil {
		syncer = knowledge.NewSyncer(driver)
	}

	batch, err := ingestion.NewService(chunker, syncer, a.logger, a.metrics).IngestFile(ctx, path)
	if err != nil {
		return nil, index.Handle{}, ingestion.Report{}, fmt.Errorf("ingestion failed: %w", err)
	}

	embedder, err := a.embedder(ctx)
	if err != nil {
		return nil, index.Handle{}, batch.Report, err
	}
	backend, err := a.backend(ctx, embedder)
	if err != nil {
		return nil, index.Handle{}, batch.Report, err
	}

	start := time.Now()
	handle, err := backend.Index(ctx, batch.Chunks)
	if err != nil {
		return nil, index.Handle{}, batch.Report, fmt.Errorf("build index: %w", err)
	}
	a.metrics.AddChunks(handle.Chunks)
	a.logger.Info("index ready",
		zap.String("backend", a.cfg.IndexBackend),
		zap.String("index", handle.ID),
		zap.Int("chunks", handle.Chunks),
		zap.Duration("elapsed", time.Since(start)))

	return backend, handle, batch.Report, nil
}

// responder validates credentials, builds the index and returns a ready
// responder. Nothing is answered before indexing has finished.
func (a *app) responder(ctx context.Context) (*chat.Responder, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := llm.NewClient(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	backend, handle, _, err := a.buildIndex(ctx, a.cfg.JobsCSV)
	if err != nil {
		return nil, err
	}

	var graph chat.GraphStore
	if driver, _ := a.graph(ctx); driver != nil {
		graph = chat.NewNeo4jGraphStore(driver)
	}

	return chat.NewResponder(backend, handle, graph, a.guard(client, "chat"), chat.Config{
		K:       a.cfg.Retrieval.K,
		Timeout: a.cfg.Retrieval.GenerateTimeout,
	}, a.logger, a.metrics), nil
}

// polisher resolves catalog labels lazily and keeps one guarded client per
// label.
func (a *app) polisher() *polish.Polisher {
	catalog := llm.DefaultCatalog()
	base := llm.OptionsFromConfig(a.cfg)
	base.Temperature = 0.7
	base.MaxTokens = 1024

	var mu sync.Mutex
	clients := make(map[string]llm.Client)
	resolve := func(label string) (llm.Client, error) {
		mu.Lock()
		defer mu.Unlock()
		if client, ok := clients[label]; ok {
			return client, nil
		}
		client, err := catalog.Client(label, base)
		if err != nil {
			return nil, err
		}
		guarded := a.guard(client, "polish-"+label)
		clients[label] = guarded
		return guarded, nil
	}
	return polish.New(resolve, a.logger, a.metrics)
}

func (a *app) dbtGenerator(model string) (*dbtgen.Generator, error) {
	if model == "" {
		model = dbtgen.DefaultModel
	}
	opts := llm.OptionsFromConfig(a.cfg)
	opts.Provider = llm.ProviderOpenAI
	opts.Model = model
	opts.Temperature = 0.7

	client, err := llm.New(opts)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}
	return dbtgen.New(a.guard(client, "dbt"), a.logger, a.metrics), nil
}
