package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// ErrNoCredentials is returned when none of the selected providers has the
// credentials it needs.
var ErrNoCredentials = errors.New("no API credentials found in environment")

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type RetrievalConfig struct {
	K               int           `yaml:"k"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	RateLimit       float64       `yaml:"rate_limit"`
}

type Config struct {
	LLM        LLMConfig       `yaml:"llm"`
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	Chunking   ChunkConfig     `yaml:"chunking"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`

	IndexBackend string `yaml:"index_backend"`
	JobsCSV      string `yaml:"jobs_csv"`
	HTTPAddr     string `yaml:"http_addr"`

	OpenAIAPIKey    string `yaml:"-"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"-"`
	OllamaHost      string `yaml:"ollama_host"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_username"`
	Neo4jPass   string `yaml:"-"`
	RedisAddr   string `yaml:"redis_addr"`
}

func Load() Config {
	return Config{
		LLM: LLMConfig{
			Provider: strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			Model:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		Embeddings: EmbeddingConfig{
			Provider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		Chunking: ChunkConfig{
			Size:    getEnvInt("CHUNK_SIZE", 1000),
			Overlap: getEnvInt("CHUNK_OVERLAP", 200),
		},
		Retrieval: RetrievalConfig{
			K:               getEnvInt("RETRIEVAL_K", 10),
			GenerateTimeout: getEnvDuration("GENERATE_TIMEOUT", 0),
			RateLimit:       getEnvFloat("LLM_RATE_LIMIT", 0),
		},
		IndexBackend:    strings.ToLower(getEnv("INDEX_BACKEND", BackendMemory)),
		JobsCSV:         getEnv("JOBS_CSV", "data/jobs.csv"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		PostgresDSN:     getEnv("POSTGRES_DSN", "postgres://localhost:5432/counselor?sslmode=disable"),
		Neo4jURI:        getEnv("NEO4J_URI", ""),
		Neo4jUser:       getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:       getEnv("NEO4J_PASSWORD", "password"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
	}
}

// LoadFile loads the environment configuration and overlays the YAML file at
// path on top of it. Secrets are never read from the file.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.Embeddings.Provider = strings.ToLower(cfg.Embeddings.Provider)
	cfg.IndexBackend = strings.ToLower(cfg.IndexBackend)
	return cfg, nil
}

// Validate reports configuration that would make startup impossible.
func (c Config) Validate() error {
	if !c.hasCredentials(c.LLM.Provider) || !c.hasCredentials(c.Embeddings.Provider) {
		if c.OpenAIAPIKey == "" && c.AnthropicAPIKey == "" {
			return ErrNoCredentials
		}
		return fmt.Errorf("%w for providers %s/%s", ErrNoCredentials, c.LLM.Provider, c.Embeddings.Provider)
	}
	switch c.IndexBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown index backend: %s", c.IndexBackend)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval k must be positive, got %d", c.Retrieval.K)
	}
	return nil
}

func (c Config) hasCredentials(provider string) bool {
	switch provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	case ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	case ProviderOllama:
		return true
	default:
		// unknown providers are reported by the factories
		return true
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
