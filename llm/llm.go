package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fabfab/counselor/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Provider is the closed set of hosted model backends.
type Provider int

const (
	ProviderOpenAI Provider = iota + 1
	ProviderAnthropic
	ProviderOllama
)

var providerNames = map[string]Provider{
	config.ProviderOpenAI:    ProviderOpenAI,
	config.ProviderAnthropic: ProviderAnthropic,
	config.ProviderOllama:    ProviderOllama,
}

func (p Provider) String() string {
	for name, candidate := range providerNames {
		if candidate == p {
			return name
		}
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// ParseProvider maps a configuration key onto a Provider.
func ParseProvider(name string) (Provider, error) {
	p, ok := providerNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, &UnknownProviderError{Key: name}
	}
	return p, nil
}

// UnknownProviderError is returned for a provider key or model label that is
// not in the lookup tables.
type UnknownProviderError struct {
	Key string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown llm provider: %q", e.Key)
}

type Options struct {
	Provider Provider
	Model    string

	OllamaHost      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string

	// AnthropicBaseURL overrides https://api.anthropic.com.
	AnthropicBaseURL string
	Timeout          time.Duration

	// Zero values leave the provider defaults in place.
	Temperature float32
	MaxTokens   int
}

// OptionsFromConfig copies credentials and endpoints out of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Model:           cfg.LLM.Model,
		OllamaHost:      cfg.OllamaHost,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	}
}

func NewClient(cfg config.Config) (Client, error) {
	provider, err := ParseProvider(cfg.LLM.Provider)
	if err != nil {
		return nil, err
	}
	opts := OptionsFromConfig(cfg)
	opts.Provider = provider
	return New(opts)
}

func New(opts Options) (Client, error) {
	switch opts.Provider {
	case ProviderOllama:
		return NewOllamaClient(opts), nil
	case ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	case ProviderAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but ANTHROPIC_API_KEY not set")
		}
		return NewAnthropicClient(opts), nil
	default:
		return nil, &UnknownProviderError{Key: opts.Provider.String()}
	}
}

// Model pins a friendly label to a provider and its model identifier.
type Model struct {
	Provider Provider
	Name     string
}

// Catalog maps friendly model labels, as shown in a picker, to models.
type Catalog map[string]Model

func DefaultCatalog() Catalog {
	return Catalog{
		"GPT-4":       {Provider: ProviderOpenAI, Name: "gpt-4"},
		"GPT-4o":      {Provider: ProviderOpenAI, Name: "gpt-4o"},
		"GPT-4o mini": {Provider: ProviderOpenAI, Name: "gpt-4o-mini"},
		"GPT-3.5":     {Provider: ProviderOpenAI, Name: "gpt-3.5-turbo"},
		"Claude":      {Provider: ProviderAnthropic, Name: "claude-3-sonnet-20240229"},
		"Llama":       {Provider: ProviderOllama, Name: "llama3.1:8b"},
	}
}

func (c Catalog) Lookup(label string) (Model, error) {
	model, ok := c[label]
	if !ok {
		return Model{}, &UnknownProviderError{Key: label}
	}
	return model, nil
}

// Labels returns the catalog labels in a stable order.
func (c Catalog) Labels() []string {
	labels := make([]string, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Client builds a client for the model behind label, taking credentials from
// base.
func (c Catalog) Client(label string, base Options) (Client, error) {
	model, err := c.Lookup(label)
	if err != nil {
		return nil, err
	}
	base.Provider = model.Provider
	base.Model = model.Name
	return New(base)
}
