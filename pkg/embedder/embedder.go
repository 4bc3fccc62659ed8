package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// DefaultMaxChars is the input budget per embedding call. Longer text is
// truncated before it reaches the provider.
const DefaultMaxChars = 8000

// ProviderError wraps a failed embedding provider call. The core never
// retries these; retry policy belongs to the caller.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider error during %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Client is the provider surface the embedder drives. Both langchaingo
// backends used here satisfy it.
type Client interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Provider  string // "openai" | "ollama" | "custom"
	Model     string
	APIKey    string
	BaseURL   string
	MaxChars  int
	RateLimit float64 // embedding calls per second, 0 means unlimited
}

// Embedder converts text into fixed-dimension vectors through an external
// provider, truncating oversized input first.
type Embedder struct {
	config  EmbedderConfig
	client  Client
	limiter *rate.Limiter
}

// NewWithConfig builds an embedder for the configured provider tag.
func NewWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultMaxChars
	}

	var client Client
	var err error

	switch config.Provider {
	case "ollama", "":
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		client, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(baseURL))
	case "openai":
		client, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model))
	case "custom":
		// any OpenAI-compatible embeddings endpoint
		client, err = openai.New(
			openai.WithToken(config.APIKey),
			openai.WithBaseURL(config.BaseURL),
			openai.WithEmbeddingModel(config.Model))
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return newWithClient(config, client), nil
}

// NewWithClient wires a caller-supplied provider client. Used by tests and
// by callers bringing their own transport.
func NewWithClient(config EmbedderConfig, client Client) *Embedder {
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultMaxChars
	}
	return newWithClient(config, client)
}

func newWithClient(config EmbedderConfig, client Client) *Embedder {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &Embedder{config: config, client: client, limiter: limiter}
}

// Embed returns the embedding vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Op: "embed", Err: err}
		}
	}

	vectors, err := e.client.CreateEmbedding(ctx, []string{e.truncate(text)})
	if err != nil {
		return nil, &ProviderError{Op: "embed", Err: err}
	}
	if len(vectors) == 0 {
		return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("provider returned no embedding")}
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts one call at a time, preserving input order. The
// result always has the same cardinality as the input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// truncate cuts text to the character budget without splitting a rune.
func (e *Embedder) truncate(text string) string {
	if len(text) <= e.config.MaxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= e.config.MaxChars {
		return text
	}
	return string(runes[:e.config.MaxChars])
}
