// Package provider builds streaming chat models from per-user model
// configuration. Supported providers are openai, anthropic, ollama, and
// custom (any OpenAI-compatible endpoint reached via its base URL).
package provider

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
)

const (
	defaultOllamaURL  = "http://localhost:11434"
	defaultMaxTokens  = 2000
	defaultOpenAIName = "gpt-4o-mini"
)

// Factory creates stream models keyed by the config's provider name.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

var _ types.ModelFactory = (*Factory)(nil)

// ModelFor builds a streaming model from the given configuration.
func (f *Factory) ModelFor(cfg *models.ModelConfig) (types.StreamModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("model config is required")
	}

	llm, err := buildLLM(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s model: %w", cfg.Provider, err)
	}

	return &chatModel{
		llm:         llm,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func buildLLM(cfg *models.ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai":
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIName
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		return anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
	case "ollama", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		return ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(baseURL),
		)
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("custom provider requires a base URL")
		}
		return openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
			openai.WithBaseURL(cfg.BaseURL),
		)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// chatModel adapts a langchaingo model to the streaming interface.
type chatModel struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

// StreamText sends the conversation to the model, invoking fn for each
// generated fragment, and returns the assembled response text.
func (m *chatModel) StreamText(ctx context.Context, system string, msgs []models.ChatMessage, fn func(ctx context.Context, chunk []byte) error) (string, error) {
	content := make([]llms.MessageContent, 0, len(msgs)+1)
	if system != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, msg := range msgs {
		content = append(content, llms.TextParts(roleToMessageType(msg.Role), msg.Content))
	}

	maxTokens := m.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts := []llms.CallOption{
		llms.WithTemperature(m.temperature),
		llms.WithMaxTokens(maxTokens),
	}
	if fn != nil {
		opts = append(opts, llms.WithStreamingFunc(fn))
	}

	resp, err := m.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return resp.Choices[0].Content, nil
}

func roleToMessageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
