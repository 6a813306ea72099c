package llm

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/config"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-sonnet-latest"
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultOllamaModel    = "llama3"
)

// New returns a Client for cfg.
// Supported providers: openai, anthropic, gemini, ollama, mock.
// With no provider set, the first API key present picks one
// (OpenAI, then Anthropic, then Gemini). If nothing is configured, or the
// chosen provider cannot be built, a MockClient is returned.
func New(ctx context.Context, cfg config.LLM, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	prov := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if prov == "" {
		switch {
		case cfg.OpenAIAPIKey != "":
			prov = "openai"
		case cfg.AnthropicAPIKey != "":
			prov = "anthropic"
		case cfg.GoogleAPIKey != "":
			prov = "gemini"
		default:
			prov = "mock"
		}
	}
	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.HTTPTimeout <= 0 {
		hc.Timeout = defaultHTTPTimeout
	}

	switch prov {
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return &OpenAIClient{
				APIKey:      cfg.OpenAIAPIKey,
				Model:       modelOrDefault(cfg.Model, defaultOpenAIModel),
				BaseURL:     strings.TrimRight(cfg.OpenAIBaseURL, "/"),
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
				HTTPClient:  hc,
			}
		}
		logger.Warn("openai selected but OPENAI_API_KEY is empty, using mock")
	case "anthropic":
		if cfg.AnthropicAPIKey != "" {
			return &AnthropicClient{
				APIKey:      cfg.AnthropicAPIKey,
				Model:       modelOrDefault(cfg.Model, defaultAnthropicModel),
				URL:         cfg.AnthropicURL,
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
				HTTPClient:  hc,
			}
		}
		logger.Warn("anthropic selected but ANTHROPIC_API_KEY is empty, using mock")
	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.GoogleAPIKey, modelOrDefault(cfg.Model, defaultGeminiModel), cfg.Temperature, cfg.MaxTokens)
		if err == nil {
			return c
		}
		logger.Warn("gemini client unavailable, using mock", zap.Error(err))
	case "ollama":
		c, err := NewOllamaClient(cfg.OllamaHost, modelOrDefault(cfg.Model, defaultOllamaModel), cfg.Temperature, cfg.MaxTokens)
		if err == nil {
			return c
		}
		logger.Warn("ollama client unavailable, using mock", zap.Error(err))
	case "mock":
	default:
		logger.Warn("unknown llm provider, using mock", zap.String("provider", prov))
	}
	return &MockClient{}
}

func modelOrDefault(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return def
}
