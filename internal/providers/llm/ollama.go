package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaClient runs prompts against a local Ollama server.
type OllamaClient struct {
	llm         *ollama.LLM
	temperature float64
	maxTokens   int
}

func NewOllamaClient(host, model string, temperature float64, maxTokens int) (*OllamaClient, error) {
	if host == "" {
		host = defaultOllamaHost
	}
	opts := []ollama.Option{ollama.WithServerURL(host)}
	if model != "" {
		opts = append(opts, ollama.WithModel(model))
	}
	l, err := ollama.New(opts...)
	if err != nil {
		return nil, err
	}
	return &OllamaClient{llm: l, temperature: temperature, maxTokens: maxTokens}, nil
}

func (o *OllamaClient) Name() string { return "ollama" }

func (o *OllamaClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o.llm, prompt, o.callOptions()...)
}

func (o *OllamaClient) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	opts := append(o.callOptions(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onDelta(string(chunk))
	}))
	_, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt, opts...)
	return err
}

func (o *OllamaClient) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if o.temperature > 0 {
		opts = append(opts, llms.WithTemperature(o.temperature))
	}
	if o.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.maxTokens))
	}
	return opts
}
