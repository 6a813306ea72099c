package llm

import (
	"context"
)

// Client is the language model port: one prompt in, one completion out.
// Any provider implementation should satisfy this.
type Client interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// StreamingClient is implemented by providers that can deliver a completion
// incrementally. onDelta is called once per chunk, in order; a non-nil return
// aborts the stream with that error.
type StreamingClient interface {
	Client
	GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error
}

// Named is implemented by providers that report a stable provider name for
// logs and metrics.
type Named interface {
	Name() string
}

// ProviderName returns c's provider name, or "unknown".
func ProviderName(c Client) string {
	if n, ok := c.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
