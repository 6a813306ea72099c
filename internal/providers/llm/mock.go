package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is used when no real provider is configured, and in tests.
// Respond, when set, computes the reply; otherwise a canned reply echoing the
// prompt's first line is returned. Streaming splits the reply on word
// boundaries.
type MockClient struct {
	Respond func(ctx context.Context, prompt string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Respond != nil {
		return m.Respond(ctx, prompt)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	if len(first) > 120 {
		first = first[:120]
	}
	return "Mock response for: " + first, nil
}

func (m *MockClient) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	txt, err := m.GenerateText(ctx, prompt)
	if err != nil {
		return err
	}
	for _, w := range splitKeepSpace(txt) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(w); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns the prompts received so far, in arrival order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// splitKeepSpace splits s after each space so the pieces concatenate back to s.
func splitKeepSpace(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
