package search

import (
	"context"
	"fmt"
	"sync"
)

// Mock returns canned results. Fn, when set, takes precedence.
type Mock struct {
	Fn func(ctx context.Context, query string, maxResults int) ([]Result, error)

	mu      sync.Mutex
	queries []string
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Fn != nil {
		return m.Fn(ctx, query, maxResults)
	}
	n := limit(maxResults)
	if n > 2 {
		n = 2
	}
	out := make([]Result, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Result{
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Title:   fmt.Sprintf("Result %d for %s", i, query),
			Content: fmt.Sprintf("Placeholder content %d about %s.", i, query),
		})
	}
	return out, nil
}

// Queries returns the queries received so far.
func (m *Mock) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
