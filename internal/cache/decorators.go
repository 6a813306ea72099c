package cache

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
)

const (
	searchNamespace = "search"
	llmNamespace    = "llm"
)

// Search wraps a search.Provider with a read-through cache. Cache failures
// fall back to the provider; provider errors are never cached.
type Search struct {
	Provider search.Provider
	Cache    Cache
	Logger   *zap.Logger
}

func (s *Search) Name() string { return search.ProviderName(s.Provider) }

type searchKey struct {
	Provider   string `json:"provider"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (s *Search) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	key := searchKey{Provider: s.Name(), Query: strings.TrimSpace(query), MaxResults: maxResults}
	var cached []search.Result
	if ok, _ := s.Cache.Get(ctx, searchNamespace, key, &cached); ok {
		return cached, nil
	}
	res, err := s.Provider.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Set(ctx, searchNamespace, key, res); err != nil {
		logger.OrNop(s.Logger).Warn("search cache store failed", zap.Error(err))
	}
	return res, nil
}

// Client wraps an llm.Client with a read-through cache keyed by provider and
// prompt. On a hit the stored completion is replayed as a single chunk.
type Client struct {
	Client llm.Client
	Cache  Cache
	Logger *zap.Logger
}

func (c *Client) Name() string { return llm.ProviderName(c.Client) }

type promptKey struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	key := promptKey{Provider: c.Name(), Prompt: prompt}
	var cached string
	if ok, _ := c.Cache.Get(ctx, llmNamespace, key, &cached); ok {
		return cached, nil
	}
	out, err := c.Client.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, out)
	return out, nil
}

func (c *Client) GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error {
	key := promptKey{Provider: c.Name(), Prompt: prompt}
	var cached string
	if ok, _ := c.Cache.Get(ctx, llmNamespace, key, &cached); ok {
		return onDelta(cached)
	}
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var b strings.Builder
	for ch := range llm.Stream(sctx, c.Client, prompt) {
		if ch.Err != nil {
			return ch.Err
		}
		b.WriteString(ch.Text)
		if err := onDelta(ch.Text); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store(ctx, key, b.String())
	return nil
}

func (c *Client) store(ctx context.Context, key promptKey, out string) {
	if strings.TrimSpace(out) == "" {
		return
	}
	if err := c.Cache.Set(ctx, llmNamespace, key, out); err != nil {
		logger.OrNop(c.Logger).Warn("llm cache store failed", zap.Error(err))
	}
}
