package search

import (
	"strings"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/config"
)

// New returns the Provider named by cfg.Provider. With no provider set the
// first available key wins (Tavily, then Brave), falling back to DuckDuckGo,
// which needs none.
func New(cfg config.Search, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	prov := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if prov == "" {
		switch {
		case cfg.TavilyKey != "":
			prov = "tavily"
		case cfg.BraveKey != "":
			prov = "brave"
		default:
			prov = "duckduckgo"
		}
	}
	switch prov {
	case "tavily":
		if cfg.TavilyKey == "" {
			logger.Warn("tavily selected but TAVILY_API_KEY is empty, using duckduckgo")
			return NewDuckDuckGo()
		}
		t := NewTavily(cfg.TavilyKey, cfg.Depth)
		if cfg.TavilyURL != "" {
			t.URL = cfg.TavilyURL
		}
		return t
	case "brave":
		if cfg.BraveKey == "" {
			logger.Warn("brave selected but BRAVE_API_KEY is empty, using duckduckgo")
			return NewDuckDuckGo()
		}
		return NewBrave(cfg.BraveKey)
	case "duckduckgo", "ddg":
		return NewDuckDuckGo()
	case "mock":
		return &Mock{}
	default:
		logger.Warn("unknown search provider, using duckduckgo", zap.String("provider", prov))
		return NewDuckDuckGo()
	}
}
