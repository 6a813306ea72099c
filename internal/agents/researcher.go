package agents

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/metrics"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
)

// SubResearchResult is the outcome of researching one sub-question.
type SubResearchResult struct {
	SubQuestion string
	Context     string
	Summary     string
	Sources     []search.Result
}

// SubResearcher answers a single sub-question from web search results.
type SubResearcher interface {
	Research(ctx context.Context, subQuestion string) (SubResearchResult, error)
}

// PageFetcher returns the readable text of a URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// WebResearcher searches, optionally enriches thin snippets with page text,
// and summarizes the context with the language model.
type WebResearcher struct {
	Client     llm.Client
	Search     search.Provider
	MaxResults int
	// Fetcher, when set together with FetchPages, replaces snippets shorter
	// than MinSnippetChars with fetched page text.
	Fetcher         PageFetcher
	FetchPages      bool
	MinSnippetChars int
	Timeout         time.Duration
	Logger          *zap.Logger
}

func (r *WebResearcher) Research(ctx context.Context, subQuestion string) (SubResearchResult, error) {
	if strings.TrimSpace(subQuestion) == "" {
		return SubResearchResult{}, InvalidInput("sub-question is empty")
	}
	log := logger.OrNop(r.Logger).With(zap.String("sub_question", subQuestion))

	hits, err := r.search(ctx, subQuestion)
	if err != nil {
		log.Warn("search failed", zap.Error(err))
		return SubResearchResult{}, SubResearchFailed(subQuestion, err)
	}
	if r.FetchPages && r.Fetcher != nil {
		hits = r.enrich(ctx, hits, log)
	}

	res := SubResearchResult{SubQuestion: subQuestion, Context: FormatContext(hits), Sources: hits}
	summary, err := r.summarize(ctx, subQuestion, res.Context)
	if err != nil {
		log.Warn("summarize failed", zap.Error(err))
		return SubResearchResult{}, SubResearchFailed(subQuestion, err)
	}
	res.Summary = summary
	log.Debug("sub-question researched", zap.Int("sources", len(hits)))
	return res, nil
}

func (r *WebResearcher) search(ctx context.Context, q string) ([]search.Result, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()
	start := time.Now()
	hits, err := r.Search.Search(ctx, q, r.MaxResults)
	metrics.ObservePortCall("search", search.ProviderName(r.Search), start, err)
	return hits, err
}

func (r *WebResearcher) summarize(ctx context.Context, q, sources string) (string, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()
	start := time.Now()
	out, err := r.Client.GenerateText(ctx, buildResearchPrompt(q, sources))
	metrics.ObservePortCall("llm", "research", start, err)
	return out, err
}

// enrich fetches pages for thin hits concurrently. Fetch failures keep the
// original snippet.
func (r *WebResearcher) enrich(ctx context.Context, hits []search.Result, log *zap.Logger) []search.Result {
	out := make([]search.Result, len(hits))
	copy(out, hits)
	g, gctx := errgroup.WithContext(ctx)
	for i := range out {
		if len(out[i].Content) >= r.MinSnippetChars || out[i].URL == "" {
			continue
		}
		g.Go(func() error {
			fctx, cancel := withTimeout(gctx, r.Timeout)
			defer cancel()
			text, err := r.Fetcher.Fetch(fctx, out[i].URL)
			if err != nil {
				log.Debug("page fetch failed", zap.String("url", out[i].URL), zap.Error(err))
				return nil
			}
			if strings.TrimSpace(text) != "" {
				out[i].Content = text
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
