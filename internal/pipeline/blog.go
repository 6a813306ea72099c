package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
)

const (
	StageTitles  = "titles"
	StageOutline = "outline"
	StagePosting = "posting"

	outlineSearchResults = 3
)

// Blog generates a product review post: title candidates, then an outline
// grounded in web search, then the streamed posting.
type Blog struct {
	client llm.Client
	search search.Provider
	p      *Pipeline

	mu       sync.Mutex
	keyword  string
	titles   []string
	selected string
}

func NewBlog(client llm.Client, provider search.Provider, onChange func(models.StageSnapshot), logger *zap.Logger) *Blog {
	return &Blog{
		client: client,
		search: provider,
		p:      New("blog", []string{StageTitles, StageOutline, StagePosting}, onChange, logger),
	}
}

var titleLine = regexp.MustCompile(`^\d+\.\s*"?(.+?)"?$`)

// ParseTitles cleans numbering and surrounding quotes from each line and
// drops empty lines.
func ParseTitles(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if m := titleLine.FindStringSubmatch(line); m != nil {
			line = strings.TrimSpace(m[1])
		}
		line = strings.Trim(line, `"`)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (b *Blog) GenerateTitles(ctx context.Context, keyword string) ([]string, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, agents.InvalidInput("product keyword is empty")
	}
	var titles []string
	err := b.p.Exec(ctx, StageTitles, func(ctx context.Context, emit Emit) error {
		b.mu.Lock()
		b.keyword, b.titles, b.selected = keyword, nil, ""
		b.mu.Unlock()
		raw, err := b.client.GenerateText(ctx, titlesPrompt(keyword))
		if err != nil {
			return err
		}
		titles = ParseTitles(raw)
		if len(titles) == 0 {
			return errors.New("model returned no titles")
		}
		b.mu.Lock()
		b.titles = titles
		b.mu.Unlock()
		emit(strings.Join(titles, "\n"))
		return nil
	})
	return titles, err
}

// SelectTitle records title and builds the outline from its search results.
// The title need not be one of the generated candidates.
func (b *Blog) SelectTitle(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", agents.InvalidInput("title is empty")
	}
	err := b.p.Exec(ctx, StageOutline, func(ctx context.Context, emit Emit) error {
		b.mu.Lock()
		b.selected = title
		b.mu.Unlock()
		hits, err := b.search.Search(ctx, title, outlineSearchResults)
		if err != nil {
			return err
		}
		_, err = StreamText(ctx, b.client, outlinePrompt(title, agents.FormatContext(hits)), emit)
		return err
	})
	return b.p.Output(StageOutline), err
}

func (b *Blog) GeneratePosting(ctx context.Context) (string, error) {
	b.mu.Lock()
	title := b.selected
	b.mu.Unlock()
	outline := b.p.Output(StageOutline)
	err := b.p.Exec(ctx, StagePosting, func(ctx context.Context, emit Emit) error {
		_, err := StreamText(ctx, b.client, postingPrompt(title, outline), emit)
		return err
	})
	return b.p.Output(StagePosting), err
}

// Reset clears the keyword, titles and every stage.
func (b *Blog) Reset() {
	b.mu.Lock()
	b.keyword, b.titles, b.selected = "", nil, ""
	b.mu.Unlock()
	b.p.Reset()
}

func (b *Blog) Snapshot() models.BlogSnapshot {
	b.mu.Lock()
	snap := models.BlogSnapshot{
		Keyword:       b.keyword,
		Titles:        append([]string(nil), b.titles...),
		SelectedTitle: b.selected,
	}
	b.mu.Unlock()
	snap.Stages = b.p.Snapshot()
	return snap
}
