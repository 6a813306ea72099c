package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
)

func reply(s string) *llm.MockClient {
	return &llm.MockClient{Respond: func(context.Context, string) (string, error) { return s, nil }}
}

func failing(err error) *llm.MockClient {
	return &llm.MockClient{Respond: func(context.Context, string) (string, error) { return "", err }}
}

func TestParseSubQuestions(t *testing.T) {
	raw := "```\nWhat is a qubit?\n\n  - How does superposition work?  \n2. What are current applications?\n3) Who builds them?\n* Why now?\n```"
	assert.Equal(t, []string{
		"What is a qubit?",
		"How does superposition work?",
		"What are current applications?",
		"Who builds them?",
		"Why now?",
	}, ParseSubQuestions(raw))
	assert.Equal(t, []string{"2024 trends in AI?"}, ParseSubQuestions("2024 trends in AI?"))
	assert.Empty(t, ParseSubQuestions(" \n\n "))
}

func TestDecompose(t *testing.T) {
	c := reply("What are the basic principles of quantum computing?\nHow do qubits differ from bits?\nWhat are the current applications?")
	d := &LLMDecomposer{Client: c, Logger: zaptest.NewLogger(t)}
	qs, err := d.Decompose(context.Background(), "Explain quantum computing")
	require.NoError(t, err)
	assert.Len(t, qs, 3)
	require.Len(t, c.Calls(), 1)
	assert.Contains(t, c.Calls()[0], "Main Question: Explain quantum computing")
	assert.Contains(t, c.Calls()[0], "one per line")
}

func TestDecomposeErrors(t *testing.T) {
	c := reply("x")
	_, err := (&LLMDecomposer{Client: c}).Decompose(context.Background(), "   ")
	assert.True(t, IsKind(err, KindInvalidInput))
	assert.Empty(t, c.Calls())

	_, err = (&LLMDecomposer{Client: reply("\n  \n")}).Decompose(context.Background(), "q")
	assert.True(t, IsKind(err, KindGenerationFailed))

	boom := errors.New("quota exceeded")
	_, err = (&LLMDecomposer{Client: failing(boom)}).Decompose(context.Background(), "q")
	assert.True(t, IsKind(err, KindGenerationFailed))
	assert.ErrorIs(t, err, boom)
}

func TestDecomposeTimeout(t *testing.T) {
	slow := &llm.MockClient{Respond: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	_, err := (&LLMDecomposer{Client: slow, Timeout: 10 * time.Millisecond}).Decompose(context.Background(), "q")
	assert.True(t, IsKind(err, KindGenerationFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResearchFormatsContextInSearchOrder(t *testing.T) {
	s := &search.Mock{Fn: func(_ context.Context, q string, n int) ([]search.Result, error) {
		assert.Equal(t, 5, n)
		return []search.Result{
			{URL: "https://a", Content: "alpha"},
			{URL: "https://b", Content: "beta"},
		}, nil
	}}
	c := reply("A qubit is ...")
	r := &WebResearcher{Client: c, Search: s, MaxResults: 5, Logger: zaptest.NewLogger(t)}
	res, err := r.Research(context.Background(), "What is a qubit?")
	require.NoError(t, err)
	assert.Equal(t, "URL: https://a\nContent: alpha\n\nURL: https://b\nContent: beta", res.Context)
	assert.Equal(t, "A qubit is ...", res.Summary)
	assert.Len(t, res.Sources, 2)
	assert.Contains(t, c.Calls()[0], "Sub-Question: What is a qubit?")
	assert.Contains(t, c.Calls()[0], res.Context)
}

func TestResearchEmptySearchIsNotAnError(t *testing.T) {
	s := &search.Mock{Fn: func(context.Context, string, int) ([]search.Result, error) { return nil, nil }}
	res, err := (&WebResearcher{Client: reply("nothing found"), Search: s}).Research(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, res.Context)
	assert.Equal(t, "nothing found", res.Summary)
}

func TestResearchFailures(t *testing.T) {
	boom := errors.New("search down")
	s := &search.Mock{Fn: func(context.Context, string, int) ([]search.Result, error) { return nil, boom }}
	c := reply("x")
	_, err := (&WebResearcher{Client: c, Search: s}).Research(context.Background(), "q1")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSubResearchFailed))
	assert.ErrorIs(t, err, boom)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "q1", e.SubQuestion)
	assert.Empty(t, c.Calls())

	_, err = (&WebResearcher{Client: failing(errors.New("llm down")), Search: &search.Mock{}}).Research(context.Background(), "q2")
	assert.True(t, IsKind(err, KindSubResearchFailed))

	_, err = (&WebResearcher{Client: c, Search: &search.Mock{}}).Research(context.Background(), " ")
	assert.True(t, IsKind(err, KindInvalidInput))
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return "", errors.New("404")
}

func TestResearchEnrichesThinSnippets(t *testing.T) {
	s := &search.Mock{Fn: func(context.Context, string, int) ([]search.Result, error) {
		return []search.Result{
			{URL: "https://thin", Content: "tiny"},
			{URL: "https://rich", Content: strings.Repeat("x", 50)},
			{URL: "https://broken", Content: "short"},
		}, nil
	}}
	f := &fakeFetcher{pages: map[string]string{"https://thin": "full page text"}}
	r := &WebResearcher{Client: reply("ok"), Search: s, Fetcher: f, FetchPages: true, MinSnippetChars: 20}
	res, err := r.Research(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "full page text", res.Sources[0].Content)
	assert.Equal(t, strings.Repeat("x", 50), res.Sources[1].Content)
	assert.Equal(t, "short", res.Sources[2].Content)
	assert.ElementsMatch(t, []string{"https://thin", "https://broken"}, f.urls)
}

func TestSynthesize(t *testing.T) {
	c := reply("# Report")
	results := []models.SubResult{
		{SubQuestion: "Q1", Summary: "S1"},
		{SubQuestion: "Q2", Summary: "Research failed for this sub-question: down", Failed: true},
	}
	out, err := (&LLMSynthesizer{Client: c}).Synthesize(context.Background(), results, "Main?")
	require.NoError(t, err)
	assert.Equal(t, "# Report", out)
	prompt := c.Calls()[0]
	assert.Contains(t, prompt, "Main Question: Main?")
	assert.Contains(t, prompt, "### Q1\nS1\n\n### Q2\n[failed] Research failed")
	assert.Less(t, strings.Index(prompt, "### Q1"), strings.Index(prompt, "### Q2"))
}

func TestSynthesizeStreamsToCallback(t *testing.T) {
	c := reply("Final report text")
	var mu sync.Mutex
	var chunks []string
	ctx := llm.WithTokenCallback(context.Background(), func(s string) {
		mu.Lock()
		chunks = append(chunks, s)
		mu.Unlock()
	})
	out, err := (&LLMSynthesizer{Client: c}).Synthesize(ctx, []models.SubResult{{SubQuestion: "q", Summary: "s"}}, "m")
	require.NoError(t, err)
	assert.Equal(t, "Final report text", out)
	assert.Equal(t, out, strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)
}

func TestSynthesizeErrors(t *testing.T) {
	_, err := (&LLMSynthesizer{Client: reply("x")}).Synthesize(context.Background(), nil, "m")
	assert.True(t, IsKind(err, KindInvalidInput))

	one := []models.SubResult{{SubQuestion: "q", Summary: "s"}}
	_, err = (&LLMSynthesizer{Client: failing(errors.New("down"))}).Synthesize(context.Background(), one, "m")
	assert.True(t, IsKind(err, KindSynthesisFailed))

	_, err = (&LLMSynthesizer{Client: reply("  ")}).Synthesize(context.Background(), one, "m")
	assert.True(t, IsKind(err, KindSynthesisFailed))
}

func TestErrorMessages(t *testing.T) {
	err := SubResearchFailed("What?", errors.New("timeout"))
	assert.Equal(t, `research failed (sub-question "What?"): timeout`, err.Error())
	assert.Equal(t, KindSubResearchFailed, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "main question is empty", InvalidInput("main question is empty").Error())
}
