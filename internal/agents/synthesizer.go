package agents

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/metrics"
	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/providers/llm"
)

// Synthesizer writes the final report from ordered sub-question results.
type Synthesizer interface {
	Synthesize(ctx context.Context, results []models.SubResult, mainQuestion string) (string, error)
}

// LLMSynthesizer makes one language model call. When ctx carries a token
// callback the report is streamed to it as it is generated.
type LLMSynthesizer struct {
	Client  llm.Client
	Logger  *zap.Logger
	Timeout time.Duration
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, results []models.SubResult, mainQuestion string) (string, error) {
	if len(results) == 0 {
		return "", InvalidInput("no research results to synthesize")
	}
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	prompt := buildReportPrompt(mainQuestion, results)
	start := time.Now()
	var (
		report string
		err    error
	)
	if cb := llm.TokenCallbackFrom(ctx); cb != nil {
		report, err = llm.Collect(ctx, llm.Stream(ctx, s.Client, prompt), cb)
	} else {
		report, err = s.Client.GenerateText(ctx, prompt)
	}
	metrics.ObservePortCall("llm", "synthesize", start, err)
	if err != nil {
		logger.OrNop(s.Logger).Warn("synthesis failed", zap.Error(err))
		return "", SynthesisFailed(err)
	}
	if strings.TrimSpace(report) == "" {
		return "", SynthesisFailed(errors.New("model returned an empty report"))
	}
	return report, nil
}
