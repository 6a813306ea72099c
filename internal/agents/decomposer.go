package agents

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/metrics"
	"github.com/example/research-orchestrator/internal/providers/llm"
)

// Decomposer turns a main question into researchable sub-questions.
type Decomposer interface {
	Decompose(ctx context.Context, mainQuestion string) ([]string, error)
}

// LLMDecomposer asks the language model for one sub-question per line.
type LLMDecomposer struct {
	Client  llm.Client
	Logger  *zap.Logger
	Timeout time.Duration
}

func (d *LLMDecomposer) Decompose(ctx context.Context, mainQuestion string) ([]string, error) {
	if strings.TrimSpace(mainQuestion) == "" {
		return nil, InvalidInput("main question is empty")
	}
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := d.Client.GenerateText(ctx, buildDecomposePrompt(mainQuestion))
	metrics.ObservePortCall("llm", "decompose", start, err)
	if err != nil {
		logger.OrNop(d.Logger).Warn("decompose failed", zap.String("provider", llm.ProviderName(d.Client)), zap.Error(err))
		return nil, GenerationFailed(err)
	}
	qs := ParseSubQuestions(raw)
	if len(qs) == 0 {
		return nil, GenerationFailed(errors.New("model returned no sub-questions"))
	}
	logger.OrNop(d.Logger).Debug("decomposed", zap.Int("count", len(qs)))
	return qs, nil
}

var listMarker = regexp.MustCompile(`^(?:[-*•]\s+|\d+[.)]\s+)`)

// ParseSubQuestions splits model output into trimmed non-empty lines,
// dropping code fences and leading list markers.
func ParseSubQuestions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
