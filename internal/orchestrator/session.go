package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/metrics"
	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/pipeline"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
	"github.com/example/research-orchestrator/internal/tools"
)

const (
	reportStream = "report"

	statusDecomposing = "Generating sub-questions..."
	statusEditing     = "Sub-questions ready. Edit them, then start research."
	statusNoQuestions = "No sub-questions to research."
	statusWriting     = "Writing final report..."
	statusComplete    = "Research complete!"
	statusDiscarded   = "discarded"
)

// Session holds one user's current research task and the single-pass
// pipelines. Only the current task publishes events; a replaced task keeps
// running to cancellation but its output goes nowhere.
type Session struct {
	ID        string
	CreatedAt time.Time
	Blog      *pipeline.Blog
	YouTube   *pipeline.YouTube

	deps   Deps
	opts   Options
	hub    *Hub
	logger *zap.Logger

	mu   sync.Mutex
	task *ResearchTask
}

func newSession(id string, deps Deps, opts Options, hub *Hub, log *zap.Logger) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		deps:      deps,
		opts:      opts,
		hub:       hub,
		logger:    log.With(zap.String("session_id", id)),
	}
	s.Blog = pipeline.NewBlog(deps.LLM, deps.Search, s.stageObserver("blog"), s.logger)
	s.YouTube = pipeline.NewYouTube(deps.LLM, deps.Transcripts, opts.TargetLanguage, s.stageObserver("youtube"), s.logger)
	return s
}

func (s *Session) stageObserver(name string) func(models.StageSnapshot) {
	return func(st models.StageSnapshot) {
		s.hub.Publish(s.ID, Event{Event: EventStage, Payload: map[string]any{"pipeline": name, "stage": st}})
	}
}

func (s *Session) current() *ResearchTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

func (s *Session) isCurrent(t *ResearchTask) bool {
	return s.current() == t
}

// Research returns a snapshot of the current task, if any.
func (s *Session) Research() (models.ResearchSnapshot, bool) {
	t := s.current()
	if t == nil {
		return models.ResearchSnapshot{}, false
	}
	return t.Snapshot(), true
}

func (s *Session) publish(t *ResearchTask, event string, payload any) {
	if !s.isCurrent(t) {
		return
	}
	s.hub.Publish(s.ID, Event{Event: event, TaskID: t.id, Payload: payload})
}

func (s *Session) publishStatus(t *ResearchTask) {
	s.publish(t, EventTaskStatus, t.Snapshot())
}

// Start replaces the current task with a new one for mainQuestion and
// decomposes it. A blank question leaves the current task in place.
func (s *Session) Start(ctx context.Context, mainQuestion string) (models.ResearchSnapshot, error) {
	q := strings.TrimSpace(mainQuestion)
	if q == "" {
		err := agents.InvalidInput("Please enter a research question.")
		if t := s.current(); t != nil {
			t.setStatus(err.Error())
			s.publishStatus(t)
		}
		return models.ResearchSnapshot{}, err
	}

	t := newTask(q)
	s.mu.Lock()
	old := s.task
	s.task = t
	s.mu.Unlock()
	if old != nil {
		old.cancel()
		s.hub.StopTokenAppender(old.id, false)
	}
	log := s.logger.With(zap.String("task_id", t.id))
	log.Info("research task created", zap.String("main_question", q))

	t.update(func(t *ResearchTask) {
		t.busy = true
		t.status = statusDecomposing
	})
	s.publishStatus(t)

	runCtx, stop := withTask(ctx, t)
	questions, err := s.deps.Decomposer.Decompose(runCtx, q)
	stop()

	t.update(func(t *ResearchTask) {
		t.busy = false
		if err != nil {
			t.status = err.Error()
			return
		}
		t.subQuestions = questions
		t.stage = models.StageEditingSubquestions
		t.status = statusEditing
	})
	if err != nil {
		log.Warn("decomposition failed", zap.Error(err))
	}
	s.publishStatus(t)
	return t.Snapshot(), err
}

// editable returns the current task locked, or an error when edits are not
// allowed. The caller must unlock on success.
func (s *Session) editable() (*ResearchTask, error) {
	t := s.current()
	if t == nil {
		return nil, agents.StageConflict("no research task")
	}
	t.mu.Lock()
	if t.stage != models.StageEditingSubquestions {
		stage := t.stage
		t.mu.Unlock()
		return nil, agents.StageConflict(fmt.Sprintf("sub-questions cannot be edited in stage %s", stage))
	}
	return t, nil
}

func (s *Session) edit(fn func(t *ResearchTask) bool) error {
	t, err := s.editable()
	if err != nil {
		return err
	}
	changed := fn(t)
	if changed {
		t.updatedAt = time.Now()
	}
	t.mu.Unlock()
	if changed {
		s.publishStatus(t)
	}
	return nil
}

// UpdateSubQuestion replaces sub-question i. An out-of-range index is ignored.
func (s *Session) UpdateSubQuestion(i int, text string) error {
	return s.edit(func(t *ResearchTask) bool {
		if i < 0 || i >= len(t.subQuestions) {
			return false
		}
		t.subQuestions[i] = text
		return true
	})
}

// DeleteSubQuestion removes sub-question i. An out-of-range index is ignored.
func (s *Session) DeleteSubQuestion(i int) error {
	return s.edit(func(t *ResearchTask) bool {
		if i < 0 || i >= len(t.subQuestions) {
			return false
		}
		t.subQuestions = append(t.subQuestions[:i:i], t.subQuestions[i+1:]...)
		return true
	})
}

// AddSubQuestion appends a placeholder sub-question for the user to edit.
func (s *Session) AddSubQuestion() error {
	return s.edit(func(t *ResearchTask) bool {
		t.subQuestions = append(t.subQuestions, newSubQuestionPlaceholder)
		return true
	})
}

// Run freezes the sub-questions, researches them concurrently and writes the
// report. It blocks until the task completes, fails or is cancelled.
func (s *Session) Run(ctx context.Context) error {
	done, err := s.RunAsync(ctx)
	if err != nil {
		return err
	}
	return <-done
}

// RunAsync validates and freezes the sub-questions, then researches in the
// background. The returned channel yields the outcome once.
func (s *Session) RunAsync(ctx context.Context) (<-chan error, error) {
	t, questions, err := s.beginResearch()
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- s.research(ctx, t, questions) }()
	return done, nil
}

func (s *Session) beginResearch() (*ResearchTask, []string, error) {
	t := s.current()
	if t == nil {
		return nil, nil, agents.StageConflict("no research task")
	}

	t.mu.Lock()
	// an aborted fan-out leaves the task in researching with nothing committed
	rerun := t.stage == models.StageResearching && len(t.results) == 0 && t.report == ""
	if t.stage != models.StageEditingSubquestions && !rerun {
		stage := t.stage
		t.mu.Unlock()
		return nil, nil, agents.StageConflict(fmt.Sprintf("research cannot start in stage %s", stage))
	}
	if t.busy {
		t.mu.Unlock()
		return nil, nil, agents.StageConflict("research task is busy")
	}
	questions := freeze(t.subQuestions)
	if len(questions) == 0 {
		t.status = statusNoQuestions
		t.updatedAt = time.Now()
		t.mu.Unlock()
		s.publishStatus(t)
		return nil, nil, agents.InvalidInput(statusNoQuestions)
	}
	t.subQuestions = questions
	t.stage = models.StageResearching
	t.busy = true
	t.completed, t.total = 0, len(questions)
	t.status = fmt.Sprintf("Researching %d sub-questions...", len(questions))
	t.updatedAt = time.Now()
	t.mu.Unlock()
	s.publishStatus(t)
	metrics.ResearchRunsStarted.Inc()
	return t, questions, nil
}

func (s *Session) research(ctx context.Context, t *ResearchTask, questions []string) error {
	log := s.logger.With(zap.String("task_id", t.id))
	log.Info("research started", zap.Int("sub_questions", len(questions)), zap.String("policy", string(s.opts.FailurePolicy)))

	runCtx, stop := withTask(ctx, t)
	defer stop()

	results, err := s.fanOut(runCtx, t, questions)
	if err != nil {
		outcome := "research_failed"
		if runCtx.Err() != nil || t.ctx.Err() != nil {
			outcome = "cancelled"
		}
		metrics.ResearchRunsCompleted.WithLabelValues(outcome).Inc()
		log.Warn("research failed", zap.String("outcome", outcome), zap.Error(err))
		t.update(func(t *ResearchTask) {
			t.busy = false
			t.status = err.Error()
		})
		s.publishStatus(t)
		return err
	}

	t.update(func(t *ResearchTask) {
		t.results = results
		t.status = fmt.Sprintf("Research finished (%d/%d)", len(results), len(results))
	})
	s.publishStatus(t)
	return s.synthesize(runCtx, t, log)
}

// fanOut researches every question concurrently and returns the results in
// question order. Nothing is returned when ctx is cancelled.
func (s *Session) fanOut(ctx context.Context, t *ResearchTask, questions []string) ([]models.SubResult, error) {
	results := make([]models.SubResult, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	if s.opts.MaxParallel > 0 {
		g.SetLimit(s.opts.MaxParallel)
	}
	for i, q := range questions {
		g.Go(func() error {
			res, err := s.deps.Researcher.Research(gctx, q)
			if err != nil {
				if !agents.IsKind(err, agents.KindSubResearchFailed) {
					err = agents.SubResearchFailed(q, err)
				}
				if gctx.Err() != nil && ctx.Err() != nil {
					return err
				}
				metrics.SubResearchResults.WithLabelValues("failed").Inc()
				if s.opts.FailurePolicy == PolicyFailFast {
					return err
				}
				results[i] = failedResult(q, err)
			} else {
				metrics.SubResearchResults.WithLabelValues("ok").Inc()
				results[i] = models.SubResult{SubQuestion: q, Summary: res.Summary, Sources: sourceURLs(res.Sources)}
			}
			s.progress(t, i, results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func failedResult(q string, err error) models.SubResult {
	cause := err
	var ae *agents.Error
	if errors.As(err, &ae) && ae.Cause != nil {
		cause = ae.Cause
	}
	return models.SubResult{
		SubQuestion: q,
		Summary:     "Research failed for this sub-question: " + cause.Error(),
		Failed:      true,
		Error:       err.Error(),
	}
}

func sourceURLs(hits []search.Result) []string {
	if len(hits) == 0 {
		return nil
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.URL != "" {
			out = append(out, h.URL)
		}
	}
	return out
}

func (s *Session) progress(t *ResearchTask, i int, res models.SubResult) {
	var completed, total int
	t.update(func(t *ResearchTask) {
		t.completed++
		completed, total = t.completed, t.total
		t.status = fmt.Sprintf("Research in progress (%d/%d)", completed, total)
	})
	s.publish(t, EventProgress, map[string]any{
		"index":     i,
		"completed": completed,
		"total":     total,
		"failed":    res.Failed,
	})
	s.publish(t, EventResult, previewResult(i, res, s.opts.PreviewMaxBytes))
}

// RetrySynthesis re-runs the report step for a task whose research finished
// but whose report failed.
func (s *Session) RetrySynthesis(ctx context.Context) error {
	done, err := s.RetrySynthesisAsync(ctx)
	if err != nil {
		return err
	}
	return <-done
}

func (s *Session) RetrySynthesisAsync(ctx context.Context) (<-chan error, error) {
	t := s.current()
	if t == nil {
		return nil, agents.StageConflict("no research task")
	}
	t.mu.Lock()
	if t.stage != models.StageResearching || len(t.results) == 0 || t.report != "" || t.busy {
		t.mu.Unlock()
		return nil, agents.StageConflict("no finished research awaiting a report")
	}
	t.busy = true
	t.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		runCtx, stop := withTask(ctx, t)
		defer stop()
		done <- s.synthesize(runCtx, t, s.logger.With(zap.String("task_id", t.id)))
	}()
	return done, nil
}

// synthesize expects t.busy to be set by the caller.
func (s *Session) synthesize(ctx context.Context, t *ResearchTask, log *zap.Logger) error {
	var (
		results []models.SubResult
		q       string
	)
	t.update(func(t *ResearchTask) {
		results = append([]models.SubResult(nil), t.results...)
		q = t.mainQuestion
		t.status = statusWriting
	})
	s.publishStatus(t)

	appender := s.hub.TokenAppender(s.ID, t.id)
	sctx := llm.WithTokenCallback(ctx, func(chunk string) {
		if s.isCurrent(t) {
			appender(reportStream, chunk)
		}
	})
	report, err := s.deps.Synthesizer.Synthesize(sctx, results, q)
	s.hub.StopTokenAppender(t.id, s.isCurrent(t))

	t.update(func(t *ResearchTask) {
		t.busy = false
		if err != nil {
			t.status = err.Error()
			return
		}
		t.report = report
		t.stage = models.StageComplete
		t.status = statusComplete
	})
	s.publishStatus(t)
	if err != nil {
		outcome := "synthesis_failed"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		metrics.ResearchRunsCompleted.WithLabelValues(outcome).Inc()
		log.Warn("synthesis failed", zap.Error(err))
		return err
	}
	metrics.ResearchRunsCompleted.WithLabelValues("complete").Inc()
	log.Info("research complete", zap.Int("report_bytes", len(report)))
	return nil
}

// Discard cancels in-flight work and forgets the current task.
func (s *Session) Discard() {
	s.mu.Lock()
	t := s.task
	s.task = nil
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	s.hub.StopTokenAppender(t.id, false)
	s.hub.Publish(s.ID, Event{Event: EventTaskStatus, TaskID: t.id, Payload: map[string]any{"status": statusDiscarded}})
}

func previewResult(i int, res models.SubResult, max int) map[string]any {
	out := map[string]any{
		"index":        i,
		"sub_question": res.SubQuestion,
		"summary":      res.Summary,
		"failed":       res.Failed,
		"bytes_total":  len(res.Summary),
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	if len(res.Sources) > 0 {
		out["sources"] = res.Sources
	}
	if max > 0 && len(res.Summary) > max {
		out["summary"] = tools.Truncate(res.Summary, max)
		out["preview_truncated"] = true
	}
	return out
}
