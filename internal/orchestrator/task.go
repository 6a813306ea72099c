package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/research-orchestrator/internal/models"
)

const newSubQuestionPlaceholder = "Enter a new question..."

// ResearchTask is one research request from main question to report. It owns
// its state and a context that is cancelled when the task is replaced or
// discarded; nothing outside the task mutates it.
type ResearchTask struct {
	mu           sync.Mutex
	id           string
	mainQuestion string
	subQuestions []string
	results      []models.SubResult
	report       string
	stage        models.Stage
	status       string
	busy         bool
	completed    int
	total        int
	createdAt    time.Time
	updatedAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newTask(mainQuestion string) *ResearchTask {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &ResearchTask{
		id:           uuid.NewString(),
		mainQuestion: mainQuestion,
		stage:        models.StageInitial,
		createdAt:    now,
		updatedAt:    now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (t *ResearchTask) ID() string { return t.id }

// update applies fn under the task lock and stamps the modification time.
func (t *ResearchTask) update(fn func(t *ResearchTask)) {
	t.mu.Lock()
	fn(t)
	t.updatedAt = time.Now()
	t.mu.Unlock()
}

func (t *ResearchTask) setStatus(msg string) {
	t.update(func(t *ResearchTask) { t.status = msg })
}

func (t *ResearchTask) Snapshot() models.ResearchSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := models.ResearchSnapshot{
		ID:            t.id,
		MainQuestion:  t.mainQuestion,
		SubQuestions:  append([]string{}, t.subQuestions...),
		Results:       make([]models.SubResult, len(t.results)),
		Report:        t.report,
		Stage:         t.stage,
		StatusMessage: t.status,
		Busy:          t.busy,
		Completed:     t.completed,
		Total:         t.total,
		CreatedAt:     t.createdAt,
		UpdatedAt:     t.updatedAt,
	}
	for i, r := range t.results {
		r.Sources = append([]string(nil), r.Sources...)
		snap.Results[i] = r
	}
	return snap
}

// freeze trims every sub-question and drops the blank ones.
func freeze(questions []string) []string {
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// withTask derives a context that is also cancelled when t is.
func withTask(ctx context.Context, t *ResearchTask) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
