// Package pipeline runs linear, single-pass generation flows whose stages
// stream their output to observers.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/metrics"
	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/providers/llm"
)

// Emit appends a chunk to the running stage's output.
type Emit func(chunk string)

// StageFunc does the work of one stage, reporting output through emit.
type StageFunc func(ctx context.Context, emit Emit) error

type stage struct {
	name       string
	inProgress bool
	done       bool
	output     strings.Builder
	err        string
	run        uint64
}

func (s *stage) snapshot() models.StageSnapshot {
	return models.StageSnapshot{
		Name:       s.name,
		InProgress: s.inProgress,
		Done:       s.done,
		Output:     s.output.String(),
		Error:      s.err,
	}
}

func (s *stage) clear() {
	s.inProgress = false
	s.done = false
	s.output.Reset()
	s.err = ""
}

// Pipeline is an ordered list of stages. A stage may run only after its
// predecessor is done and while no other stage is running. Running a stage
// clears it and every later stage. A failed stage halts the flow with its
// error recorded; earlier outputs stay visible and the stage may be retried.
type Pipeline struct {
	name     string
	mu       sync.Mutex
	stages   []*stage
	runs     uint64
	onChange func(models.StageSnapshot)
	logger   *zap.Logger
}

// New builds a pipeline. onChange, when set, receives the full snapshot of a
// stage after every change, including each emitted chunk.
func New(name string, stageNames []string, onChange func(models.StageSnapshot), logger *zap.Logger) *Pipeline {
	p := &Pipeline{name: name, onChange: onChange, logger: logger}
	for _, n := range stageNames {
		p.stages = append(p.stages, &stage{name: n})
	}
	return p
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) index(name string) int {
	for i, s := range p.stages {
		if s.name == name {
			return i
		}
	}
	return -1
}

// Exec runs fn as the named stage.
func (p *Pipeline) Exec(ctx context.Context, name string, fn StageFunc) error {
	p.mu.Lock()
	i := p.index(name)
	if i < 0 {
		p.mu.Unlock()
		return agents.InvalidInput(fmt.Sprintf("unknown stage %q", name))
	}
	for _, s := range p.stages {
		if s.inProgress {
			p.mu.Unlock()
			return agents.StageConflict(fmt.Sprintf("stage %q is still running", s.name))
		}
	}
	if i > 0 && !p.stages[i-1].done {
		p.mu.Unlock()
		return agents.StageConflict(fmt.Sprintf("stage %q requires %q to finish first", name, p.stages[i-1].name))
	}
	var cleared []models.StageSnapshot
	for _, s := range p.stages[i:] {
		s.clear()
		cleared = append(cleared, s.snapshot())
	}
	p.runs++
	run := p.runs
	st := p.stages[i]
	st.inProgress = true
	st.run = run
	started := st.snapshot()
	p.mu.Unlock()

	for _, snap := range cleared[1:] {
		p.notify(snap)
	}
	p.notify(started)

	emit := func(chunk string) {
		if chunk == "" {
			return
		}
		p.mu.Lock()
		if st.run != run || !st.inProgress {
			p.mu.Unlock()
			return
		}
		st.output.WriteString(chunk)
		snap := st.snapshot()
		p.mu.Unlock()
		p.notify(snap)
	}

	err := fn(ctx, emit)
	if err != nil && agents.KindOf(err) == "" {
		err = agents.StageFailed(name, err)
	}

	p.mu.Lock()
	if st.run != run {
		p.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return err
	}
	st.inProgress = false
	outcome := "ok"
	if err != nil {
		st.err = err.Error()
		outcome = "failed"
	} else {
		st.done = true
	}
	final := st.snapshot()
	p.mu.Unlock()

	metrics.PipelineStageRuns.WithLabelValues(p.name, name, outcome).Inc()
	if err != nil {
		logger.OrNop(p.logger).Warn("pipeline stage failed",
			zap.String("pipeline", p.name), zap.String("stage", name), zap.Error(err))
	}
	p.notify(final)
	return err
}

// Reset clears every stage. A stage still running keeps running but its
// later output is discarded.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	var snaps []models.StageSnapshot
	for _, s := range p.stages {
		s.clear()
		s.run = 0
		snaps = append(snaps, s.snapshot())
	}
	p.mu.Unlock()
	for _, snap := range snaps {
		p.notify(snap)
	}
}

// Busy reports whether any stage is running.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stages {
		if s.inProgress {
			return true
		}
	}
	return false
}

func (p *Pipeline) Snapshot() []models.StageSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.StageSnapshot, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.snapshot()
	}
	return out
}

// Output returns the current output of the named stage.
func (p *Pipeline) Output(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.index(name); i >= 0 {
		return p.stages[i].output.String()
	}
	return ""
}

func (p *Pipeline) notify(s models.StageSnapshot) {
	if p.onChange != nil {
		p.onChange(s)
	}
}

// StreamText runs prompt through c, emitting every chunk, and returns the
// full text.
func StreamText(ctx context.Context, c llm.Client, prompt string, emit Emit) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return llm.Collect(ctx, llm.Stream(ctx, c, prompt), func(s string) { emit(s) })
}
