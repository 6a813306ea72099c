// Package orchestrator drives research tasks through decomposition, user
// editing, concurrent sub-question research and report synthesis, and
// publishes their progress to session subscribers.
package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/metrics"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
	yt "github.com/example/research-orchestrator/internal/providers/youtube"
)

// FailurePolicy decides what a failed sub-question does to the whole run.
type FailurePolicy string

const (
	// PolicyPartial records a placeholder for the failed sub-question and
	// still writes the report.
	PolicyPartial FailurePolicy = "partial"
	// PolicyFailFast cancels the remaining branches and commits nothing.
	PolicyFailFast FailurePolicy = "fail_fast"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPartial:
		return PolicyPartial, nil
	case PolicyFailFast:
		return PolicyFailFast, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// Deps are the ports and agents shared by every session.
type Deps struct {
	Decomposer  agents.Decomposer
	Researcher  agents.SubResearcher
	Synthesizer agents.Synthesizer
	LLM         llm.Client
	Search      search.Provider
	Transcripts yt.TranscriptSource
}

type Options struct {
	FailurePolicy FailurePolicy
	// MaxParallel bounds concurrent sub-question research; 0 is unbounded.
	MaxParallel     int
	PreviewMaxBytes int
	TargetLanguage  string
	EventBuffer     int
	TokenFlush      time.Duration
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	hub    *Hub
	logger *zap.Logger

	sessionsMu sync.RWMutex
	sessions   map[string]*Session
}

func New(deps Deps, opts Options, log *zap.Logger) *Orchestrator {
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = PolicyPartial
	}
	log = logger.OrNop(log)
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		hub:      NewHub(opts.EventBuffer, opts.TokenFlush, log),
		logger:   log,
		sessions: map[string]*Session{},
	}
}

func (o *Orchestrator) CreateSession() *Session {
	s := newSession(uuid.NewString(), o.deps, o.opts, o.hub, o.logger)
	o.sessionsMu.Lock()
	o.sessions[s.ID] = s
	o.sessionsMu.Unlock()
	metrics.ActiveSessions.Inc()
	o.logger.Debug("session created", zap.String("session_id", s.ID))
	return s
}

func (o *Orchestrator) GetSession(id string) (*Session, bool) {
	o.sessionsMu.RLock()
	s, ok := o.sessions[id]
	o.sessionsMu.RUnlock()
	return s, ok
}

// DeleteSession discards the session's task and closes its subscribers.
func (o *Orchestrator) DeleteSession(id string) bool {
	o.sessionsMu.Lock()
	s, ok := o.sessions[id]
	delete(o.sessions, id)
	o.sessionsMu.Unlock()
	if !ok {
		return false
	}
	s.Discard()
	o.hub.CloseSession(id)
	metrics.ActiveSessions.Dec()
	return true
}

// Close discards every session.
func (o *Orchestrator) Close() {
	o.sessionsMu.RLock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.sessionsMu.RUnlock()
	for _, id := range ids {
		o.DeleteSession(id)
	}
}

// Subscribe returns a channel carrying JSON-encoded Event payloads for a session.
// The caller must call the returned unsubscribe func when done.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan []byte, func()) {
	return o.hub.Subscribe(sessionID)
}

func (o *Orchestrator) Hub() *Hub { return o.hub }
