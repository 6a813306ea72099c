package orchestrator

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/logger"
)

// Event names carried on a session stream.
const (
	EventTaskStatus = "task_status"
	EventProgress   = "progress"
	EventResult     = "result"
	EventToken      = "token"
	EventStage      = "stage"
)

// Event is a generic SSE payload wrapper.
type Event struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

type subscriber struct {
	ch   chan []byte
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

type tokenBuffer struct {
	sessionID string
	streams   map[string]string
	stop      chan struct{}
}

// Hub fans JSON-encoded events out to the subscribers of a session.
// Sends never block: a subscriber that falls behind misses events.
type Hub struct {
	bufferSize int
	flushEvery time.Duration
	logger     *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{} // sessionID -> subscribers

	tokMu  sync.Mutex
	tokens map[string]*tokenBuffer // taskID -> buffered chunks per stream
}

func NewHub(bufferSize int, flushEvery time.Duration, log *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	return &Hub{
		bufferSize: bufferSize,
		flushEvery: flushEvery,
		logger:     logger.OrNop(log),
		subs:       map[string]map[*subscriber]struct{}{},
		tokens:     map[string]*tokenBuffer{},
	}
}

// Subscribe returns a channel of encoded events for sessionID. The caller
// must call the returned unsubscribe func when done; it is safe to call more
// than once.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	sub := &subscriber{ch: make(chan []byte, h.bufferSize)}
	h.mu.Lock()
	set := h.subs[sessionID]
	if set == nil {
		set = map[*subscriber]struct{}{}
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	unsubscribe := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, unsubscribe
}

// CloseSession closes every subscriber channel of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	set := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()
	for sub := range set {
		sub.close()
	}
}

func (h *Hub) Publish(sessionID string, ev Event) {
	ev.SessionID = sessionID
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode event", zap.String("event", ev.Event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- b:
		default:
			h.logger.Debug("subscriber lagging, event dropped",
				zap.String("session_id", sessionID), zap.String("event", ev.Event))
		}
	}
}

// TokenAppender returns a function buffering token chunks per stream for a
// task. Buffers are flushed periodically as coalesced token events.
func (h *Hub) TokenAppender(sessionID, taskID string) func(stream, chunk string) {
	h.tokMu.Lock()
	if _, ok := h.tokens[taskID]; !ok {
		tb := &tokenBuffer{sessionID: sessionID, streams: map[string]string{}, stop: make(chan struct{})}
		h.tokens[taskID] = tb
		go h.flushLoop(taskID, tb)
	}
	h.tokMu.Unlock()
	return func(stream, chunk string) {
		if chunk == "" || stream == "" {
			return
		}
		h.tokMu.Lock()
		if tb, ok := h.tokens[taskID]; ok {
			tb.streams[stream] += chunk
		}
		h.tokMu.Unlock()
	}
}

func (h *Hub) flushLoop(taskID string, tb *tokenBuffer) {
	ticker := time.NewTicker(h.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-tb.stop:
			return
		case <-ticker.C:
			h.tokMu.Lock()
			pending := drain(tb)
			h.tokMu.Unlock()
			h.publishTokens(tb.sessionID, taskID, pending)
		}
	}
}

// StopTokenAppender stops the coalescer for a task. Remaining chunks are
// published when flush is set and dropped otherwise.
func (h *Hub) StopTokenAppender(taskID string, flush bool) {
	h.tokMu.Lock()
	tb, ok := h.tokens[taskID]
	if !ok {
		h.tokMu.Unlock()
		return
	}
	delete(h.tokens, taskID)
	close(tb.stop)
	pending := drain(tb)
	h.tokMu.Unlock()
	if flush {
		h.publishTokens(tb.sessionID, taskID, pending)
	}
}

func drain(tb *tokenBuffer) map[string]string {
	if len(tb.streams) == 0 {
		return nil
	}
	out := make(map[string]string, len(tb.streams))
	for stream, s := range tb.streams {
		if s != "" {
			out[stream] = s
		}
		delete(tb.streams, stream)
	}
	return out
}

func (h *Hub) publishTokens(sessionID, taskID string, pending map[string]string) {
	for stream, chunk := range pending {
		h.Publish(sessionID, Event{Event: EventToken, TaskID: taskID, Payload: map[string]any{"stream": stream, "chunk": chunk}})
	}
}
