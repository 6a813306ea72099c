// Package api exposes sessions, research tasks and the single-pass pipelines
// over HTTP, with session events streamed over SSE or WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/logger"
	"github.com/example/research-orchestrator/internal/orchestrator"
	yt "github.com/example/research-orchestrator/internal/providers/youtube"
)

const maxBodyBytes = 1 << 20

type Server struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
	// base is the parent context of background runs; cancelling it stops them.
	base context.Context
}

func NewServer(base context.Context, orch *orchestrator.Orchestrator, log *zap.Logger) *Server {
	return &Server{orch: orch, logger: logger.OrNop(log), base: base}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /sessions/{id}/events", s.withSession(s.streamSSE))
	mux.HandleFunc("GET /sessions/{id}/ws", s.withSession(s.streamWS))

	mux.HandleFunc("POST /sessions/{id}/research", s.withSession(s.startResearch))
	mux.HandleFunc("GET /sessions/{id}/research", s.withSession(s.getResearch))
	mux.HandleFunc("DELETE /sessions/{id}/research", s.withSession(s.discardResearch))
	mux.HandleFunc("POST /sessions/{id}/research/subquestions", s.withSession(s.addSubQuestion))
	mux.HandleFunc("PUT /sessions/{id}/research/subquestions/{index}", s.withSession(s.updateSubQuestion))
	mux.HandleFunc("DELETE /sessions/{id}/research/subquestions/{index}", s.withSession(s.deleteSubQuestion))
	mux.HandleFunc("POST /sessions/{id}/research/run", s.withSession(s.runResearch))
	mux.HandleFunc("POST /sessions/{id}/research/synthesize", s.withSession(s.retrySynthesis))

	mux.HandleFunc("GET /sessions/{id}/blog", s.withSession(s.getBlog))
	mux.HandleFunc("DELETE /sessions/{id}/blog", s.withSession(s.resetBlog))
	mux.HandleFunc("POST /sessions/{id}/blog/titles", s.withSession(s.blogTitles))
	mux.HandleFunc("POST /sessions/{id}/blog/outline", s.withSession(s.blogOutline))
	mux.HandleFunc("POST /sessions/{id}/blog/posting", s.withSession(s.blogPosting))

	mux.HandleFunc("POST /sessions/{id}/youtube", s.withSession(s.startYouTube))
	mux.HandleFunc("GET /sessions/{id}/youtube", s.withSession(s.getYouTube))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session)

func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.orch.GetSession(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found", "")
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.orch.CreateSession()
	respondJSON(w, http.StatusCreated, map[string]any{"id": sess.ID, "created_at": sess.CreatedAt})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.orch.DeleteSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startResearch(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	var req struct {
		MainQuestion string `json:"main_question"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	snap, err := sess.Start(r.Context(), req.MainQuestion)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) getResearch(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	snap, ok := sess.Research()
	if !ok {
		writeError(w, http.StatusNotFound, "no research task", "")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) discardResearch(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	sess.Discard()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addSubQuestion(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	s.edited(w, sess, sess.AddSubQuestion())
}

func (s *Server) updateSubQuestion(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	i, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	s.edited(w, sess, sess.UpdateSubQuestion(i, req.Text))
}

func (s *Server) deleteSubQuestion(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	i, ok := pathIndex(w, r)
	if !ok {
		return
	}
	s.edited(w, sess, sess.DeleteSubQuestion(i))
}

func (s *Server) edited(w http.ResponseWriter, sess *orchestrator.Session, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	snap, _ := sess.Research()
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) runResearch(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	done, err := sess.RunAsync(s.base)
	if err != nil {
		s.fail(w, err)
		return
	}
	go s.logOutcome(sess.ID, "research", done)
	snap, _ := sess.Research()
	respondJSON(w, http.StatusAccepted, snap)
}

func (s *Server) retrySynthesis(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	done, err := sess.RetrySynthesisAsync(s.base)
	if err != nil {
		s.fail(w, err)
		return
	}
	go s.logOutcome(sess.ID, "synthesis", done)
	snap, _ := sess.Research()
	respondJSON(w, http.StatusAccepted, snap)
}

func (s *Server) logOutcome(sessionID, op string, done <-chan error) {
	if err := <-done; err != nil {
		s.logger.Warn("background run failed",
			zap.String("session_id", sessionID), zap.String("operation", op), zap.Error(err))
	}
}

func (s *Server) getBlog(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	respondJSON(w, http.StatusOK, sess.Blog.Snapshot())
}

func (s *Server) resetBlog(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	sess.Blog.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) blogTitles(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	var req struct {
		Keyword string `json:"keyword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := sess.Blog.GenerateTitles(r.Context(), req.Keyword); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Blog.Snapshot())
}

func (s *Server) blogOutline(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := sess.Blog.SelectTitle(r.Context(), req.Title); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Blog.Snapshot())
}

func (s *Server) blogPosting(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	if _, err := sess.Blog.GeneratePosting(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Blog.Snapshot())
}

func (s *Server) startYouTube(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	var req struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	u := strings.TrimSpace(req.URL)
	if u == "" {
		s.fail(w, agents.InvalidInput("video URL is empty"))
		return
	}
	id, ok := yt.ExtractVideoID(u)
	if !ok {
		s.fail(w, agents.InvalidInput("invalid YouTube URL"))
		return
	}
	if sess.YouTube.Busy() {
		s.fail(w, agents.StageConflict("a video is already being processed"))
		return
	}
	done := make(chan error, 1)
	go func() { done <- sess.YouTube.Run(s.base, u) }()
	go s.logOutcome(sess.ID, "youtube", done)
	respondJSON(w, http.StatusAccepted, map[string]any{"video_id": id})
}

func (s *Server) getYouTube(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	respondJSON(w, http.StatusOK, sess.YouTube.Snapshot())
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch agents.KindOf(err) {
	case agents.KindInvalidInput:
		return http.StatusBadRequest
	case agents.KindStageConflict:
		return http.StatusConflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Warn("request failed", zap.Int("status", code), zap.Error(err))
	}
	writeError(w, code, err.Error(), string(agents.KindOf(err)))
}

func writeError(w http.ResponseWriter, code int, msg, kind string) {
	body := map[string]any{"error": msg}
	if kind != "" {
		body["kind"] = kind
	}
	respondJSON(w, code, body)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err), string(agents.KindInvalidInput))
		return false
	}
	return true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer", string(agents.KindInvalidInput))
		return 0, false
	}
	return i, true
}

// LogRequests logs each request with its status and latency.
func LogRequests(log *zap.Logger, next http.Handler) http.Handler {
	log = logger.OrNop(log)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush and Hijack keep SSE and WebSocket upgrades working through the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
