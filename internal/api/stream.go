package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/orchestrator"
)

const (
	sseHeartbeat = 15 * time.Second
	wsPing       = 20 * time.Second
	wsPongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// typeFilter parses the optional comma-separated types query parameter.
func typeFilter(r *http.Request) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

func eventName(b []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(b, &head)
	return head.Event
}

func allowed(filter map[string]struct{}, name string) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[name]
	return ok
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	filter := typeFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, unsubscribe := s.orch.Subscribe(sess.ID)
	defer unsubscribe()

	fmt.Fprintf(w, ": connected to session %s\n\n", sess.ID)
	flusher.Flush()

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", zap.String("session_id", sess.ID))
			return
		case b, open := <-ch:
			if !open {
				return
			}
			name := eventName(b)
			if !allowed(filter, name) {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) streamWS(w http.ResponseWriter, r *http.Request, sess *orchestrator.Session) {
	filter := typeFilter(r)
	ch, unsubscribe := s.orch.Subscribe(sess.ID)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// reader pump: client messages are discarded, a read error ends the stream
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPing)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case b, open := <-ch:
			if !open {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(time.Second))
				return
			}
			if !allowed(filter, eventName(b)) {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
