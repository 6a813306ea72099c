package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/research-orchestrator/internal/agents"
	"github.com/example/research-orchestrator/internal/models"
	"github.com/example/research-orchestrator/internal/orchestrator"
	"github.com/example/research-orchestrator/internal/providers/llm"
	"github.com/example/research-orchestrator/internal/providers/search"
	yt "github.com/example/research-orchestrator/internal/providers/youtube"
)

type stubTranscripts struct{}

func (stubTranscripts) Fetch(context.Context, string) (yt.Transcript, error) {
	return yt.Transcript{Text: "a short transcript", Language: "en"}, nil
}

func scriptedLLM() *llm.MockClient {
	return &llm.MockClient{Respond: func(_ context.Context, p string) (string, error) {
		switch {
		case strings.Contains(p, "Research Summaries:"):
			return "# Final report", nil
		case strings.Contains(p, "Sub-Question:"):
			return "a researched answer", nil
		case strings.Contains(p, "Main Question:"):
			return "First sub-question?\nSecond sub-question?\nThird sub-question?", nil
		case strings.Contains(p, "Suggest exactly 3"):
			return "1. Alpha\n2. Beta\n3. Gamma", nil
		default:
			return "streamed output text", nil
		}
	}}
}

func newTestServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	client := scriptedLLM()
	provider := &search.Mock{}
	orch := orchestrator.New(orchestrator.Deps{
		Decomposer:  &agents.LLMDecomposer{Client: client},
		Researcher:  &agents.WebResearcher{Client: client, Search: provider},
		Synthesizer: &agents.LLMSynthesizer{Client: client},
		LLM:         client,
		Search:      provider,
		Transcripts: stubTranscripts{},
	}, orchestrator.Options{}, nil)
	mux := http.NewServeMux()
	NewServer(context.Background(), orch, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(LogRequests(nil, mux))
	t.Cleanup(func() {
		srv.Close()
		orch.Close()
	})
	return srv, orch
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(b))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "research_active_sessions")
}

func TestUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/sessions/missing/research", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session not found", body["error"])

	resp, _ = do(t, http.MethodDelete, srv.URL+"/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResearchFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	base := srv.URL + "/sessions/" + id + "/research"

	resp, _ := do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodPost, base+"/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(agents.KindStageConflict), body["kind"])

	resp, body = do(t, http.MethodPost, base, map[string]string{"main_question": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(agents.KindInvalidInput), body["kind"])

	resp, body = do(t, http.MethodPost, base, map[string]string{"main_question": "How do heat pumps work?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.StageEditingSubquestions), body["stage"])
	assert.Len(t, body["sub_questions"], 3)

	resp, body = do(t, http.MethodPut, base+"/subquestions/0", map[string]string{"text": "Edited?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Edited?", body["sub_questions"].([]any)[0])

	resp, body = do(t, http.MethodPost, base+"/subquestions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sub_questions"], 4)

	resp, body = do(t, http.MethodDelete, base+"/subquestions/3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["sub_questions"], 3)

	resp, _ = do(t, http.MethodPut, base+"/subquestions/abc", map[string]string{"text": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, base+"/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, body := do(t, http.MethodGet, base, nil)
		return body["stage"] == string(models.StageComplete)
	}, 5*time.Second, 20*time.Millisecond)

	_, body = do(t, http.MethodGet, base, nil)
	assert.Equal(t, "# Final report", body["report"])
	results := body["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "Edited?", results[0].(map[string]any)["sub_question"])

	resp, _ = do(t, http.MethodPost, base+"/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, http.MethodPost, base+"/synthesize", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBlogFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/sessions/" + createSession(t, srv) + "/blog"

	resp, body := do(t, http.MethodPost, base+"/posting", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(agents.KindStageConflict), body["kind"])

	resp, body = do(t, http.MethodPost, base+"/titles", map[string]string{"keyword": "robot vacuum"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Alpha", "Beta", "Gamma"}, body["titles"])

	resp, body = do(t, http.MethodPost, base+"/outline", map[string]string{"title": "Beta"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Beta", body["selected_title"])

	resp, body = do(t, http.MethodPost, base+"/posting", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stages := body["stages"].([]any)
	require.Len(t, stages, 3)
	assert.Equal(t, "streamed output text", stages[2].(map[string]any)["output"])

	resp, _ = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = do(t, http.MethodGet, base, nil)
	assert.Empty(t, body["keyword"])
}

func TestYouTubeFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/sessions/" + createSession(t, srv) + "/youtube"

	resp, body := do(t, http.MethodPost, base, map[string]string{"url": "https://example.com/video"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid YouTube URL", body["error"])

	resp, body = do(t, http.MethodPost, base, map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "dQw4w9WgXcQ", body["video_id"])

	require.Eventually(t, func() bool {
		_, body := do(t, http.MethodGet, base, nil)
		stages, _ := body["stages"].([]any)
		return len(stages) == 3 && stages[2].(map[string]any)["done"] == true
	}, 5*time.Second, 20*time.Millisecond)

	_, body = do(t, http.MethodGet, base, nil)
	assert.Equal(t, "English", body["source_language"])
	stages := body["stages"].([]any)
	assert.Equal(t, "Transcript already in English; translation skipped.", stages[1].(map[string]any)["output"])
}

func TestInvalidJSONBody(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/sessions/"+id+"/research", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerSentEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/events?types=task_status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	go func() {
		r, err := http.Post(srv.URL+"/sessions/"+id+"/research", "application/json", strings.NewReader(`{"main_question":"Why is the sky blue?"}`))
		if err == nil {
			r.Body.Close()
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	assert.Equal(t, "task_status", event)
	var ev orchestrator.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, id, ev.SessionID)
	assert.NotEmpty(t, ev.TaskID)
}

func TestWebSocketEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/ws?types=stage"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	r, _ := do(t, http.MethodPost, srv.URL+"/sessions/"+id+"/blog/titles", map[string]string{"keyword": "kettle"})
	require.Equal(t, http.StatusOK, r.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev orchestrator.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, orchestrator.EventStage, ev.Event)
	assert.Equal(t, "blog", ev.Payload.(map[string]any)["pipeline"])
}

func TestDeleteSessionClosesStreams(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	r, _ := do(t, http.MethodDelete, srv.URL+"/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, r.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), fmt.Sprint(err))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{agents.InvalidInput("x"), http.StatusBadRequest},
		{agents.StageConflict("x"), http.StatusConflict},
		{agents.GenerationFailed(errors.New("down")), http.StatusBadGateway},
		{agents.SynthesisFailed(errors.New("down")), http.StatusBadGateway},
		{agents.StageFailed("outline", errors.New("down")), http.StatusBadGateway},
		{agents.StageFailed("summary", context.Canceled), http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped: %w", context.Canceled), http.StatusGatewayTimeout},
		{errors.New("search down"), http.StatusBadGateway},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
