package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/orchestration"
	"github.com/relaymesh/orchestrator/registry"
)

type stubCoordinator struct {
	content string
}

func (s *stubCoordinator) Complete(ctx context.Context, req orchestration.CompletionRequest) (orchestration.CompletionResult, error) {
	return orchestration.CompletionResult{Content: s.content}, nil
}

func newTestApplication(content string) *application {
	reg := registry.New(nil)
	coord := &stubCoordinator{content: content}
	router := orchestration.NewRouter(coord, reg, nil, nil, nil, 0, nil)
	return &application{router: router, registry: reg, log: &core.NoOpLogger{}, startedAt: time.Now()}
}

func TestHandleAskReturnsDirectAnswer(t *testing.T) {
	app := newTestApplication("the direct answer")
	body, _ := json.Marshal(askRequest{Question: "what's up"})

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.handleAsk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the direct answer", resp.Response)
	assert.NotEmpty(t, resp.SessionID, "a session id must be generated when the caller omits one")
}

func TestHandleAskRejectsEmptyQuestion(t *testing.T) {
	app := newTestApplication("unused")
	body, _ := json.Marshal(askRequest{Question: ""})

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.handleAsk(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAskRejectsMalformedBody(t *testing.T) {
	app := newTestApplication("unused")
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	app.handleAsk(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAskPreservesCallerSessionID(t *testing.T) {
	app := newTestApplication("answer")
	body, _ := json.Marshal(askRequest{Question: "q", SessionID: "session-123"})

	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.handleAsk(rec, req)

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "session-123", resp.SessionID)
}

func TestHandleChatCompletionsUsesLastMessage(t *testing.T) {
	app := newTestApplication("assistant reply")
	body, _ := json.Marshal(chatCompletionsRequest{
		Messages: []chatMessage{{Role: "user", Content: "first"}, {Role: "user", Content: "second"}},
		UserID:   "u1",
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.handleChatCompletions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatCompletionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "assistant", resp.Message.Role)
	assert.Equal(t, "assistant reply", resp.Message.Content)
	assert.NotNil(t, resp.AgentInteractions)
}

func TestHandleChatCompletionsRejectsEmptyMessages(t *testing.T) {
	app := newTestApplication("unused")
	body, _ := json.Marshal(chatCompletionsRequest{Messages: nil})

	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	app.handleChatCompletions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePingReturnsOK(t *testing.T) {
	app := newTestApplication("")
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	app.handlePing(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHandleStatusReportsSpecialistCount(t *testing.T) {
	app := newTestApplication("")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	app.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(core.HealthHealthy), body["status"])
	assert.Equal(t, float64(0), body["specialists"])
}

func TestHandleAgentActivityStreamsStartEvent(t *testing.T) {
	app := newTestApplication("")

	router := chi.NewRouter()
	router.Get("/sse/agent-activity/{sessionId}", app.handleAgentActivity)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/sse/agent-activity/session-1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "stream/start")
	assert.Contains(t, rec.Body.String(), "session-1")
}

func TestTraceIDMiddlewareGeneratesIDWhenAbsent(t *testing.T) {
	handler := traceIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestTraceIDMiddlewareEchoesExistingID(t *testing.T) {
	handler := traceIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace-abc", rec.Header().Get("X-Trace-ID"))
}
