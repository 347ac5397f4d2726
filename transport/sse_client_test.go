package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSSEServer(t *testing.T, frames string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(frames))
	}))
}

func TestSendMessageStreamDeliversContentThenEnd(t *testing.T) {
	frames := "event: stream/start\ndata: {}\n\n" +
		"event: stream/content\ndata: {\"content\":\"partial \"}\n\n" +
		"event: stream/content\ndata: {\"content\":\"answer\"}\n\n" +
		"event: stream/end\ndata: {\"jsonrpc\":\"2.0\",\"id\":\"1\",\"result\":{\"content\":\"partial answer\"}}\n\n"
	srv := newSSEServer(t, frames)
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	events, err := client.SendMessageStream(context.Background(), card, "task", "", Headers{}, 0)
	require.NoError(t, err)

	var contents []string
	var result string
	for ev := range events {
		require.NoError(t, ev.Err)
		switch ev.Type {
		case StreamContent:
			contents = append(contents, ev.Content)
		case StreamEnd:
			result = ev.Result
		}
	}

	assert.Equal(t, []string{"partial ", "answer"}, contents)
	assert.Equal(t, "partial answer", result)
}

func TestSendMessageStreamPropagatesJSONRPCError(t *testing.T) {
	frames := "event: stream/end\ndata: {\"jsonrpc\":\"2.0\",\"id\":\"1\",\"error\":{\"code\":-1,\"message\":\"overloaded\"}}\n\n"
	srv := newSSEServer(t, frames)
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	events, err := client.SendMessageStream(context.Background(), card, "task", "", Headers{}, 0)
	require.NoError(t, err)

	var gotErr error
	for ev := range events {
		if ev.Err != nil {
			gotErr = ev.Err
		}
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "overloaded")
}

func TestSendMessageStreamRejectsNilCard(t *testing.T) {
	client := NewClient(5*time.Second, nil)
	_, err := client.SendMessageStream(context.Background(), nil, "task", "", Headers{}, 0)
	assert.Error(t, err)
}

func TestSendMessageStreamRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	_, err := client.SendMessageStream(context.Background(), card, "task", "", Headers{}, 0)
	assert.Error(t, err)
}
