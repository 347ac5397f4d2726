package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageReturnsContentOnSuccess(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]string{"content": "invoice #42 is paid"},
		})
	}))
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	content, err := client.SendMessage(context.Background(), card, "check invoice 42", "thread-1",
		Headers{UserID: "u1", SessionID: "s1", Authorization: "Bearer tok", Delegated: map[string]string{"X-ADX-Token": "adx"}}, 0)

	require.NoError(t, err)
	assert.Equal(t, "invoice #42 is paid", content)
	assert.Equal(t, "u1", gotHeaders.Get("X-User-ID"))
	assert.Equal(t, "s1", gotHeaders.Get("X-Session-ID"))
	assert.Equal(t, "Bearer tok", gotHeaders.Get("Authorization"))
	assert.Equal(t, "adx", gotHeaders.Get("X-ADX-Token"))
}

func TestSendMessageRejectsNilCard(t *testing.T) {
	client := NewClient(5*time.Second, nil)
	_, err := client.SendMessage(context.Background(), nil, "task", "", Headers{}, 0)
	assert.Error(t, err)
}

func TestSendMessageReturnsErrorOnJSONRPCErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"error":   map[string]interface{}{"code": -32000, "message": "agent busy"},
		})
	}))
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	_, err := client.SendMessage(context.Background(), card, "task", "", Headers{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent busy")
}

func TestSendMessageReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	_, err := client.SendMessage(context.Background(), card, "task", "", Headers{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSendMessageReturnsErrorOnMissingResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req["id"]})
	}))
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	_, err := client.SendMessage(context.Background(), card, "task", "", Headers{}, 0)
	assert.Error(t, err)
}

func TestSendMessageRespectsCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	card := &AgentCard{Name: "billing", Endpoints: AgentEndpoints{JSONRPC: srv.URL}}
	client := NewClient(5*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.SendMessage(ctx, card, "task", "", Headers{}, 0)
	assert.Error(t, err)
}
