package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/orchestrator/core"
)

// Headers is the set of per-request headers forwarded verbatim to a
// specialist.
type Headers struct {
	UserID        string
	SessionID     string
	Authorization string
	Delegated     map[string]string // e.g. "X-ADX-Token" -> token
}

func (h Headers) apply(req *http.Request) {
	if h.UserID != "" {
		req.Header.Set("X-User-ID", h.UserID)
	}
	if h.SessionID != "" {
		req.Header.Set("X-Session-ID", h.SessionID)
	}
	if h.Authorization != "" {
		req.Header.Set("Authorization", h.Authorization)
	}
	for k, v := range h.Delegated {
		req.Header.Set(k, v)
	}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  jsonrpcParams   `json:"params"`
}

type jsonrpcParams struct {
	Task     string  `json:"task"`
	ThreadID *string `json:"threadId"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Result  *jsonrpcResult `json:"result,omitempty"`
	Error   *jsonrpcError  `json:"error,omitempty"`
}

type jsonrpcResult struct {
	Content string `json:"content"`
}

// Client sends JSON-RPC 2.0 requests to specialist agent endpoints,
// using a request-build/send/parse shape generalized to an arbitrary
// AgentCard endpoint and a JSON-RPC envelope.
type Client struct {
	httpClient *http.Client
	log        core.Logger
}

// NewClient constructs a Client with the given default per-request timeout.
func NewClient(timeout time.Duration, log core.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, log: log}
}

// SendMessage POSTs a fresh JSON-RPC envelope to card.Endpoints.JSONRPC,
// raises on non-2xx or a JSON-RPC error body, and returns result.Content
// otherwise.
func (c *Client) SendMessage(ctx context.Context, card *AgentCard, task string, threadID string, headers Headers, timeout time.Duration) (string, error) {
	if card == nil || card.Endpoints.JSONRPC == "" {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindBadRequest, core.ErrAgentNotFound)
	}

	var threadPtr *string
	if threadID != "" {
		threadPtr = &threadID
	}

	reqBody := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "message/send",
		Params:  jsonrpcParams{Task: task, ThreadID: threadPtr},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindInternal, err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, card.Endpoints.JSONRPC, bytes.NewReader(payload))
	if err != nil {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	headers.apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return "", core.ErrCancelled
		}
		return "", core.NewFrameworkError("transport.SendMessage", core.KindUpstreamUnavailable, fmt.Errorf("%s: %w", card.Name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindUpstreamUnavailable,
			fmt.Errorf("%s returned HTTP %d: %s", card.Name, resp.StatusCode, string(body)))
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindParseError, err)
	}

	if rpcResp.Error != nil {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindUpstreamClientError,
			fmt.Errorf("Error delegating to %s: %s: %w", card.Name, rpcResp.Error.Message, core.ErrUpstreamClientError))
	}
	if rpcResp.Result == nil {
		return "", core.NewFrameworkError("transport.SendMessage", core.KindParseError,
			fmt.Errorf("%s returned no result", card.Name))
	}
	return rpcResp.Result.Content, nil
}
