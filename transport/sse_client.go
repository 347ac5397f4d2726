package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/orchestrator/core"
)

// StreamEventType names the three SSE event kinds, in order: start,
// zero-or-more content chunks, end.
type StreamEventType string

const (
	StreamStart   StreamEventType = "stream/start"
	StreamContent StreamEventType = "stream/content"
	StreamEnd     StreamEventType = "stream/end"
)

// StreamEvent is one parsed SSE frame from a specialist's message/stream
// method.
type StreamEvent struct {
	Type    StreamEventType
	Content string // set on StreamContent
	Result  string // set on StreamEnd, equivalent to SendMessage's return
	Err     error
}

// SendMessageStream is the streaming variant of SendMessage: POST a
// message/stream JSON-RPC request and parse the response body as a
// sequence of "event: <type>\ndata: <json>\n\n" frames. Events are
// delivered on the returned channel, closed when the stream ends or ctx
// is cancelled.
func (c *Client) SendMessageStream(ctx context.Context, card *AgentCard, task string, threadID string, headers Headers, timeout time.Duration) (<-chan StreamEvent, error) {
	if card == nil || card.Endpoints.JSONRPC == "" {
		return nil, core.NewFrameworkError("transport.SendMessageStream", core.KindBadRequest, core.ErrAgentNotFound)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var threadPtr *string
	if threadID != "" {
		threadPtr = &threadID
	}
	reqBody := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "message/stream",
		Params:  jsonrpcParams{Task: task, ThreadID: threadPtr},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, core.NewFrameworkError("transport.SendMessageStream", core.KindInternal, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, card.Endpoints.JSONRPC, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, core.NewFrameworkError("transport.SendMessageStream", core.KindInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	headers.apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, core.NewFrameworkError("transport.SendMessageStream", core.KindUpstreamUnavailable, fmt.Errorf("%s: %w", card.Name, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, core.NewFrameworkError("transport.SendMessageStream", core.KindUpstreamUnavailable,
			fmt.Errorf("%s returned HTTP %d", card.Name, resp.StatusCode))
	}

	events := make(chan StreamEvent, 4)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(events)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var eventType string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				eventType = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data := strings.TrimPrefix(line, "data: ")
				ev := parseStreamFrame(StreamEventType(eventType), data)
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type == StreamEnd || ev.Err != nil {
					return
				}
			case line == "":
				// frame separator, no-op
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			events <- StreamEvent{Err: core.NewFrameworkError("transport.SendMessageStream", core.KindUpstreamUnavailable, err)}
		}
	}()

	return events, nil
}

func parseStreamFrame(eventType StreamEventType, data string) StreamEvent {
	switch eventType {
	case StreamContent:
		var payload struct {
			Content string `json:"content"`
		}
		_ = json.Unmarshal([]byte(data), &payload)
		return StreamEvent{Type: StreamContent, Content: payload.Content}
	case StreamEnd:
		var payload jsonrpcResponse
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return StreamEvent{Type: StreamEnd, Err: core.NewFrameworkError("transport.parseStreamFrame", core.KindParseError, err)}
		}
		if payload.Error != nil {
			return StreamEvent{Type: StreamEnd, Err: fmt.Errorf("%w: %s", core.ErrUpstreamClientError, payload.Error.Message)}
		}
		if payload.Result != nil {
			return StreamEvent{Type: StreamEnd, Result: payload.Result.Content}
		}
		return StreamEvent{Type: StreamEnd}
	default:
		return StreamEvent{Type: StreamStart}
	}
}
