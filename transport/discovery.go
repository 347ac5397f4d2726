package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaymesh/orchestrator/core"
)

// wellKnownPath is the conventional agent-card discovery URI.
const wellKnownPath = "/.well-known/agent-card.json"

// DiscoverOne fetches and parses one base URL's agent card with a short
// timeout, bounded to a 15s discovery budget.
func DiscoverOne(ctx context.Context, httpClient *http.Client, baseURL string) (*AgentCard, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	url := strings.TrimRight(baseURL, "/") + wellKnownPath

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var card AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, err
	}
	if card.Name == "" {
		return nil, fmt.Errorf("%s: agent card missing name", url)
	}
	if card.Endpoints.JSONRPC == "" {
		return nil, fmt.Errorf("%s: agent card missing jsonrpc endpoint", url)
	}
	return &card, nil
}

// Discover fetches agent cards for every base URL. Discovery failures
// are logged and skipped; they never abort bootstrap.
// Discovery is idempotent: the same set of base URLs yields the same
// cards (by value) on repeated calls.
func Discover(ctx context.Context, httpClient *http.Client, baseURLs []string, log core.Logger) []*AgentCard {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	cards := make([]*AgentCard, 0, len(baseURLs))
	for _, base := range baseURLs {
		card, err := DiscoverOne(ctx, httpClient, base)
		if err != nil {
			log.WarnWithContext(ctx, "agent discovery failed, skipping", map[string]interface{}{
				"base_url": base,
				"error":    err.Error(),
			})
			continue
		}
		cards = append(cards, card)
	}
	return cards
}
