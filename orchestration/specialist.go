package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/registry"
	"github.com/relaymesh/orchestrator/resilience"
	"github.com/relaymesh/orchestrator/transport"
)

// SpecialistCaller invokes a registered specialist's JSON-RPC endpoint
// through C1, the cross-cutting rule that every specialist call goes
// through the resilience wrapper and the transport client.
type SpecialistCaller struct {
	registry      *registry.Registry
	client        *transport.Client // shared client for requests with no delegated credential
	clientCache   *transport.ClientCache
	clientTimeout time.Duration
	wrapper       *resilience.CallWrapper
	log           core.Logger
}

// SpecialistCallerOption configures optional SpecialistCaller behavior.
type SpecialistCallerOption func(*SpecialistCaller)

// WithClientCache gives delegated-credential requests (RequestContext.
// Delegated non-empty) their own cached *transport.Client, keyed by a hash
// of the forwarded credential, instead of sharing the caller's default
// client. clientTimeout sizes the per-request timeout of clients the cache
// constructs on a miss.
func WithClientCache(cache *transport.ClientCache, clientTimeout time.Duration) SpecialistCallerOption {
	return func(c *SpecialistCaller) {
		c.clientCache = cache
		c.clientTimeout = clientTimeout
	}
}

// NewSpecialistCaller constructs a caller.
func NewSpecialistCaller(reg *registry.Registry, client *transport.Client, wrapper *resilience.CallWrapper, log core.Logger, opts ...SpecialistCallerOption) *SpecialistCaller {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	c := &SpecialistCaller{registry: reg, client: client, wrapper: wrapper, log: log, clientTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// delegatedCacheKey builds a stable cache key covering every forwarded
// delegated header, so two requests with the same set of credentials share
// a client regardless of map iteration order.
func delegatedCacheKey(delegated map[string]string) string {
	if len(delegated) == 0 {
		return ""
	}
	keys := make([]string, 0, len(delegated))
	for k := range delegated {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(delegated[k])
		b.WriteByte(';')
	}
	return b.String()
}

// clientFor returns the *transport.Client a Delegate call should use: the
// cache's client for this credential set when delegation and a cache are
// both present, otherwise the caller's shared client.
func (c *SpecialistCaller) clientFor(reqCtx RequestContext) *transport.Client {
	if c.clientCache == nil || len(reqCtx.Delegated) == 0 {
		return c.client
	}
	key := transport.HashToken(delegatedCacheKey(reqCtx.Delegated))
	return c.clientCache.GetOrCreate(key, func() *transport.Client {
		return transport.NewClient(c.clientTimeout, c.log)
	})
}

// Delegate sends task to the named agent and returns its response body.
// A JSON-RPC error body surfaces as an
// "Error delegating to <agent>: <msg>" string for an UpstreamClientError
// so it can be appended to history for the model to adapt, rather than
// aborting the caller.
func (c *SpecialistCaller) Delegate(ctx context.Context, agentName, task, threadID string, reqCtx RequestContext) (string, error) {
	entry, ok := c.registry.Get(agentName)
	if !ok {
		return "", core.NewFrameworkError("SpecialistCaller.Delegate", core.KindBadRequest, fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentName))
	}

	client := c.clientFor(reqCtx)
	estimate := resilience.EstimateTokens(task).Tokens
	result, err := c.wrapper.Execute(ctx, "delegate:"+agentName, estimate, func(ctx context.Context) (interface{}, int, bool, error) {
		content, err := client.SendMessage(ctx, entry.Card, task, threadID, reqCtx.Headers(), 30*time.Second)
		if err != nil {
			if core.IsUpstreamClientError(err) {
				return fmt.Sprintf("Error delegating to %s: %v", agentName, err), 0, false, nil
			}
			return nil, 0, false, err
		}
		return content, resilience.EstimateTokens(content).Tokens, false, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
