package orchestration

import "github.com/relaymesh/orchestrator/transport"

// RequestContext is the per-user-turn bundle of forwarding headers:
// session id, user id, upstream authorization, and any delegated-
// credential token. It is never stored and exists only for one turn.
type RequestContext struct {
	SessionID     string
	UserID        string
	Authorization string
	Delegated     map[string]string // e.g. "X-ADX-Token" -> token
}

// Headers adapts the RequestContext to transport.Headers for outbound
// JSON-RPC calls.
func (r RequestContext) Headers() transport.Headers {
	return transport.Headers{
		UserID:        r.UserID,
		SessionID:     r.SessionID,
		Authorization: r.Authorization,
		Delegated:     r.Delegated,
	}
}
