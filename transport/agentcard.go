// Package transport implements the Remote Agent Transport: a JSON-RPC 2.0
// client over HTTP, well-known-URI discovery, and an SSE streaming
// variant (see DESIGN.md).
package transport

// AgentCard describes a remote specialist, fetched from
// /.well-known/agent-card.json and immutable once discovered.
type AgentCard struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Protocol    string            `json:"protocol"`
	Endpoints   AgentEndpoints    `json:"endpoints"`
	Auth        string            `json:"auth,omitempty"`
	Capabilities []string         `json:"capabilities,omitempty"`
	SecuritySchemes map[string]interface{} `json:"securitySchemes,omitempty"`
	Security    []string          `json:"security,omitempty"`
}

// AgentEndpoints holds the protocol-specific URLs the card advertises.
type AgentEndpoints struct {
	JSONRPC string `json:"jsonrpc"`
}

// JSONRPCProtocol is the protocol string specialists advertise in their
// agent card.
const JSONRPCProtocol = "A2A-HTTP-JSONRPC-2.0"
