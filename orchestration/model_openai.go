package orchestration

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/resilience"
)

// OpenAICoordinator implements Coordinator against an OpenAI-compatible
// chat-completions endpoint (OpenAI, Azure OpenAI via BaseURL, or any
// gateway speaking the same wire format), built on go-openai instead of a
// hand-rolled HTTP client (see DESIGN.md DOMAIN STACK).
type OpenAICoordinator struct {
	client  *openai.Client
	model   string
	wrapper *resilience.CallWrapper
	log     core.Logger
}

// NewOpenAICoordinator constructs a coordinator from a core.ModelConfig.
// When cfg.Deployment or cfg.APIVersion is set it targets an Azure-OpenAI-
// shaped deployment at cfg.Endpoint; otherwise it targets the public OpenAI
// API, or cfg.Endpoint as the base URL of an OpenAI-compatible gateway.
func NewOpenAICoordinator(cfg core.ModelConfig, wrapper *resilience.CallWrapper, log core.Logger) *OpenAICoordinator {
	if log == nil {
		log = &core.NoOpLogger{}
	}

	var clientConfig openai.ClientConfig
	if cfg.Deployment != "" || cfg.APIVersion != "" {
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			clientConfig.APIVersion = cfg.APIVersion
		}
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			clientConfig.BaseURL = cfg.Endpoint
		}
	}

	model := cfg.Name
	if cfg.Deployment != "" {
		model = cfg.Deployment
	}

	return &OpenAICoordinator{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		wrapper: wrapper,
		log:     log,
	}
}

// Complete implements Coordinator.Complete, routing through the
// resilience.CallWrapper (C1) so every Coordinator call is rate-limited,
// circuit-broken, and retried.
func (c *OpenAICoordinator) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	optimizedMessages, truncated := optimizeMessages(req.SystemPrompt, req.Messages, defaultContextCeiling)
	req.Messages = optimizedMessages

	messages := buildOpenAIMessages(req)
	tools := buildOpenAITools(req.Functions)

	estimate := estimateRequestTokens(req)
	if risk := resilience.AssessRisk(estimate, c.wrapper.Usage().RecentTruncationRate()); risk == resilience.RiskHigh {
		c.log.WarnWithContext(ctx, "coordinator call is high token risk, consider splitting", map[string]interface{}{"estimated_tokens": estimate})
	}

	result, err := c.wrapper.Execute(ctx, "coordinator.complete", estimate, func(ctx context.Context) (interface{}, int, bool, error) {
		chatReq := openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}
		if len(tools) > 0 {
			chatReq.Tools = tools
		}

		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, 0, truncated, err
		}
		if len(resp.Choices) == 0 {
			return CompletionResult{}, resp.Usage.TotalTokens, truncated, nil
		}

		choice := resp.Choices[0]
		cr := CompletionResult{Content: choice.Message.Content}
		if len(choice.Message.ToolCalls) > 0 {
			tc := choice.Message.ToolCalls[0]
			cr.FunctionCall = &FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
		return cr, resp.Usage.TotalTokens, truncated, nil
	})
	if err != nil {
		return CompletionResult{}, err
	}
	return result.(CompletionResult), nil
}

func buildOpenAIMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleTool:
			role = openai.ChatMessageRoleTool
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		default:
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content, Name: sanitizeName(m.AgentName)})
	}
	return out
}

// sanitizeName strips characters the OpenAI API rejects in a message
// "name" field (only alnum, underscore, hyphen are accepted).
func sanitizeName(name string) string {
	if name == "" {
		return ""
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		}
	}
	return string(out)
}

func buildOpenAITools(funcs []FunctionSpec) []openai.Tool {
	if len(funcs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(funcs))
	for _, f := range funcs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			},
		})
	}
	return tools
}

func estimateRequestTokens(req CompletionRequest) int {
	total := resilience.EstimateTokens(req.SystemPrompt).Tokens
	for _, m := range req.Messages {
		total += resilience.EstimateMessageTokens(m.ToResilienceMessage())
	}
	return total
}

// marshalArguments is a small helper for callers that need to build
// FunctionCall.Arguments from a Go value rather than parse it.
func marshalArguments(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
