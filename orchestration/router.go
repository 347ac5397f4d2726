package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/registry"
)

// Action names the four dispatch targets offered to the planning model.
const (
	ActionDirectAnswer = "direct_answer"
	ActionDelegate     = "delegate"
	ActionCollaborate  = "collaborate"
	ActionResearch     = "research"
)

var routingFunctions = []FunctionSpec{
	{
		Name:        ActionDelegate,
		Description: "Delegate one task to a single named specialist agent.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"agent": map[string]interface{}{"type": "string"},
				"task":  map[string]interface{}{"type": "string"},
			},
			"required": []string{"agent", "task"},
		},
	},
	{
		Name:        ActionCollaborate,
		Description: "Run a fixed, known sequence of specialists on one task and synthesize their outputs.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task":   map[string]interface{}{"type": "string"},
				"agents": map[string]interface{}{"type": "string", "description": "comma- or arrow-separated ordered agent names"},
			},
			"required": []string{"task", "agents"},
		},
	},
	{
		Name:        ActionResearch,
		Description: "Run an open-ended, model-driven research loop over a set of candidate agents.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"objective": map[string]interface{}{"type": "string"},
				"agents":    map[string]interface{}{"type": "string", "description": "comma-separated candidate agent names"},
			},
			"required": []string{"objective", "agents"},
		},
	},
}

type delegateCallArgs struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

type collaborateCallArgs struct {
	Task   string `json:"task"`
	Agents string `json:"agents"`
}

type researchCallArgs struct {
	Objective string `json:"objective"`
	Agents    string `json:"agents"`
}

// Router implements the Routing Host (C6), the entry point for a user
// turn. Every dependency is injected explicitly rather than reached via
// a global singleton.
type Router struct {
	coordinator  Coordinator
	registry     *registry.Registry
	caller       *SpecialistCaller
	synthesizer  *Synthesizer
	researchLoop *ResearchLoop
	maxRounds    int
	log          core.Logger
	history      HistorySink
	historyTurns int
}

// RouterOption configures optional Router collaborators.
type RouterOption func(*Router)

// WithHistorySink gives the router a place to persist each turn's user
// message and final answer, and to load the last historyTurns entries
// back in as conversational context on the next turn for the same
// session. Without this option the router stays stateless, using
// NoOpHistorySink.
func WithHistorySink(sink HistorySink, historyTurns int) RouterOption {
	return func(r *Router) {
		r.history = sink
		r.historyTurns = historyTurns
	}
}

// NewRouter constructs a Router from its collaborators.
func NewRouter(coordinator Coordinator, reg *registry.Registry, caller *SpecialistCaller, synthesizer *Synthesizer, researchLoop *ResearchLoop, maxRounds int, log core.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	if maxRounds <= 0 {
		maxRounds = defaultIterationCap
	}
	r := &Router{
		coordinator:  coordinator,
		registry:     reg,
		caller:       caller,
		synthesizer:  synthesizer,
		researchLoop: researchLoop,
		maxRounds:    maxRounds,
		log:          log,
		history:      NoOpHistorySink{},
		historyTurns: 20,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.history == nil {
		r.history = NoOpHistorySink{}
	}
	return r
}

// ProcessMessage routes one user turn to a final string answer. It never
// raises to the caller: any failure after a specialist has
// already produced output returns the accumulated partial findings
// instead.
func (r *Router) ProcessMessage(ctx context.Context, msg string, reqCtx RequestContext) string {
	past := r.loadHistory(ctx, reqCtx.SessionID)
	systemPrompt := r.buildSystemPrompt()

	functions := routingFunctions
	if r.registry.Len() == 0 {
		functions = nil
	}

	result, err := r.coordinator.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     append(past, Message{Role: RoleUser, Content: msg}),
		Functions:    functions,
		Temperature:  0.2,
		MaxTokens:    1000,
	})
	if err != nil {
		r.log.Error("router: coordinator call failed", map[string]interface{}{"error": err.Error()})
		return "I'm unable to process your request right now. Please try again shortly."
	}

	var answer string
	switch {
	// Fast path: plain text with no function call is a direct answer.
	case result.FunctionCall == nil:
		if strings.TrimSpace(result.Content) == "" && r.registry.Len() == 0 {
			answer = "No specialist agents are currently available to help with this request."
		} else {
			answer = result.Content
		}
	case result.FunctionCall.Name == ActionDelegate:
		answer = r.dispatchDelegate(ctx, result.FunctionCall.Arguments, reqCtx)
	case result.FunctionCall.Name == ActionCollaborate:
		answer = r.dispatchCollaborate(ctx, result.FunctionCall.Arguments, reqCtx)
	case result.FunctionCall.Name == ActionResearch:
		answer = r.dispatchResearch(ctx, result.FunctionCall.Arguments, reqCtx)
	default:
		answer = result.Content
	}

	r.saveTurn(ctx, reqCtx.SessionID, msg, answer)
	return answer
}

// loadHistory returns the prior turns for sessionID as coordinator
// context, oldest first. A missing session ID or a load failure yields
// no history rather than failing the turn.
func (r *Router) loadHistory(ctx context.Context, sessionID string) []Message {
	if sessionID == "" {
		return nil
	}
	past, err := r.history.Load(ctx, sessionID, r.historyTurns)
	if err != nil {
		r.log.Warn("router: history load failed", map[string]interface{}{"session": sessionID, "error": err.Error()})
		return nil
	}
	return past
}

// saveTurn persists the user message and final answer for sessionID. A
// missing session ID is a no-op; persistence failures are logged, not
// propagated, since history is a convenience layered on a stateless core.
func (r *Router) saveTurn(ctx context.Context, sessionID, userMsg, answer string) {
	if sessionID == "" {
		return
	}
	if err := r.history.Append(ctx, sessionID, Message{Role: RoleUser, Content: userMsg}); err != nil {
		r.log.Warn("router: history append failed", map[string]interface{}{"session": sessionID, "error": err.Error()})
		return
	}
	if err := r.history.Append(ctx, sessionID, Message{Role: RoleAssistant, Content: answer}); err != nil {
		r.log.Warn("router: history append failed", map[string]interface{}{"session": sessionID, "error": err.Error()})
	}
}

func (r *Router) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are the routing coordinator for a multi-agent assistant. ")
	b.WriteString("Available specialist agents:\n")
	if r.registry.Len() == 0 {
		b.WriteString("(none currently available)\n")
	} else {
		b.WriteString(r.registry.PromptSummary())
	}
	b.WriteString("\nChoose one of four actions: answer the user directly with plain text, ")
	b.WriteString("call delegate(agent, task) for a single specialist, ")
	b.WriteString("call collaborate(task, agents) for a fixed known sequence of specialists, or ")
	b.WriteString("call research(objective, agents) for open-ended multi-round investigation.")
	return b.String()
}

func (r *Router) dispatchDelegate(ctx context.Context, rawArgs string, reqCtx RequestContext) string {
	var args delegateCallArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "I couldn't determine which specialist to use for this request."
	}
	response, err := r.caller.Delegate(ctx, args.Agent, args.Task, "", reqCtx)
	if err != nil {
		r.log.Warn("router: delegate failed", map[string]interface{}{"agent": args.Agent, "error": err.Error()})
		return fmt.Sprintf("[%s] request could not be completed.", args.Agent)
	}
	return fmt.Sprintf("[%s] %s", args.Agent, response)
}

func (r *Router) dispatchResearch(ctx context.Context, rawArgs string, reqCtx RequestContext) string {
	var args researchCallArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "I couldn't determine the research objective."
	}
	final, _, err := r.researchLoop.Run(ctx, args.Objective, args.Agents, reqCtx)
	if err != nil {
		if core.IsCancelled(err) {
			return "Research was cancelled."
		}
		r.log.Warn("router: research loop failed", map[string]interface{}{"error": err.Error()})
		return "Research could not be completed."
	}
	return final
}

// normalizeAgentSequence accepts a comma- or arrow-separated ordered
// agent list and normalizes it into individual names.
func normalizeAgentSequence(raw string) []string {
	replaced := strings.ReplaceAll(raw, "->", ",")
	parts := strings.Split(replaced, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) dispatchCollaborate(ctx context.Context, rawArgs string, reqCtx RequestContext) string {
	var args collaborateCallArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "I couldn't determine the collaboration plan."
	}

	sequence := normalizeAgentSequence(args.Agents)
	termination := NewTerminationStrategy(r.coordinator, len(sequence)+2, r.log)

	var history []Message
	history = append(history, Message{Role: RoleUser, Content: args.Task})

	var specialists []SpecialistResponse
	var lastCoordinatorText string

	for i, agentName := range sequence {
		if err := ctx.Err(); err != nil {
			break
		}

		response, err := r.caller.Delegate(ctx, agentName, args.Task, "", reqCtx)
		if err != nil {
			if core.IsCancelled(err) {
				break
			}
			response = fmt.Sprintf("Error delegating to %s: %v", agentName, err)
		} else {
			specialists = append(specialists, SpecialistResponse{AgentName: agentName, Content: response})
		}
		history = append(history, Message{Role: RoleTool, AgentName: agentName, Content: response})

		coordText, err := r.coordinatorProgress(ctx, args.Task, history)
		if err != nil {
			r.log.Warn("router: collaborate coordinator call failed", map[string]interface{}{"error": err.Error()})
			break
		}
		lastCoordinatorText = coordText
		history = append(history, Message{Role: RoleAssistant, Content: coordText})

		decision := termination.ShouldStop(ctx, history, args.Task, i+1)
		if decision == DecisionStop {
			break
		}
	}

	final, err := r.synthesizer.Synthesize(ctx, args.Task, lastCoordinatorText, specialists)
	if err != nil {
		if len(specialists) > 0 {
			var parts []string
			for _, s := range specialists {
				parts = append(parts, stripAgentPrefix(s.AgentName, s.Content))
			}
			return strings.Join(parts, "\n\n")
		}
		return "I couldn't complete this request."
	}
	return final
}

func (r *Router) coordinatorProgress(ctx context.Context, task string, history []Message) (string, error) {
	result, err := r.coordinator.Complete(ctx, CompletionRequest{
		SystemPrompt: "You are coordinating a fixed sequence of specialist agents on one task. Summarize progress so far and note whether more specialists are needed.",
		Messages:     append([]Message{{Role: RoleUser, Content: task}}, history...),
		Temperature:  0.3,
		MaxTokens:    500,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
