package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/registry"
)

// documentKeywords gate a document-lookup-style specialist out of a
// research session whose objective never mentions document-like terms.
var documentKeywords = []string{"document", "file", "pdf", "text", "report", "attachment", "upload"}

// completionSentinels mark a plain-text research answer as final,
// matched case-insensitively with a minimum length.
var completionSentinels = []string{
	"final research findings:", "research complete:", "final answer:", "conclusion:", "in summary of all findings",
}

const (
	completionSentinelMinLength = 100
	synthesisIndicatorMinLength = 200
	substantialMessageMinLength = 50
)

// ResearchState is the per-session holder: objective, filtered
// candidates, history, round counter, completion flag.
type ResearchState struct {
	Objective  string
	Candidates []string
	History    []Message
	Round      int
	Complete   bool
}

// ResearchLoop implements C7, the iterative, model-driven research
// controller. The "collaborate" routing action (Router.dispatchCollaborate)
// is deliberately a separate, simpler loop over a fixed known sequence
// rather than a call into Run: collaborate's control flow is driven by
// TerminationStrategy after each fixed step, while research's is driven by
// the model choosing its own next delegate call and self-terminating via
// completion sentinels. See DESIGN.md's Open Question decision for the
// rationale against forcing both through one abstraction.
type ResearchLoop struct {
	coordinator Coordinator
	caller      *SpecialistCaller
	registry    *registry.Registry
	maxRounds   int
	log         core.Logger
}

// NewResearchLoop constructs a loop with the given round budget (spec
// default 12, configurable).
func NewResearchLoop(coordinator Coordinator, caller *SpecialistCaller, reg *registry.Registry, maxRounds int, log core.Logger) *ResearchLoop {
	if maxRounds <= 0 {
		maxRounds = defaultIterationCap
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &ResearchLoop{coordinator: coordinator, caller: caller, registry: reg, maxRounds: maxRounds, log: log}
}

var delegateFunction = FunctionSpec{
	Name:        "delegate",
	Description: "Delegate one task to a named specialist agent and wait for its response.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent": map[string]interface{}{"type": "string", "description": "Name of the specialist agent"},
			"task":  map[string]interface{}{"type": "string", "description": "The task to delegate"},
		},
		"required": []string{"agent", "task"},
	},
}

type delegateArgs struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// Run executes the session's initialization and main loop, returning the
// final answer string and the accumulated specialist responses for C8.
func (r *ResearchLoop) Run(ctx context.Context, objective string, candidateList string, reqCtx RequestContext) (string, []SpecialistResponse, error) {
	state := &ResearchState{
		Objective:  objective,
		Candidates: r.filterCandidates(candidateList, objective),
	}

	seed := fmt.Sprintf(
		"Research objective: %s\n\nAvailable specialists: %s\n\nPlan and execute step-by-step using delegate(agent, task). "+
			"When you have gathered enough information, respond with a final summary beginning with \"FINAL RESEARCH FINDINGS:\".",
		objective, strings.Join(state.Candidates, ", "),
	)
	state.History = append(state.History, Message{Role: RoleUser, Content: seed})

	var specialists []SpecialistResponse

	for state.Round < r.maxRounds {
		if err := ctx.Err(); err != nil {
			return "", specialists, core.ErrCancelled
		}
		state.Round++

		result, err := r.coordinator.Complete(ctx, CompletionRequest{
			SystemPrompt: "You are a research coordinator directing specialist agents to gather information.",
			Messages:     state.History,
			Functions:    []FunctionSpec{delegateFunction},
			Temperature:  0.3,
			MaxTokens:    800,
		})
		if err != nil {
			if core.IsCancelled(err) {
				return "", specialists, core.ErrCancelled
			}
			r.log.Warn("research loop: coordinator call failed, nudging", map[string]interface{}{"error": err.Error(), "round": state.Round})
			state.History = append(state.History, nudgeMessage())
			continue
		}

		if result.FunctionCall != nil && result.FunctionCall.Name == "delegate" {
			var args delegateArgs
			if jsonErr := json.Unmarshal([]byte(result.FunctionCall.Arguments), &args); jsonErr != nil {
				state.History = append(state.History, nudgeMessage())
				continue
			}
			state.History = append(state.History, Message{
				Role:    RoleAssistant,
				Content: fmt.Sprintf("delegate(%s, %s)", args.Agent, args.Task),
			})
			response, callErr := r.caller.Delegate(ctx, args.Agent, args.Task, "", reqCtx)
			if callErr != nil {
				if core.IsCancelled(callErr) {
					return "", specialists, core.ErrCancelled
				}
				response = fmt.Sprintf("Error delegating to %s: %v", args.Agent, callErr)
			} else {
				specialists = append(specialists, SpecialistResponse{AgentName: args.Agent, Content: response})
			}
			state.History = append(state.History, Message{Role: RoleTool, AgentName: args.Agent, Content: response})
			continue
		}

		text := strings.TrimSpace(result.Content)
		if text == "" {
			state.History = append(state.History, nudgeMessage())
			continue
		}

		if isCompletionSentinel(text) {
			state.Complete = true
			state.History = append(state.History, Message{Role: RoleAssistant, Content: text})
			return text, specialists, nil
		}
		if len(text) > synthesisIndicatorMinLength && containsAny(strings.ToLower(text), synthesisPhrases) {
			state.Complete = true
			state.History = append(state.History, Message{Role: RoleAssistant, Content: text})
			return text, specialists, nil
		}

		state.History = append(state.History, Message{Role: RoleAssistant, Content: text})
		state.History = append(state.History, nudgeMessage())
	}

	return r.exhaustedBudgetAnswer(state), specialists, nil
}

func nudgeMessage() Message {
	return Message{Role: RoleUser, Content: "What's your next step? Continue using delegate(agent, task), or provide your final summary beginning with \"FINAL RESEARCH FINDINGS:\"."}
}

func isCompletionSentinel(text string) bool {
	if len(text) < completionSentinelMinLength {
		return false
	}
	lower := strings.ToLower(text)
	return containsAny(lower, completionSentinels)
}

// exhaustedBudgetAnswer builds the budget-exhaustion fallback: concatenate
// the last three substantial assistant messages, prefixed with a note.
func (r *ResearchLoop) exhaustedBudgetAnswer(state *ResearchState) string {
	var substantial []string
	for _, m := range state.History {
		if m.Role == RoleAssistant && len(m.Content) > substantialMessageMinLength {
			substantial = append(substantial, m.Content)
		}
	}
	start := 0
	if len(substantial) > 3 {
		start = len(substantial) - 3
	}
	last3 := substantial[start:]

	note := "Research reached maximum iterations."
	if len(last3) == 0 {
		return note
	}
	return note + "\n\n" + strings.Join(last3, "\n\n")
}

// filterCandidates parses the comma-separated list, filters by registry
// existence, then by the document-keyword heuristic.
func (r *ResearchLoop) filterCandidates(candidateList, objective string) []string {
	raw := strings.Split(candidateList, ",")
	lowerObjective := strings.ToLower(objective)
	mentionsDocument := containsAny(lowerObjective, documentKeywords)

	out := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.registry.Get(name); !ok {
			continue
		}
		if isDocumentLookupAgent(name) && !mentionsDocument {
			continue
		}
		out = append(out, name)
	}
	return out
}

// isDocumentLookupAgent uses the registered agent's name as a proxy for
// its domain, since the registry carries no formal capability taxonomy.
func isDocumentLookupAgent(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "document") || strings.Contains(lower, "rag") || strings.Contains(lower, "file")
}
