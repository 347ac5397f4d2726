package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaymesh/orchestrator/core"
)

// delegationPhrases trigger immediate continuation when found in the
// Coordinator's last message.
var delegationPhrases = []string{"let me", "i'll", "need to"}

// progressPhrases indicate work-in-progress narration.
var progressPhrases = []string{"retrieving", "calculating", "waiting for"}

// synthesisPhrases indicate the Coordinator is referencing accumulated
// specialist findings.
var synthesisPhrases = []string{"based on", "the data shows", "combining", "in summary", "findings show", "analysis reveals"}

// ackWords are data-acknowledgement terms a COMPLETE verdict must contain
// when specialists have produced output.
var ackWords = []string{"data", "result", "finding", "information", "calculation", "query", "analysis"}

const (
	minCoordinatorMessageLength = 80
	minCompleteMessageLength    = 50
	defaultIterationCap         = 12
)

// TerminationDecision is C5's binary output.
type TerminationDecision string

const (
	DecisionContinue TerminationDecision = "continue"
	DecisionStop     TerminationDecision = "stop"
)

// TerminationStrategy decides whether a group conversation may end. Only
// the "coordinator has final authority" variant is implemented, per the
// Open Question decision recorded in DESIGN.md.
type TerminationStrategy struct {
	coordinator  Coordinator
	iterationCap int
	log          core.Logger
}

// NewTerminationStrategy constructs a strategy with the given safety cap
// (this runtime defaults to 12 to match C7's max_rounds).
func NewTerminationStrategy(coordinator Coordinator, iterationCap int, log core.Logger) *TerminationStrategy {
	if iterationCap <= 0 {
		iterationCap = defaultIterationCap
	}
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &TerminationStrategy{coordinator: coordinator, iterationCap: iterationCap, log: log}
}

// ShouldStop runs the full decision sequence: preconditions,
// immediate-continuation triggers, model-assisted decision with override,
// and the iteration-cap safety termination.
func (t *TerminationStrategy) ShouldStop(ctx context.Context, history []Message, userQuestion string, iteration int) TerminationDecision {
	if iteration >= t.iterationCap {
		return DecisionStop
	}

	if !preconditionsMet(history) {
		return DecisionContinue
	}

	last := lastCoordinatorMessage(history)
	specialistOutputs := specialistMessages(history)

	if trigger, reason := immediateContinuation(last.Content, specialistOutputs); trigger {
		t.log.Debug("termination: immediate continuation trigger", map[string]interface{}{"reason": reason})
		return DecisionContinue
	}

	verdict, err := t.askModel(ctx, userQuestion, last.Content, specialistOutputs)
	if err != nil {
		t.log.Warn("termination: model-assisted decision failed, continuing", map[string]interface{}{"error": err.Error()})
		return DecisionContinue
	}

	if verdict != "COMPLETE" {
		return DecisionContinue
	}

	if len(last.Content) < minCompleteMessageLength {
		return DecisionContinue
	}
	if !containsAny(strings.ToLower(last.Content), ackWords) {
		return DecisionContinue
	}
	return DecisionStop
}

// preconditionsMet checks the "even consider stopping" gate: at least one
// user and one assistant message, and the most recent message is from
// the Coordinator.
func preconditionsMet(history []Message) bool {
	var hasUser, hasAssistant bool
	for _, m := range history {
		if m.Role == RoleUser {
			hasUser = true
		}
		if m.Role == RoleAssistant && m.AgentName == "" {
			hasAssistant = true
		}
	}
	if !hasUser || !hasAssistant {
		return false
	}
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	return last.Role == RoleAssistant && last.AgentName == ""
}

func lastCoordinatorMessage(history []Message) Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant && history[i].AgentName == "" {
			return history[i]
		}
	}
	return Message{}
}

func specialistMessages(history []Message) []Message {
	var out []Message
	for _, m := range history {
		if m.Role == RoleTool || (m.Role == RoleAssistant && m.AgentName != "") {
			out = append(out, m)
		}
	}
	return out
}

// immediateContinuation evaluates four no-model-needed triggers in order;
// the first that fires wins.
func immediateContinuation(lastMessage string, specialistOutputs []Message) (bool, string) {
	lower := strings.ToLower(lastMessage)

	if containsAny(lower, delegationPhrases) || mentionsAnySpecialist(lower, specialistOutputs) {
		return true, "delegation phrase"
	}
	if containsAny(lower, progressPhrases) {
		return true, "work in progress"
	}
	if len(lastMessage) < minCoordinatorMessageLength {
		return true, "message too short"
	}
	if len(specialistOutputs) > 0 && !referencesFindings(lower, specialistOutputs) {
		return true, "does not reference specialist findings"
	}
	return false, ""
}

func mentionsAnySpecialist(lowerMessage string, specialistOutputs []Message) bool {
	seen := map[string]bool{}
	for _, m := range specialistOutputs {
		name := strings.ToLower(m.AgentName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if strings.Contains(lowerMessage, name) {
			return true
		}
	}
	return false
}

func referencesFindings(lowerMessage string, specialistOutputs []Message) bool {
	if mentionsAnySpecialist(lowerMessage, specialistOutputs) {
		return true
	}
	return containsAny(lowerMessage, synthesisPhrases)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// askModel runs the binary model-assisted decision.
func (t *TerminationStrategy) askModel(ctx context.Context, question, candidateFinal string, specialistOutputs []Message) (string, error) {
	var b strings.Builder
	b.WriteString("User question: ")
	b.WriteString(question)
	b.WriteString("\n\nCandidate final message from the coordinator:\n")
	b.WriteString(candidateFinal)
	if len(specialistOutputs) > 0 {
		b.WriteString("\n\nSpecialist responses so far:\n")
		for _, m := range specialistOutputs {
			b.WriteString(fmt.Sprintf("- %s: %s\n", m.AgentName, m.Content))
		}
	}
	b.WriteString("\n\nIs this conversation complete? Reply with exactly one word: COMPLETE or CONTINUE.")

	result, err := t.coordinator.Complete(ctx, CompletionRequest{
		SystemPrompt: "You judge whether a multi-agent conversation has produced a complete answer.",
		Messages:     []Message{{Role: RoleUser, Content: b.String()}},
		Temperature:  0,
		MaxTokens:    10,
	})
	if err != nil {
		return "", err
	}
	verdict := strings.ToUpper(strings.TrimSpace(result.Content))
	if strings.Contains(verdict, "COMPLETE") {
		return "COMPLETE", nil
	}
	return "CONTINUE", nil
}
