package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaymesh/orchestrator/core"
)

// SpecialistResponse is one specialist's contribution, captured during
// delegation/collaboration/research for the final synthesis step.
type SpecialistResponse struct {
	AgentName string
	Content   string
}

// Synthesizer implements C8: merging captured specialist responses and
// the last substantive Coordinator response into one final string, using
// an LLM-prompt/template/simple strategy ladder narrowed to a fixed
// four-rule selection order.
type Synthesizer struct {
	coordinator Coordinator
	log         core.Logger
}

// NewSynthesizer constructs a Synthesizer.
func NewSynthesizer(coordinator Coordinator, log core.Logger) *Synthesizer {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &Synthesizer{coordinator: coordinator, log: log}
}

// Synthesize applies the selection rules in order, first match wins,
// with a fallback concatenation when the LLM path fails or is too
// short.
func (s *Synthesizer) Synthesize(ctx context.Context, question, coordinatorResponse string, specialists []SpecialistResponse) (string, error) {
	deduped := dedupeByAgent(specialists)

	// Rule 1: no inputs at all.
	if coordinatorResponse == "" && len(deduped) == 0 {
		return "No response generated", nil
	}

	// Rule 2: only a Coordinator response, or one that already shows
	// synthesis indicators and is long enough.
	if len(deduped) == 0 {
		return coordinatorResponse, nil
	}
	if coordinatorResponse != "" && len(coordinatorResponse) > 80 && containsAny(strings.ToLower(coordinatorResponse), synthesisPhrases) {
		return coordinatorResponse, nil
	}

	// Rule 3: exactly one specialist response and no Coordinator response.
	if len(deduped) == 1 && coordinatorResponse == "" {
		return stripAgentPrefix(deduped[0].AgentName, deduped[0].Content), nil
	}

	// Rule 4: multiple specialist responses, or a mix of specialist +
	// Coordinator — call the model.
	text, err := s.synthesizeWithModel(ctx, question, coordinatorResponse, deduped)
	if err != nil || len(strings.TrimSpace(text)) < 20 {
		if err != nil {
			s.log.Warn("synthesis model call failed, using fallback", map[string]interface{}{"error": err.Error()})
		}
		return s.fallback(coordinatorResponse, deduped), nil
	}
	return text, nil
}

func dedupeByAgent(specialists []SpecialistResponse) []SpecialistResponse {
	seen := map[string]bool{}
	out := make([]SpecialistResponse, 0, len(specialists))
	for _, r := range specialists {
		if seen[r.AgentName] {
			continue
		}
		seen[r.AgentName] = true
		out = append(out, r)
	}
	return out
}

func stripAgentPrefix(agentName, content string) string {
	prefix := agentName + ":"
	if strings.HasPrefix(content, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(content, prefix))
	}
	bracketPrefix := "[" + agentName + "]"
	if strings.HasPrefix(content, bracketPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(content, bracketPrefix))
	}
	return content
}

// isDeferral reports a Coordinator message that merely hands off rather
// than contributing substantive content, excluded from the fallback
// concatenation.
func isDeferral(content string) bool {
	lower := strings.ToLower(content)
	return containsAny(lower, delegationPhrases) || containsAny(lower, progressPhrases)
}

func (s *Synthesizer) fallback(coordinatorResponse string, specialists []SpecialistResponse) string {
	var parts []string
	if coordinatorResponse != "" && !isDeferral(coordinatorResponse) {
		parts = append(parts, coordinatorResponse)
	}
	for _, r := range specialists {
		parts = append(parts, stripAgentPrefix(r.AgentName, r.Content))
	}
	if len(parts) == 0 {
		return "No response generated"
	}
	return strings.Join(parts, "\n\n")
}

func (s *Synthesizer) synthesizeWithModel(ctx context.Context, question, coordinatorResponse string, specialists []SpecialistResponse) (string, error) {
	var b strings.Builder
	b.WriteString("Original question: ")
	b.WriteString(question)
	b.WriteString("\n\nSpecialist responses:\n")
	for _, r := range specialists {
		b.WriteString(fmt.Sprintf("**%s**: %s\n\n", r.AgentName, r.Content))
	}
	if coordinatorResponse != "" {
		b.WriteString("Coordinator context: ")
		b.WriteString(coordinatorResponse)
		b.WriteString("\n\n")
	}
	b.WriteString("Combine the above into one direct answer. Deduplicate overlapping information, ")
	b.WriteString("add connective context, and lead with a direct answer to the original question. ")
	b.WriteString("Do not name the specialist agents in your output.")

	result, err := s.coordinator.Complete(ctx, CompletionRequest{
		SystemPrompt: "You synthesize multiple specialist responses into one coherent answer for the user.",
		Messages:     []Message{{Role: RoleUser, Content: b.String()}},
		Temperature:  0.5,
		MaxTokens:    1500,
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
