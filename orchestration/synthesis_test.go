package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeNoInputs(t *testing.T) {
	s := NewSynthesizer(&fakeCoordinator{}, nil)
	out, err := s.Synthesize(context.Background(), "q", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "No response generated", out)
}

func TestSynthesizeCoordinatorOnly(t *testing.T) {
	s := NewSynthesizer(&fakeCoordinator{}, nil)
	out, err := s.Synthesize(context.Background(), "q", "just a plain answer", nil)
	assert.NoError(t, err)
	assert.Equal(t, "just a plain answer", out)
}

func TestSynthesizeCoordinatorAlreadySynthesizing(t *testing.T) {
	s := NewSynthesizer(&fakeCoordinator{}, nil)
	longSynthesis := "based on the data shows from every specialist, the combined results confirm the invoice is resolved and the account is current as of today"
	specialists := []SpecialistResponse{{AgentName: "billing", Content: "invoice resolved"}}
	out, err := s.Synthesize(context.Background(), "q", longSynthesis, specialists)
	assert.NoError(t, err)
	assert.Equal(t, longSynthesis, out)
}

func TestSynthesizeSingleSpecialistNoCoordinator(t *testing.T) {
	s := NewSynthesizer(&fakeCoordinator{}, nil)
	specialists := []SpecialistResponse{{AgentName: "billing", Content: "billing: invoice #42 is paid"}}
	out, err := s.Synthesize(context.Background(), "q", "", specialists)
	assert.NoError(t, err)
	assert.Equal(t, "invoice #42 is paid", out)
}

func TestSynthesizeMultipleSpecialistsCallsModel(t *testing.T) {
	coord := &fakeCoordinator{results: []CompletionResult{{Content: "a synthesized answer combining both specialist findings into one coherent response"}}}
	s := NewSynthesizer(coord, nil)
	specialists := []SpecialistResponse{
		{AgentName: "billing", Content: "invoice paid"},
		{AgentName: "shipping", Content: "package shipped"},
	}
	out, err := s.Synthesize(context.Background(), "q", "", specialists)
	assert.NoError(t, err)
	assert.Equal(t, 1, coord.calls)
	assert.Contains(t, out, "synthesized answer")
}

func TestSynthesizeFallsBackWhenModelFails(t *testing.T) {
	s := NewSynthesizer(&failingCoordinator{}, nil)
	specialists := []SpecialistResponse{
		{AgentName: "billing", Content: "invoice paid"},
		{AgentName: "shipping", Content: "package shipped"},
	}
	out, err := s.Synthesize(context.Background(), "q", "", specialists)
	assert.NoError(t, err)
	assert.Contains(t, out, "invoice paid")
	assert.Contains(t, out, "package shipped")
}

func TestDedupeByAgent(t *testing.T) {
	in := []SpecialistResponse{
		{AgentName: "billing", Content: "first"},
		{AgentName: "billing", Content: "second"},
		{AgentName: "shipping", Content: "third"},
	}
	out := dedupeByAgent(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Content)
}

func TestStripAgentPrefixHandlesColonAndBracketForms(t *testing.T) {
	assert.Equal(t, "invoice paid", stripAgentPrefix("billing", "billing: invoice paid"))
	assert.Equal(t, "invoice paid", stripAgentPrefix("billing", "[billing] invoice paid"))
	assert.Equal(t, "invoice paid", stripAgentPrefix("billing", "invoice paid"))
}

func TestSynthesizeFallbackExcludesDeferralCoordinatorText(t *testing.T) {
	s := NewSynthesizer(&failingCoordinator{}, nil)
	specialists := []SpecialistResponse{
		{AgentName: "billing", Content: "invoice paid"},
		{AgentName: "shipping", Content: "package shipped"},
	}
	out, err := s.Synthesize(context.Background(), "q", "let me delegate this to the right specialist", specialists)
	assert.NoError(t, err)
	assert.NotContains(t, out, "let me delegate")
	assert.Contains(t, out, "invoice paid")
}

type failingCoordinator struct{}

func (f *failingCoordinator) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	return CompletionResult{}, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "model unavailable" }
