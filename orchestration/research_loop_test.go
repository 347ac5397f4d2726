package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/orchestrator/registry"
	"github.com/relaymesh/orchestrator/transport"
)

func TestResearchLoopStopsOnCompletionSentinel(t *testing.T) {
	specialist := newJSONRPCSpecialist(t, "q3 revenue was $4.2M")
	defer specialist.Close()
	reg := newTestRegistry(t, "finance", specialist.URL)
	caller := NewSpecialistCaller(reg, transport.NewClient(5*time.Second, nil), testWrapper(), nil)

	coord := &fakeCoordinator{results: []CompletionResult{
		{FunctionCall: &FunctionCall{Name: "delegate", Arguments: `{"agent":"finance","task":"get q3 revenue"}`}},
		{Content: "FINAL RESEARCH FINDINGS: revenue was $4.2M in q3, up twelve percent year over year driven by strong enterprise renewals."},
	}}

	loop := NewResearchLoop(coord, caller, reg, 5, nil)
	final, specialists, err := loop.Run(context.Background(), "what was q3 revenue", "finance", RequestContext{})

	require.NoError(t, err)
	assert.Contains(t, final, "FINAL RESEARCH FINDINGS")
	require.Len(t, specialists, 1)
	assert.Equal(t, "finance", specialists[0].AgentName)
}

func TestResearchLoopExhaustsBudget(t *testing.T) {
	reg := registry.New(nil)
	caller := NewSpecialistCaller(reg, transport.NewClient(5*time.Second, nil), testWrapper(), nil)

	coord := &fakeCoordinator{results: []CompletionResult{{Content: "still thinking, not done yet, need more details to proceed further"}}}
	loop := NewResearchLoop(coord, caller, reg, 2, nil)

	final, _, err := loop.Run(context.Background(), "an open question", "", RequestContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, final)
	assert.Equal(t, 2, coord.calls)
}

func TestResearchLoopRespectsCancelledContext(t *testing.T) {
	reg := registry.New(nil)
	caller := NewSpecialistCaller(reg, transport.NewClient(5*time.Second, nil), testWrapper(), nil)
	coord := &fakeCoordinator{results: []CompletionResult{{Content: "x"}}}
	loop := NewResearchLoop(coord, caller, reg, 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := loop.Run(ctx, "objective", "", RequestContext{})
	assert.Error(t, err)
}

func TestResearchLoopHandlesDelegateErrorGracefully(t *testing.T) {
	reg := registry.New(nil) // no agents registered, delegate will fail
	caller := NewSpecialistCaller(reg, transport.NewClient(5*time.Second, nil), testWrapper(), nil)

	coord := &fakeCoordinator{results: []CompletionResult{
		{FunctionCall: &FunctionCall{Name: "delegate", Arguments: `{"agent":"ghost","task":"do it"}`}},
		{Content: "FINAL RESEARCH FINDINGS: could not find any specialist able to handle this objective after exhausting the candidate list."},
	}}
	loop := NewResearchLoop(coord, caller, reg, 5, nil)

	final, specialists, err := loop.Run(context.Background(), "objective", "ghost", RequestContext{})
	require.NoError(t, err)
	assert.Contains(t, final, "FINAL RESEARCH FINDINGS")
	assert.Empty(t, specialists)
}
