package orchestration

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBedrockMessagesMapsRoles(t *testing.T) {
	req := CompletionRequest{Messages: []Message{
		{Role: RoleUser, Content: "what's the status"},
		{Role: RoleAssistant, Content: "checking now"},
		{Role: RoleTool, AgentName: "billing", Content: "invoice paid"},
	}}
	out := buildBedrockMessages(req)
	require.Len(t, out, 3)
	assert.Equal(t, types.ConversationRoleUser, out[0].Role)
	assert.Equal(t, types.ConversationRoleAssistant, out[1].Role)
	assert.Equal(t, types.ConversationRoleUser, out[2].Role, "bedrock's Converse API has no tool role, so tool messages fall back to user")
}

func TestBuildBedrockToolsEmptyWhenNoFunctions(t *testing.T) {
	assert.Nil(t, buildBedrockTools(nil))
}

func TestBuildBedrockToolsConvertsFunctionSpecs(t *testing.T) {
	funcs := []FunctionSpec{{Name: "delegate", Description: "delegate work", Parameters: map[string]interface{}{"type": "object"}}}
	tools := buildBedrockTools(funcs)
	require.Len(t, tools, 1)
	spec, ok := tools[0].(*types.ToolMemberToolSpec)
	require.True(t, ok)
	assert.Equal(t, "delegate", *spec.Value.Name)
}

func TestDocumentRawMarshalsUnderlyingValue(t *testing.T) {
	d := document{v: map[string]string{"agent": "billing"}}
	assert.Contains(t, d.raw(), `"agent"`)
}

func TestDocumentUnmarshalSmithyDocumentRoundTrips(t *testing.T) {
	d := document{v: map[string]interface{}{"agent": "billing", "count": 3}}
	var out map[string]interface{}
	require.NoError(t, d.UnmarshalSmithyDocument(&out))
	assert.Equal(t, "billing", out["agent"])
}
