package orchestration

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/relaymesh/orchestrator/core"
	"github.com/relaymesh/orchestrator/resilience"
)

// BedrockCoordinator implements Coordinator against AWS Bedrock's
// Converse API, using its message/system/inference-config construction
// generalized to the Converse API's tool-use fields for structured-output
// function calling (see DESIGN.md DOMAIN STACK).
type BedrockCoordinator struct {
	client  *bedrockruntime.Client
	modelID string
	wrapper *resilience.CallWrapper
	log     core.Logger
}

// NewBedrockCoordinator constructs a coordinator from a core.ModelConfig
// whose Region/Name select the Bedrock model ID, loading AWS credentials
// from the default provider chain.
func NewBedrockCoordinator(ctx context.Context, cfg core.ModelConfig, wrapper *resilience.CallWrapper, log core.Logger) (*BedrockCoordinator, error) {
	if log == nil {
		log = &core.NoOpLogger{}
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, core.NewFrameworkError("NewBedrockCoordinator", core.KindInternal, err)
	}
	return &BedrockCoordinator{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: cfg.Name,
		wrapper: wrapper,
		log:     log,
	}, nil
}

// Complete implements Coordinator.Complete via the Converse API, routed
// through the resilience.CallWrapper like the OpenAI backend.
func (c *BedrockCoordinator) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	optimizedMessages, truncated := optimizeMessages(req.SystemPrompt, req.Messages, defaultContextCeiling)
	req.Messages = optimizedMessages

	messages := buildBedrockMessages(req)
	estimate := estimateRequestTokens(req)
	if risk := resilience.AssessRisk(estimate, c.wrapper.Usage().RecentTruncationRate()); risk == resilience.RiskHigh {
		c.log.WarnWithContext(ctx, "coordinator call is high token risk, consider splitting", map[string]interface{}{"estimated_tokens": estimate})
	}

	result, err := c.wrapper.Execute(ctx, "coordinator.complete", estimate, func(ctx context.Context) (interface{}, int, bool, error) {
		input := &bedrockruntime.ConverseInput{
			ModelId:  aws.String(c.modelID),
			Messages: messages,
		}
		if req.SystemPrompt != "" {
			input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}}
		}
		inference := &types.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			inference.MaxTokens = aws.Int32(int32(req.MaxTokens))
		}
		if req.Temperature > 0 {
			inference.Temperature = aws.Float32(req.Temperature)
		}
		input.InferenceConfig = inference

		if tools := buildBedrockTools(req.Functions); len(tools) > 0 {
			input.ToolConfig = &types.ToolConfiguration{Tools: tools}
		}

		out, err := c.client.Converse(ctx, input)
		if err != nil {
			return nil, 0, truncated, err
		}

		cr := CompletionResult{}
		if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
			for _, block := range msg.Value.Content {
				switch b := block.(type) {
				case *types.ContentBlockMemberText:
					cr.Content += b.Value
				case *types.ContentBlockMemberToolUse:
					args, _ := b.Value.Input.(document)
					cr.FunctionCall = &FunctionCall{Name: aws.ToString(b.Value.Name), Arguments: args.raw()}
				}
			}
		}
		tokens := 0
		if out.Usage != nil {
			tokens = int(aws.ToInt32(out.Usage.TotalTokens))
		}
		return cr, tokens, truncated, nil
	})
	if err != nil {
		return CompletionResult{}, err
	}
	return result.(CompletionResult), nil
}

func buildBedrockMessages(req CompletionRequest) []types.Message {
	out := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func buildBedrockTools(funcs []FunctionSpec) []types.Tool {
	if len(funcs) == 0 {
		return nil
	}
	tools := make([]types.Tool, 0, len(funcs))
	for _, f := range funcs {
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(f.Name),
				Description: aws.String(f.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document{v: f.Parameters}},
			},
		})
	}
	return tools
}

// document adapts a plain map to the bedrockruntime smithy Document
// interface minimally needed by ToolInputSchemaMemberJson/ContentBlockMemberToolUse.
type document struct {
	v interface{}
}

func (d document) raw() string {
	b, _ := json.Marshal(d.v)
	return string(b)
}

func (d document) UnmarshalSmithyDocument(v interface{}) error {
	b, err := json.Marshal(d.v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (d document) MarshalSmithyDocument() ([]byte, error) {
	return json.Marshal(d.v)
}
