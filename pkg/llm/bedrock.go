package llm

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/hashicorp/go-hclog"

	"github.com/netzbegruenung/Gruenerator-sub005/pkg/apperr"
)

// BedrockConverseAPI defines the interface for Bedrock Converse
// operations. This allows for testing with mocks.
type BedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client using the AWS Bedrock Converse API.
type BedrockClient struct {
	client BedrockConverseAPI
	logger hclog.Logger
}

// BedrockConfig holds configuration for the Bedrock client.
type BedrockConfig struct {
	Region string       // AWS region (default: us-east-1)
	Logger hclog.Logger // Logger (optional)
}

// NewBedrockClient creates a new AWS Bedrock client using credentials
// from the environment or instance profile.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, apperr.Wrap("bedrock.New", apperr.Permanent, err)
	}

	return &BedrockClient{
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: cfg.Logger.Named("bedrock-client"),
	}, nil
}

// Name returns the provider name.
func (c *BedrockClient) Name() string {
	return "bedrock"
}

// Complete runs one chat completion via the Converse API. Bedrock has
// no native JSON response mode; callers relying on Options.JSONMode
// must also instruct the model through the prompt.
func (c *BedrockClient) Complete(ctx context.Context, messages []Message, opts Options) (*Result, error) {
	const op = "bedrock.Complete"
	startTime := time.Now()

	model := opts.Model
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(model),
	}

	// The Converse API separates system blocks from the turn list.
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{
				Value: m.Content,
			})
		case RoleAssistant:
			input.Messages = append(input.Messages, types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: m.Content},
				},
			})
		default:
			input.Messages = append(input.Messages, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: m.Content},
				},
			})
		}
	}

	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{}
		if opts.MaxTokens > 0 {
			input.InferenceConfig.MaxTokens = aws.Int32(int32(opts.MaxTokens))
		}
		if opts.Temperature > 0 {
			input.InferenceConfig.Temperature = aws.Float32(float32(opts.Temperature))
		}
	}

	if len(opts.Tools) > 0 {
		toolConfig := &types.ToolConfiguration{}
		for _, t := range opts.Tools {
			toolConfig.Tools = append(toolConfig.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(t.Parameters),
					},
				},
			})
		}
		input.ToolConfig = toolConfig
	}

	c.logger.Debug("sending converse request",
		"model", model,
		"messages", len(input.Messages),
		"tools", len(opts.Tools),
	)

	resp, err := c.client.Converse(ctx, input)
	if err != nil {
		return nil, apperr.FromAWS(op, err)
	}

	if resp.Output == nil {
		return nil, apperr.New(op, apperr.Permanent, "no output in response")
	}
	message, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok || len(message.Value.Content) == 0 {
		return nil, apperr.New(op, apperr.Permanent, "no message content in response")
	}

	result := &Result{Model: model}
	for _, block := range message.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			if result.Content == "" {
				result.Content = b.Value
			} else {
				result.Content += "\n" + b.Value
			}
		case *types.ContentBlockMemberToolUse:
			args := map[string]interface{}{}
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
					return nil, apperr.Wrapf(op, apperr.Permanent, err,
						"malformed tool input for %q", aws.ToString(b.Value.Name))
				}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}

	if result.Content == "" && len(result.ToolCalls) == 0 {
		return nil, apperr.New(op, apperr.Permanent, "empty response")
	}

	if resp.Usage != nil && resp.Usage.TotalTokens != nil {
		result.TokensUsed = int(*resp.Usage.TotalTokens)
	}

	c.logger.Debug("converse finished",
		"model", model,
		"tokens_used", result.TokensUsed,
		"tool_calls", len(result.ToolCalls),
		"elapsed_ms", time.Since(startTime).Milliseconds(),
	)

	return result, nil
}
