package llm

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
// ANTHROPIC_BASE_URL points it at a compatible endpoint.
func NewAnthropicClient(ctx context.Context, modelName string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.Codef(errors.CodeConfiguration, "ANTHROPIC_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("ANTHROPIC_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		client: &client,
		model:  modelName,
	}, nil
}

// Complete sends one request to the Anthropic API.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: req.MaxTokens,
		Messages:  convertMessagesToAnthropic(req.Messages),
		Tools:     convertToolsToAnthropic(req.Tools),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropic converts our conversation to Anthropic's format.
// Tool results travel as a user message of tool_result blocks.
func convertMessagesToAnthropic(messages []session.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Kind {
			case session.KindText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case session.KindToolRequest:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ToolRequest.ID,
						Name:  b.ToolRequest.Name,
						Input: b.ToolRequest.Arguments,
					},
				})
			case session.KindToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResult.RequestID, b.ToolResult.Content, b.ToolResult.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case session.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case session.RoleUser, session.RoleToolResult:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// convertToolsToAnthropic maps descriptors to Anthropic tool params. The SDK
// wants properties and required split out of the schema object.
func convertToolsToAnthropic(ts []tools.Descriptor) []anthropic.ToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(ts))
	for _, t := range ts {
		props, required := schemaParts(t.InputSchema)
		tool := anthropic.ToolParam{
			Name:        t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: props, Required: required},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// processAnthropicResponse converts an Anthropic API response into content
// blocks, keeping their order.
func processAnthropicResponse(resp *anthropic.Message) (*Response, error) {
	out := &Response{
		Usage: usage.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		StopReason: string(resp.StopReason),
	}

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content = append(out.Content, session.TextBlock(c.Text))
		case anthropic.ToolUseBlock:
			args, err := parseArgs(c.Input)
			if err != nil {
				return nil, errors.Wrapf(err, "tool call '%s'", c.Name)
			}
			out.Content = append(out.Content, session.ToolRequestBlock(c.ID, c.Name, args))
		}
	}
	return out, nil
}
