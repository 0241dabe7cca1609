package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient is a client for the OpenAI Chat Completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAIClient(ctx context.Context, modelName string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.Codef(errors.CodeConfiguration, "OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c, model: modelName}, nil
}

// Complete sends one request to OpenAI.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenAI(req.SystemPrompt, req.Messages),
		Tools:    convertToolsToOpenAI(req.Tools),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return processOpenAIResponse(resp)
}

// processOpenAIResponse converts an OpenAI API response into content blocks.
// OpenAI returns the text before the tool calls.
func processOpenAIResponse(resp *openai.ChatCompletion) (*Response, error) {
	out := &Response{
		Usage: usage.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		StopReason: StopEndTurn,
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	out.StopReason = openAIStopReason(choice.FinishReason)

	if choice.Message.Content != "" {
		out.Content = append(out.Content, session.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		// Arguments are a JSON string; we expect it to be a flat map of arguments.
		args, err := parseArgs([]byte(tc.Function.Arguments))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
		}
		out.Content = append(out.Content, session.ToolRequestBlock(tc.ID, tc.Function.Name, args))
	}
	return out, nil
}

func openAIStopReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// convertMessagesToOpenAI converts our conversation to OpenAI's. Every tool
// result becomes its own "tool" role message.
func convertMessagesToOpenAI(systemPrompt string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, req := range msg.ToolRequests() {
				argsBytes, err := json.Marshal(req.Arguments)
				if err != nil {
					argsBytes = []byte("{}")
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   req.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      req.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleToolResult:
			for _, b := range msg.Content {
				if b.Kind != session.KindToolResult {
					continue
				}
				chatMessages = append(chatMessages, openai.ToolMessage(b.ToolResult.Content, b.ToolResult.RequestID))
			}
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Text()))
		}
	}
	return chatMessages
}

// convertToolsToOpenAI converts descriptors to the OpenAI tool format.
func convertToolsToOpenAI(ts []tools.Descriptor) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		def := openai.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: openai.FunctionParameters(objectSchema(t.InputSchema)),
		}
		if t.Description != "" {
			def.Description = openai.String(t.Description)
		}
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(def))
	}
	return openAITools
}
