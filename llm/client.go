package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
)

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Request is one completion call.
type Request struct {
	Messages     []session.Message
	Tools        []tools.Descriptor
	SystemPrompt string
	MaxTokens    int64
}

// Response holds the assistant's content blocks in emission order.
type Response struct {
	Content    []session.ContentBlock
	Usage      usage.Usage
	StopReason string
}

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New builds the client named by provider ("anthropic", "bedrock", "openai",
// "gemini" or "mock").
func New(ctx context.Context, provider, model string) (Client, error) {
	switch provider {
	case "anthropic", "":
		return NewAnthropicClient(ctx, model)
	case "bedrock":
		return NewBedrockClient(ctx, model)
	case "openai":
		return NewOpenAIClient(ctx, model)
	case "gemini":
		return NewGeminiClient(ctx, model)
	case "mock":
		return &EchoClient{}, nil
	default:
		return nil, errors.Codef(errors.CodeConfiguration, "unknown llm client '%s'", provider)
	}
}

// parseArgs decodes a JSON tool-call argument object. Empty input is an empty
// mapping.
func parseArgs(raw []byte) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal tool call arguments")
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// schemaParts splits a JSON schema object into its properties and required
// list.
func schemaParts(schema map[string]interface{}) (map[string]interface{}, []string) {
	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
	}
	var required []string
	switch req := schema["required"].(type) {
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	case []string:
		required = append(required, req...)
	}
	return props, required
}

// objectSchema returns schema with "type" defaulted to "object".
func objectSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]interface{}{}
	}
	return out
}
