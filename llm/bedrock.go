package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/usage"
)

// BedrockClient is a client for the Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*bedrockruntime.Options)
	// Custom endpoint, useful for testing.
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg, opts...),
		modelID: modelID,
	}, nil
}

// Complete sends one request to the Anthropic model via AWS Bedrock.
func (b *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := createBedrockRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToBedrock converts our conversation to the Anthropic
// Messages JSON shape Bedrock expects.
func convertMessagesToBedrock(messages []session.Message) []map[string]interface{} {
	var out []map[string]interface{}
	for _, msg := range messages {
		var content []map[string]interface{}
		for _, b := range msg.Content {
			switch b.Kind {
			case session.KindText:
				if b.Text != "" {
					content = append(content, map[string]interface{}{"type": "text", "text": b.Text})
				}
			case session.KindToolRequest:
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    b.ToolRequest.ID,
					"name":  b.ToolRequest.Name,
					"input": b.ToolRequest.Arguments,
				})
			case session.KindToolResult:
				content = append(content, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": b.ToolResult.RequestID,
					"content":     b.ToolResult.Content,
					"is_error":    b.ToolResult.IsError,
				})
			}
		}
		if len(content) == 0 {
			continue
		}

		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "assistant"
		}
		out = append(out, map[string]interface{}{"role": role, "content": content})
	}
	return out
}

// createBedrockRequest creates the request body for Anthropic models on Bedrock.
func createBedrockRequest(req Request) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        req.MaxTokens,
		"messages":          convertMessagesToBedrock(req.Messages),
	}

	if req.SystemPrompt != "" {
		request["system"] = req.SystemPrompt
	}

	if len(req.Tools) > 0 {
		ts := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			ts = append(ts, map[string]interface{}{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": objectSchema(t.InputSchema),
			})
		}
		request["tools"] = ts
	}

	return json.Marshal(request)
}

type bedrockResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error interface{} `json:"error"`
}

// processBedrockResponse converts a Bedrock response body into content blocks.
func processBedrockResponse(body []byte) (*Response, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}

	if resp.Error != nil {
		return nil, errors.New("Bedrock API error: %v", resp.Error)
	}

	out := &Response{
		Usage:      usage.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		StopReason: resp.StopReason,
	}
	for i, item := range resp.Content {
		switch item.Type {
		case "text":
			out.Content = append(out.Content, session.TextBlock(item.Text))
		case "tool_use":
			args, err := parseArgs(item.Input)
			if err != nil {
				return nil, errors.Wrapf(err, "tool call '%s'", item.Name)
			}
			id := item.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, item.Name)
			}
			out.Content = append(out.Content, session.ToolRequestBlock(id, item.Name, args))
		}
	}
	return out, nil
}
