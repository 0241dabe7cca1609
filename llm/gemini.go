package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
	"google.golang.org/api/option"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.Codef(errors.CodeConfiguration, "GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{client: client, model: modelName}, nil
}

// Complete sends one request to the Gemini API on a fresh model handle.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := g.client.GenerativeModel(g.model)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.SystemPrompt != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemPrompt))
	}
	model.Tools = convertToolsToGemini(req.Tools)

	history := convertMessagesToGemini(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("no messages to send to Gemini")
	}

	// The last message is the new prompt.
	last := history[len(history)-1]
	chat := model.StartChat()
	chat.History = history[:len(history)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	return processGeminiResponse(resp)
}

// convertMessagesToGemini converts our conversation to Gemini contents.
// Gemini answers function calls by name, so request ids are mapped back to
// tool names for the function responses.
func convertMessagesToGemini(messages []session.Message) []*genai.Content {
	names := make(map[string]string)
	var contents []*genai.Content

	for _, msg := range messages {
		var parts []genai.Part
		for _, b := range msg.Content {
			switch b.Kind {
			case session.KindText:
				if b.Text != "" {
					parts = append(parts, genai.Text(b.Text))
				}
			case session.KindToolRequest:
				names[b.ToolRequest.ID] = b.ToolRequest.Name
				parts = append(parts, genai.FunctionCall{Name: b.ToolRequest.Name, Args: b.ToolRequest.Arguments})
			case session.KindToolResult:
				response := map[string]any{"content": b.ToolResult.Content}
				if b.ToolResult.IsError {
					response["error"] = true
				}
				parts = append(parts, genai.FunctionResponse{Name: names[b.ToolResult.RequestID], Response: response})
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGemini converts descriptors to Gemini function declarations.
func convertToolsToGemini(ts []tools.Descriptor) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	funcDecls := make([]*genai.FunctionDeclaration, 0, len(ts))
	for _, t := range ts {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  jsonSchemaToGemini(objectSchema(t.InputSchema)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// jsonSchemaToGemini translates the JSON schema subset Gemini understands.
func jsonSchemaToGemini(schema map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}
	switch schema["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if d, ok := schema["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, v := range enum {
			s.Enum = append(s.Enum, fmt.Sprint(v))
		}
	}

	props, required := schemaParts(schema)
	if s.Type == genai.TypeObject {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if p, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = jsonSchemaToGemini(p)
			}
		}
		s.Required = required
	}
	if items, ok := schema["items"].(map[string]interface{}); ok && s.Type == genai.TypeArray {
		s.Items = jsonSchemaToGemini(items)
	}
	return s
}

// processGeminiResponse converts a Gemini response into content blocks.
// Gemini has no call ids, so ids are synthesized from the position and name.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	out := &Response{StopReason: StopEndTurn}
	if resp.UsageMetadata != nil {
		out.Usage = usage.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopMaxTokens
	}
	for i, part := range cand.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			out.Content = append(out.Content, session.TextBlock(string(v)))
		case genai.FunctionCall:
			out.Content = append(out.Content, session.ToolRequestBlock(fmt.Sprintf("call_%d_%s", i, v.Name), v.Name, v.Args))
			out.StopReason = StopToolUse
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return out, nil
}
