package session

import (
	"github.com/m4xw311/mcpchat/errors"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// BlockKind is the discriminator tag for ContentBlock.
type BlockKind string

const (
	KindText        BlockKind = "text"
	KindToolRequest BlockKind = "tool_request"
	KindToolResult  BlockKind = "tool_result"
)

// ToolRequest is a model-initiated tool invocation.
type ToolRequest struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult answers the ToolRequest with the same ID.
type ToolResult struct {
	RequestID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// ContentBlock is one element of a message. Exactly the field matching Kind
// is set.
type ContentBlock struct {
	Kind        BlockKind    `json:"type"`
	Text        string       `json:"text,omitempty"`
	ToolRequest *ToolRequest `json:"tool_request,omitempty"`
	ToolResult  *ToolResult  `json:"tool_result,omitempty"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: KindText, Text: text}
}

func ToolRequestBlock(id, name string, args map[string]interface{}) ContentBlock {
	if args == nil {
		args = map[string]interface{}{}
	}
	return ContentBlock{Kind: KindToolRequest, ToolRequest: &ToolRequest{ID: id, Name: name, Arguments: args}}
}

func ToolResultBlock(requestID, content string, isError bool) ContentBlock {
	return ContentBlock{Kind: KindToolResult, ToolResult: &ToolResult{RequestID: requestID, Content: content, IsError: isError}}
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage wraps plain text as a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// ToolRequests returns the tool-request blocks of m in emission order.
func (m Message) ToolRequests() []ToolRequest {
	var reqs []ToolRequest
	for _, b := range m.Content {
		if b.Kind == KindToolRequest && b.ToolRequest != nil {
			reqs = append(reqs, *b.ToolRequest)
		}
	}
	return reqs
}

// Text concatenates the text blocks of m.
func (m Message) Text() string {
	var s string
	for _, b := range m.Content {
		if b.Kind == KindText {
			s += b.Text
		}
	}
	return s
}

// Conversation is the ordered message history of one query or front-end
// session. It is not safe for concurrent use.
type Conversation struct {
	messages []Message
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{messages: []Message{}}
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int { return len(c.messages) }

// Last returns the newest message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Truncate drops every message after the first n.
func (c *Conversation) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(c.messages) {
		c.messages = c.messages[:n]
	}
}

// Reset discards the whole history.
func (c *Conversation) Reset() {
	c.messages = c.messages[:0]
}

// Validate checks request/result pairing: every assistant message with k tool
// requests is followed by exactly one tool_result message carrying k results
// in the same order, and no tool_result message appears anywhere else.
func (c *Conversation) Validate() error {
	for i, msg := range c.messages {
		switch msg.Role {
		case RoleAssistant:
			reqs := msg.ToolRequests()
			if len(reqs) == 0 {
				continue
			}
			if i+1 >= len(c.messages) {
				// Still waiting on the round's fan-in.
				continue
			}
			next := c.messages[i+1]
			if next.Role != RoleToolResult {
				return errors.New("message %d: %d tool request(s) not followed by a tool_result message", i, len(reqs))
			}
			if len(next.Content) != len(reqs) {
				return errors.New("message %d: expected %d tool results, got %d", i+1, len(reqs), len(next.Content))
			}
			for j, b := range next.Content {
				if b.Kind != KindToolResult || b.ToolResult == nil {
					return errors.New("message %d block %d: expected tool_result, got %s", i+1, j, b.Kind)
				}
				if b.ToolResult.RequestID != reqs[j].ID {
					return errors.New("message %d block %d: result for '%s' does not match request '%s'", i+1, j, b.ToolResult.RequestID, reqs[j].ID)
				}
			}
		case RoleToolResult:
			if i == 0 || len(c.messages[i-1].ToolRequests()) == 0 {
				return errors.New("message %d: tool_result message without preceding tool requests", i)
			}
		}
	}
	return nil
}
