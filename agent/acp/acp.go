package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/rs/zerolog"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

const protocolVersion = 1

// maxInlineSize bounds how much of a linked file is inlined into a prompt.
const maxInlineSize = 50000

// Run starts the Agent Client Protocol server over the given streams and
// serves until in is exhausted or ctx is done. It implements:
//   - initialize
//   - session/new
//   - session/prompt (emits session/update notifications with
//     agent_message_chunk, tool_call and tool_result)
//
// Messages are newline-delimited JSON objects. Nothing but JSON-RPC messages
// is written to out.
func Run(ctx context.Context, a *agent.Agent, ts tools.Session, in io.Reader, out io.Writer, log zerolog.Logger) error {
	server := &acpServer{
		ctx:      ctx,
		agent:    a,
		tools:    ts,
		sessions: make(map[string]*acpSession),
		reader:   bufio.NewReader(in),
		writer:   bufio.NewWriter(out),
		log:      log.With().Str("component", "acp").Logger(),
	}

	server.log.Info().Msg("Starting ACP server")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := server.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				server.log.Info().Msg("Input closed, stopping ACP server")
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			return errors.Wrapf(err, "acp: read error")
		}
		if len(strings.TrimSpace(string(payload))) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			server.log.Warn().Err(err).Msg("Discarding malformed message")
			_ = server.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}
		if req.ID == nil && req.Method != "" {
			server.log.Debug().Str("method", req.Method).Msg("Ignoring client notification")
			continue
		}

		server.log.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("Dispatching request")
		switch req.Method {
		case "initialize":
			server.handleInitialize(&req)
		case "session/new":
			server.handleSessionNew(&req)
		case "session/prompt":
			server.handleSessionPrompt(&req)
		default:
			_ = server.writeResponseError(req.ID, codeMethodNotFound, "Method not found", req.Method)
		}
	}
}

// jsonrpcRequest represents a JSON-RPC 2.0 request message
type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// jsonrpcResponse represents a JSON-RPC 2.0 response message
type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

// jsonrpcError represents a JSON-RPC 2.0 error object
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// acpSession is one client session. Its conversation lives as long as the
// server process.
type acpSession struct {
	id   string
	cwd  string
	mu   sync.Mutex
	conv *session.Conversation
}

type acpServer struct {
	ctx   context.Context
	agent *agent.Agent
	tools tools.Session
	log   zerolog.Logger

	sessionsLock sync.Mutex
	sessions     map[string]*acpSession

	reader    *bufio.Reader
	writer    *bufio.Writer
	writeLock sync.Mutex
}

// readFramedMessage reads one newline-delimited payload. A final line without
// a trailing newline is still returned.
func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.reader.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

// writeFramedJSON serializes obj and writes it followed by a newline.
func (s *acpServer) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to serialize JSON-RPC message")
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *acpServer) writeResponseOK(id any, result any) error {
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *acpServer) writeResponseError(id any, code int, msg string, data any) error {
	s.log.Debug().Int("code", code).Str("message", msg).Interface("data", data).Msg("Sending error response")
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeNotification sends a JSON-RPC notification (request without an ID)
func (s *acpServer) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

func (s *acpServer) decodeParams(req *jsonrpcRequest, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

// handleInitialize answers with the protocol version and agent capabilities.
// Sessions are not persisted, so loadSession is false.
func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion int             `json:"protocolVersion"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	s.log.Info().Int("client_protocol_version", p.ProtocolVersion).Msg("Client initialized")

	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"agentCapabilities": map[string]any{
			"loadSession": false,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

// handleSessionNew creates a session with its own conversation.
func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		Cwd        string          `json:"cwd"`
		McpServers json.RawMessage `json:"mcpServers"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	if len(p.McpServers) > 0 && string(p.McpServers) != "[]" && string(p.McpServers) != "null" {
		s.log.Warn().Msg("Ignoring client-provided MCP servers; servers come from mcp.json")
	}

	sess := &acpSession{
		id:   "sess_" + uuid.NewString(),
		cwd:  p.Cwd,
		conv: session.New(),
	}
	s.sessionsLock.Lock()
	s.sessions[sess.id] = sess
	s.sessionsLock.Unlock()

	s.log.Info().Str("session_id", sess.id).Str("cwd", p.Cwd).Msg("Session created")
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sess.id})
}

// contentBlock is a prompt block. Only text and resource_link are used.
type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

// handleSessionPrompt runs one query in the session's conversation. Progress
// is streamed as session/update notifications; the response carries the stop
// reason.
func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if !s.decodeParams(req, &p) {
		return
	}

	s.sessionsLock.Lock()
	sess, ok := s.sessions[p.SessionID]
	s.sessionsLock.Unlock()
	if !ok {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	text := extractUserText(p.Prompt)
	if strings.TrimSpace(text) == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "prompt has no text")
		return
	}

	var descs []tools.Descriptor
	if s.tools != nil {
		var err error
		if descs, err = s.tools.Discover(s.ctx); err != nil {
			_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
			return
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	log := s.log.With().Str("session_id", sess.id).Logger()
	res, err := s.agent.ProcessQuery(s.ctx, agent.Query{
		Text:         text,
		Tools:        descs,
		Session:      s.tools,
		Conversation: sess.conv,
		Callbacks: agent.Callbacks{
			OnAssistantText: func(text string) {
				_ = s.sendAgentMessageChunk(sess.id, text)
			},
			OnToolCall: func(req session.ToolRequest) {
				_ = s.sendToolCallNotification(sess.id, req)
			},
			OnToolResult: func(req session.ToolRequest, result session.ToolResult) {
				_ = s.sendToolResultNotification(sess.id, result)
			},
			OnWarning: func(warning string) {
				log.Warn().Msg(warning)
			},
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("Prompt failed")
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}

	stopReason := "end_turn"
	if res.HitRoundLimit {
		stopReason = "max_turn_requests"
	}
	log.Info().
		Int("rounds", res.Rounds).
		Int64("input_tokens", res.Usage.InputTokens).
		Int64("output_tokens", res.Usage.OutputTokens).
		Str("stop_reason", stopReason).
		Msg("Prompt complete")
	_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": stopReason})
}

func (s *acpServer) sendToolCallNotification(sessionID string, req session.ToolRequest) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_call",
			"toolCall": map[string]any{
				"id":   req.ID,
				"name": req.Name,
				"args": req.Arguments,
			},
		},
	})
}

func (s *acpServer) sendToolResultNotification(sessionID string, result session.ToolResult) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": result.RequestID,
				"result":     result.Content,
				"isError":    result.IsError,
			},
		},
	})
}

// sendAgentMessageChunk streams assistant text to the client.
func (s *acpServer) sendAgentMessageChunk(sessionID, text string) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

// readFileFromURI reads the file behind a file:// URI.
func readFileFromURI(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if parsed.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", parsed.Scheme)
	}

	content, err := os.ReadFile(parsed.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}

// extractUserText joins the prompt blocks into one query. Linked files are
// inlined between resource markers.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxInlineSize {
				content = content[:maxInlineSize] + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}

	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}
