package acp

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTools struct{}

func (fakeTools) Discover(ctx context.Context) ([]tools.Descriptor, error) {
	return []tools.Descriptor{{Name: "list_files"}}, nil
}

func (fakeTools) Invoke(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error) {
	return tools.Result{Success: true, Content: "[FILE] a.txt"}, nil
}

// testClient drives a server over pipes, one message at a time.
type testClient struct {
	t    *testing.T
	in   *io.PipeWriter
	out  *bufio.Scanner
	done chan error

	closeOnce sync.Once
	closeErr  error
}

func startServer(t *testing.T, client llm.Client) *testClient {
	t.Helper()
	a, err := agent.New(config.Default(), client, usage.NewAccounting(), zerolog.Nop())
	require.NoError(t, err)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := Run(context.Background(), a, fakeTools{}, inR, outW, zerolog.Nop())
		outW.Close()
		done <- err
	}()

	c := &testClient{t: t, in: inW, out: bufio.NewScanner(outR), done: done}
	t.Cleanup(func() { c.close() })
	return c
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.in, line+"\n")
	require.NoError(c.t, err)
}

func (c *testClient) send(id int, method string, params any) {
	c.t.Helper()
	data, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	require.NoError(c.t, err)
	c.sendRaw(string(data))
}

func (c *testClient) next() map[string]any {
	c.t.Helper()
	require.True(c.t, c.out.Scan(), "expected another message")
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(c.out.Bytes(), &msg))
	return msg
}

// collect reads messages until the response to id and returns the updates
// seen before it along with the response.
func (c *testClient) collect(id int) ([]map[string]any, map[string]any) {
	c.t.Helper()
	var updates []map[string]any
	for {
		msg := c.next()
		if msg["method"] == "session/update" {
			params := msg["params"].(map[string]any)
			updates = append(updates, params["update"].(map[string]any))
			continue
		}
		require.Equal(c.t, float64(id), msg["id"])
		return updates, msg
	}
}

func (c *testClient) newSession() string {
	c.t.Helper()
	c.send(1, "session/new", map[string]any{"cwd": "/tmp", "mcpServers": []any{}})
	_, resp := c.collect(1)
	result := resp["result"].(map[string]any)
	return result["sessionId"].(string)
}

func (c *testClient) close() error {
	c.closeOnce.Do(func() {
		c.in.Close()
		select {
		case c.closeErr = <-c.done:
		case <-time.After(5 * time.Second):
			c.closeErr = stderrors.New("server did not stop")
		}
	})
	return c.closeErr
}

func errorCode(t *testing.T, resp map[string]any) float64 {
	t.Helper()
	e, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected an error response, got %v", resp)
	return e["code"].(float64)
}

func TestInitialize(t *testing.T) {
	c := startServer(t, &llm.EchoClient{})
	c.send(0, "initialize", map[string]any{
		"protocolVersion":    1,
		"clientCapabilities": map[string]any{"fs": map[string]any{"readTextFile": true}},
	})

	_, resp := c.collect(0)
	result := resp["result"].(map[string]any)
	assert.Equal(t, float64(1), result["protocolVersion"])
	caps := result["agentCapabilities"].(map[string]any)
	assert.Equal(t, false, caps["loadSession"])
	assert.NoError(t, c.close())
}

func TestProtocolErrors(t *testing.T) {
	c := startServer(t, &llm.EchoClient{})

	c.sendRaw(`{not json`)
	resp := c.next()
	assert.Equal(t, float64(codeParseError), errorCode(t, resp))
	assert.Nil(t, resp["id"])

	c.send(2, "session/load", map[string]any{"sessionId": "sess_x"})
	_, resp = c.collect(2)
	assert.Equal(t, float64(codeMethodNotFound), errorCode(t, resp))

	c.send(3, "session/prompt", map[string]any{
		"sessionId": "sess_missing",
		"prompt":    []any{map[string]any{"type": "text", "text": "hi"}},
	})
	_, resp = c.collect(3)
	assert.Equal(t, float64(codeInvalidParams), errorCode(t, resp))

	// Notifications get no reply; the next request is still answered.
	c.sendRaw(`{"jsonrpc":"2.0","method":"session/cancel","params":{}}`)
	c.send(4, "initialize", map[string]any{"protocolVersion": 1})
	_, resp = c.collect(4)
	assert.NotNil(t, resp["result"])
}

func TestPromptStreamsUpdates(t *testing.T) {
	client := &llm.Scripted{Steps: []llm.Step{
		llm.Reply(usage.Usage{InputTokens: 100, OutputTokens: 20},
			session.ToolRequestBlock("toolu_1", "list_files", map[string]interface{}{"directory": "."})),
		llm.Reply(usage.Usage{InputTokens: 130, OutputTokens: 15}, session.TextBlock("Here are your files: a.txt")),
		llm.Reply(usage.Usage{InputTokens: 1, OutputTokens: 1}, session.TextBlock("Still a.txt")),
	}}
	c := startServer(t, client)
	sid := c.newSession()
	assert.True(t, strings.HasPrefix(sid, "sess_"))

	c.send(5, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []any{map[string]any{"type": "text", "text": "list files"}},
	})
	updates, resp := c.collect(5)

	require.Len(t, updates, 3)
	assert.Equal(t, "tool_call", updates[0]["sessionUpdate"])
	assert.Equal(t, "toolu_1", updates[0]["toolCall"].(map[string]any)["id"])
	assert.Equal(t, "tool_result", updates[1]["sessionUpdate"])
	toolResult := updates[1]["toolResult"].(map[string]any)
	assert.Equal(t, "[FILE] a.txt", toolResult["result"])
	assert.Equal(t, false, toolResult["isError"])
	assert.Equal(t, "agent_message_chunk", updates[2]["sessionUpdate"])
	assert.Equal(t, "Here are your files: a.txt", updates[2]["content"].(map[string]any)["text"])
	assert.Equal(t, "end_turn", resp["result"].(map[string]any)["stopReason"])

	// The session keeps its conversation for the next prompt.
	c.send(6, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []any{map[string]any{"type": "text", "text": "again"}},
	})
	_, resp = c.collect(6)
	assert.Equal(t, "end_turn", resp["result"].(map[string]any)["stopReason"])
	assert.Len(t, client.Requests()[2].Messages, 5)
}

func TestPromptRoundLimit(t *testing.T) {
	client := &llm.Scripted{
		Steps:  []llm.Step{llm.Reply(usage.Usage{}, session.ToolRequestBlock("loop", "list_files", nil))},
		Repeat: true,
	}
	c := startServer(t, client)
	sid := c.newSession()

	c.send(7, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []any{map[string]any{"type": "text", "text": "forever"}},
	})
	updates, resp := c.collect(7)
	assert.Len(t, updates, 20)
	assert.Equal(t, "max_turn_requests", resp["result"].(map[string]any)["stopReason"])
}

func TestPromptModelError(t *testing.T) {
	client := &llm.Scripted{Steps: []llm.Step{{Err: stderrors.New("overloaded")}}}
	c := startServer(t, client)
	sid := c.newSession()

	c.send(8, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []any{map[string]any{"type": "text", "text": "hi"}},
	})
	_, resp := c.collect(8)
	assert.Equal(t, float64(codeInternalError), errorCode(t, resp))
	assert.Contains(t, resp["error"].(map[string]any)["data"], "overloaded")
}

func TestExtractUserTextWithResourceLink(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "test.txt")
	testContent := "This is test file content"
	require.NoError(t, os.WriteFile(testFile, []byte(testContent), 0644))
	fileURI := "file://" + filepath.ToSlash(testFile)

	tests := []struct {
		name     string
		blocks   []contentBlock
		expected string
		contains []string
	}{
		{
			name: "text only",
			blocks: []contentBlock{
				{Type: "text", Text: "Hello"},
				{Type: "text", Text: "   "},
				{Type: "text", Text: "World"},
			},
			expected: "Hello\nWorld",
		},
		{
			name: "resource_link with file",
			blocks: []contentBlock{
				{Type: "text", Text: "Check this file:"},
				{
					Type:        "resource_link",
					URI:         fileURI,
					Name:        "test.txt",
					MimeType:    "text/plain",
					Title:       "Test File",
					Description: "A test file",
				},
			},
			contains: []string{
				"Check this file:",
				"=== Resource: test.txt ===",
				"Title: Test File",
				"Description: A test file",
				"URI: file://",
				"Type: text/plain",
				"--- File Contents ---",
				testContent,
				"--- End of File ---",
			},
		},
		{
			name: "missing file",
			blocks: []contentBlock{
				{Type: "resource_link", URI: "file://" + filepath.ToSlash(filepath.Join(dir, "nope.txt")), Name: "nope.txt"},
			},
			contains: []string{"[Error reading file:", "=== End Resource ==="},
		},
		{
			name: "resource_link with non-file URI",
			blocks: []contentBlock{
				{Type: "resource_link", URI: "https://example.com/file.txt", Name: "remote.txt"},
			},
			contains: []string{
				"=== Resource: remote.txt ===",
				"URI: https://example.com/file.txt",
				"[External resource - content not available]",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractUserText(tt.blocks)
			if tt.expected != "" {
				assert.Equal(t, tt.expected, result)
			}
			for _, substr := range tt.contains {
				assert.Contains(t, result, substr)
			}
		})
	}
}
