package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// conn is the part of *mcpsdk.ClientSession the client uses.
type conn interface {
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

// Client manages the connection to a single MCP server subprocess and serves
// its tools as a tools.Session.
type Client struct {
	Name string

	log zerolog.Logger
	cmd *exec.Cmd

	mu         sync.Mutex
	conn       conn
	closed     bool
	discovered bool
	tools      []tools.Descriptor
}

// Connect starts the MCP server subprocess and runs the initialize handshake.
func Connect(ctx context.Context, server config.MCPServer, log zerolog.Logger) (*Client, error) {
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	if len(server.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range server.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcpchat", Version: "v1.0.0"}, nil)
	session, err := impl.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Coded(err, errors.CodeSessionUnavailable, "failed to connect to MCP server '%s'", server.Name)
	}

	c := newClient(server.Name, session, log)
	c.cmd = cmd
	c.log.Info().Str("command", server.Command).Msg("Connected to MCP server")
	return c, nil
}

func newClient(name string, cn conn, log zerolog.Logger) *Client {
	return &Client{
		Name: name,
		conn: cn,
		log:  log.With().Str("mcp_server", name).Logger(),
	}
}

// Discover lists the server's tools, following pagination. The list is
// fetched once per connection.
func (c *Client) Discover(ctx context.Context) ([]tools.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.Codef(errors.CodeSessionUnavailable, "MCP server '%s' is closed", c.Name)
	}
	if !c.discovered {
		var descs []tools.Descriptor
		params := &mcpsdk.ListToolsParams{}
		for {
			page, err := c.conn.ListTools(ctx, params)
			if err != nil {
				return nil, errors.Coded(err, errors.CodeSessionUnavailable, "failed to list tools from MCP server '%s'", c.Name)
			}
			for _, t := range page.Tools {
				descs = append(descs, tools.Descriptor{
					Name:        t.Name,
					Description: t.Description,
					InputSchema: schemaToMap(t.InputSchema),
				})
			}
			if page.NextCursor == "" {
				break
			}
			params.Cursor = page.NextCursor
		}
		c.tools = descs
		c.discovered = true
		c.log.Info().Int("tools", len(descs)).Msg("Discovered MCP tools")
	}

	out := make([]tools.Descriptor, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// Invoke calls one tool. Protocol errors are reported as failed results;
// only a closed client returns an error.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error) {
	c.mu.Lock()
	cn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return tools.Result{}, errors.Codef(errors.CodeSessionUnavailable, "MCP server '%s' is closed", c.Name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := cn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		c.log.Debug().Err(err).Str("tool", name).Msg("MCP tool call failed")
		return tools.Failure("Tool execution error: "+err.Error(), err.Error()), nil
	}

	text := resultText(result.Content)
	if result.IsError {
		return tools.Failure(text, "tool returned error"), nil
	}
	return tools.Result{Success: true, Content: text}, nil
}

// Close ends the session and terminates the server subprocess.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil && c.cmd.ProcessState == nil {
		c.log.Info().Msg("Terminating MCP server")
		c.cmd.Process.Kill()
	}
	return err
}

func resultText(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "")
}

// schemaToMap turns whatever schema representation the SDK hands out into a
// plain JSON object. A missing schema becomes an empty object schema.
func schemaToMap(schema interface{}) map[string]interface{} {
	empty := map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	if schema == nil {
		return empty
	}
	if m, ok := schema.(map[string]interface{}); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return empty
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return empty
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}
