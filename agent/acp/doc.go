// Package acp implements the Agent Client Protocol (ACP) server for mcpchat.
// This lets editors such as Zed drive the agent by exchanging newline-delimited
// JSON-RPC messages over stdio.
//
// The server supports the following ACP methods:
//   - initialize: returns the protocol version and capabilities
//   - session/new: creates a session with its own conversation
//   - session/prompt: runs one query and returns its stop reason
//
// While a prompt runs, session/update notifications stream
// agent_message_chunk, tool_call and tool_result updates. A prompt that hits
// the round limit stops with max_turn_requests instead of end_turn. Sessions
// live only as long as the process; session/load is not offered.
package acp
