// Package agent runs the model/tool loop behind every mcpchat front-end.
//
// A query appends the user's text to a conversation, asks the model for a
// completion, and executes any tool requests in the reply. The results go back
// to the model, and the cycle repeats until the model answers without
// requesting tools or the round bound is reached.
//
// # Architecture
//
//   - Core agent (this package): the Agent type, ProcessQuery and the trace format
//   - Terminal subpackage (agent/terminal): the interactive console
//   - ACP subpackage (agent/acp): the Agent Client Protocol server for editors
//
// # Usage
//
//	a, err := agent.New(cfg, llmClient, usage.NewAccounting(), log)
//	if err != nil {
//	    // handle error
//	}
//
//	res, err := a.ProcessQuery(ctx, agent.Query{
//	    Text:    "list files",
//	    Tools:   descriptors,
//	    Session: router,
//	    Callbacks: agent.Callbacks{
//	        OnToolCall: func(req session.ToolRequest) { ... },
//	    },
//	})
//
// # Rounds
//
// Within a round every tool request runs concurrently. Results are collected
// in request order and appended as one tool_result message, so the model
// always sees one result per request. A failing tool becomes an error result
// and the loop continues. Only a failed model call ends the query with an
// error; the conversation is then truncated to where it was before the query.
//
// # Trace
//
// Result.Text joins, in order, every text fragment the model produced and two
// lines per tool call:
//
//	[Calling tool list_files with args {'directory': '.'}]
//	[Tool result: [FILE] a.txt]
//
// When the round bound is exhausted a final
// "[Warning: Reached maximum iterations (N)]" line is added.
//
// # Modes
//
//   - ModeAuto: tools run without confirmation
//   - ModePrompt: the front-end confirms each call through ShouldExecuteTool
//
// # Tool Verbosity
//
//   - ToolVerbosityNone: nothing about tool calls is shown
//   - ToolVerbosityInfo: tool names are shown
//   - ToolVerbosityAll: names, arguments and results are shown
package agent
