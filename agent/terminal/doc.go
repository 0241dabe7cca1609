// Package terminal implements the interactive console for mcpchat.
//
// Each input line is either a slash command or a query. Queries are passed to
// the agent, and its text is printed with a footer of query and session token
// counts and the session cost.
//
// # Usage
//
//	term := terminal.New(a, router, terminal.Options{
//	    In:      os.Stdin,
//	    Out:     os.Stdout,
//	    Pricing: cfg.Pricing,
//	})
//	err := term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - /quit, /q: exit
//   - /max_tokens [N]: show or change the completion token limit
//   - /multiline [on|off]: show or toggle multi-line input
//   - /reset: clear the conversation and session usage
//   - /tools: list the available tools
//   - /help: show the command list
//
// In multi-line mode lines are collected until an empty line sends them. A
// failed query discards the collected lines, prints one Error line and keeps
// the session running.
//
// # Modes
//
// In prompt mode each tool call is confirmed with y/n before it runs; a denied
// call is reported to the model as an error result. The agent's tool
// verbosity decides whether tool names, arguments and outputs are echoed as
// they happen.
package terminal
