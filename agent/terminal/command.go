package terminal

import (
	"fmt"
	"strings"
)

// CommandKind identifies what a line of input asks for.
type CommandKind int

const (
	CommandQuery CommandKind = iota
	CommandQuit
	CommandConfigChange
	CommandReset
	CommandTools
	CommandHelp
)

// Command is a parsed input line. Key and Value are set for
// CommandConfigChange; Value is empty when no argument was given. Text holds
// the raw line for CommandQuery.
type Command struct {
	Kind  CommandKind
	Key   string
	Value string
	Text  string
}

// ParseCommand classifies one input line. Slash commands are matched case
// insensitively; any other line is a query.
func ParseCommand(line string) Command {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "/quit", "/q", "/exit":
		return Command{Kind: CommandQuit}
	case "/reset":
		return Command{Kind: CommandReset}
	case "/tools":
		return Command{Kind: CommandTools}
	case "/help", "/?":
		return Command{Kind: CommandHelp}
	}

	if parts := strings.Fields(trimmed); len(parts) > 0 {
		switch name := strings.ToLower(parts[0]); name {
		case "/max_tokens", "/multiline":
			cmd := Command{Kind: CommandConfigChange, Key: strings.TrimPrefix(name, "/")}
			if len(parts) == 2 {
				cmd.Value = parts[1]
			}
			return cmd
		}
	}

	return Command{Kind: CommandQuery, Text: line}
}

// HelpText lists the available commands with the current settings.
func HelpText(maxTokens int64, multiline bool) string {
	mode := "off"
	if multiline {
		mode = "on"
	}
	var b strings.Builder
	b.WriteString("Chat with the model. Commands:\n")
	b.WriteString("/quit, /q - exit\n")
	fmt.Fprintf(&b, "/max_tokens [N] - change the completion token limit (current: %d)\n", maxTokens)
	fmt.Fprintf(&b, "/multiline [on|off] - toggle multi-line input, an empty line sends (current: %s)\n", mode)
	b.WriteString("/reset - clear the conversation and session usage\n")
	b.WriteString("/tools - list available tools\n")
	b.WriteString("/help - show this help")
	return b.String()
}
