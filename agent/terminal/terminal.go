package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
)

// styles are bound to the output's renderer so colors are dropped when it is
// not a terminal.
type styles struct {
	footer lipgloss.Style
	err    lipgloss.Style
	tool   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		footer: r.NewStyle().Foreground(lipgloss.Color("240")),
		err:    r.NewStyle().Foreground(lipgloss.Color("9")),
		tool:   r.NewStyle().Foreground(lipgloss.Color("62")),
	}
}

// Options configures a Terminal.
type Options struct {
	In          io.Reader
	Out         io.Writer
	Multiline   bool
	KeepHistory bool
	Pricing     usage.Pricing
}

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent   *agent.Agent
	tools   tools.Session
	scanner *bufio.Scanner
	out     io.Writer
	styles  styles
	pricing usage.Pricing

	multiline   bool
	keepHistory bool
	conv        *session.Conversation
	buffer      []string
}

// New creates a terminal bound to a and the tool session ts, which may be
// nil when no tools are configured.
func New(a *agent.Agent, ts tools.Session, opts Options) *Terminal {
	scanner := bufio.NewScanner(opts.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Terminal{
		agent:       a,
		tools:       ts,
		scanner:     scanner,
		out:         opts.Out,
		styles:      newStyles(opts.Out),
		pricing:     opts.Pricing,
		multiline:   opts.Multiline,
		keepHistory: opts.KeepHistory,
		conv:        session.New(),
	}
}

// Run prints the help text, answers initialPrompt if set, then reads lines
// until EOF or a quit command. Query failures are printed and the session
// continues.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	fmt.Fprintln(t.out, HelpText(t.agent.MaxTokens(), t.multiline))

	if initialPrompt != "" {
		t.query(ctx, initialPrompt)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(t.out, t.prompt())
		if !t.scanner.Scan() {
			// EOF or read error ends the session
			break
		}
		line := strings.TrimRight(t.scanner.Text(), " \t\r")

		cmd := ParseCommand(line)
		switch cmd.Kind {
		case CommandQuit:
			return nil
		case CommandConfigChange:
			t.configure(cmd)
		case CommandReset:
			t.conv.Reset()
			t.buffer = nil
			t.agent.Accounting().Reset()
			fmt.Fprintln(t.out, "Conversation and session usage cleared")
		case CommandTools:
			t.listTools(ctx)
		case CommandHelp:
			fmt.Fprintln(t.out, HelpText(t.agent.MaxTokens(), t.multiline))
		case CommandQuery:
			t.input(ctx, line)
		}
	}

	return t.scanner.Err()
}

func (t *Terminal) prompt() string {
	if t.multiline && len(t.buffer) > 0 {
		return "  "
	}
	return "\n> "
}

// input handles a non-command line. In multi-line mode lines are buffered
// until an empty line sends them.
func (t *Terminal) input(ctx context.Context, line string) {
	if !t.multiline {
		if strings.TrimSpace(line) == "" {
			return
		}
		t.query(ctx, line)
		return
	}

	if line != "" {
		t.buffer = append(t.buffer, line)
		return
	}
	if len(t.buffer) == 0 {
		return
	}
	text := strings.Join(t.buffer, "\n")
	t.buffer = nil
	t.query(ctx, text)
}

func (t *Terminal) configure(cmd Command) {
	switch cmd.Key {
	case "max_tokens":
		if cmd.Value == "" {
			fmt.Fprintf(t.out, "Current max_tokens: %d\n", t.agent.MaxTokens())
			return
		}
		n, err := strconv.ParseInt(cmd.Value, 10, 64)
		if err != nil {
			t.printError(errors.Codef(errors.CodeConfiguration, "invalid number '%s'", cmd.Value))
			return
		}
		if err := t.agent.SetMaxTokens(n); err != nil {
			t.printError(err)
			return
		}
		fmt.Fprintf(t.out, "max_tokens set to %d\n", n)
	case "multiline":
		switch strings.ToLower(cmd.Value) {
		case "on":
			t.multiline = true
		case "off":
			t.multiline = false
			t.buffer = nil
		default:
			fmt.Fprintf(t.out, "Current mode: %s\n", modeName(t.multiline))
			return
		}
		fmt.Fprintf(t.out, "Switched to %s mode\n", modeName(t.multiline))
	}
}

func modeName(multiline bool) string {
	if multiline {
		return "multi-line"
	}
	return "single-line"
}

func (t *Terminal) listTools(ctx context.Context) {
	descs, err := t.discover(ctx)
	if err != nil {
		t.printError(err)
		return
	}
	if len(descs) == 0 {
		fmt.Fprintln(t.out, "No tools available")
		return
	}
	fmt.Fprintln(t.out, "Available tools:")
	for _, d := range descs {
		if d.Description != "" {
			fmt.Fprintf(t.out, "  - %s: %s\n", d.Name, firstLine(d.Description))
		} else {
			fmt.Fprintf(t.out, "  - %s\n", d.Name)
		}
	}
}

func (t *Terminal) discover(ctx context.Context) ([]tools.Descriptor, error) {
	if t.tools == nil {
		return nil, nil
	}
	return t.tools.Discover(ctx)
}

// query runs one user turn and renders its result.
func (t *Terminal) query(ctx context.Context, text string) {
	descs, err := t.discover(ctx)
	if err != nil {
		t.printError(err)
		return
	}

	var conv *session.Conversation
	if t.keepHistory {
		conv = t.conv
	}

	res, err := t.agent.ProcessQuery(ctx, agent.Query{
		Text:         text,
		Tools:        descs,
		Session:      t.tools,
		Conversation: conv,
		Callbacks:    t.callbacks(),
	})
	if err != nil {
		t.buffer = nil
		t.printError(err)
		return
	}
	Render(t.out, res, t.agent.Accounting().SessionUsage(), t.pricing)
}

func (t *Terminal) callbacks() agent.Callbacks {
	cb := agent.Callbacks{
		OnToolCall: func(req session.ToolRequest) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintln(t.out, t.styles.tool.Render(fmt.Sprintf("Calling tool `%s` with args: %s", req.Name, agent.FormatArgs(req.Arguments))))
			case agent.ToolVerbosityInfo:
				fmt.Fprintln(t.out, t.styles.tool.Render(fmt.Sprintf("Calling tool `%s`", req.Name)))
			}
		},
		OnToolResult: func(req session.ToolRequest, result session.ToolResult) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Fprintln(t.out, t.styles.tool.Render(fmt.Sprintf("Tool `%s` output: %s", req.Name, result.Content)))
			}
		},
	}
	if t.agent.Mode == agent.ModePrompt {
		cb.ShouldExecuteTool = t.confirm
	}
	return cb
}

// confirm asks whether a tool call may run. Anything but y or yes denies it.
func (t *Terminal) confirm(req session.ToolRequest) bool {
	fmt.Fprintf(t.out, "Allow tool `%s` with args %s? (y/n): ", req.Name, agent.FormatArgs(req.Arguments))
	if !t.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(t.scanner.Text()))
	return answer == "y" || answer == "yes"
}

func (t *Terminal) printError(err error) {
	fmt.Fprintln(t.out, t.styles.err.Render("Error: "+err.Error()))
}

// Render prints a query's text followed by a usage footer with the query and
// session token counts and the session cost.
func Render(w io.Writer, res *agent.Result, total usage.Usage, pricing usage.Pricing) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, res.Text)
	footer := fmt.Sprintf("[query: %s | session: %s | cost: $%.4f]", res.Usage, total, total.Cost(pricing))
	fmt.Fprintln(w, newStyles(w).footer.Render(footer))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
