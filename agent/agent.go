package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/usage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ParseMode validates a mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePrompt:
		return ModePrompt, nil
	}
	return "", errors.Codef(errors.CodeConfiguration, "invalid mode '%s', must be 'auto' or 'prompt'", s)
}

// ParseToolVerbosity validates a verbosity level. Empty means none.
func ParseToolVerbosity(s string) (ToolVerbosity, error) {
	switch ToolVerbosity(s) {
	case "", ToolVerbosityNone:
		return ToolVerbosityNone, nil
	case ToolVerbosityInfo, ToolVerbosityAll:
		return ToolVerbosity(s), nil
	}
	return "", errors.Codef(errors.CodeConfiguration, "invalid tool verbosity '%s', must be 'none', 'info', or 'all'", s)
}

// Callbacks let a front-end observe a query as it runs. Every field is
// optional.
type Callbacks struct {
	OnAssistantText func(text string)
	// OnToolCall fires before the request is dispatched.
	OnToolCall func(req session.ToolRequest)
	// OnToolResult fires after the round's fan-in, in request order.
	OnToolResult func(req session.ToolRequest, result session.ToolResult)
	// ShouldExecuteTool gates each request. A nil func allows everything.
	ShouldExecuteTool func(req session.ToolRequest) bool
	OnWarning         func(warning string)
}

// Query is one user turn.
type Query struct {
	Text    string
	Tools   []tools.Descriptor
	Session tools.Session
	// Conversation carries history across queries. Nil starts a fresh one.
	Conversation *session.Conversation
	Callbacks    Callbacks
}

// Result is what a completed query produced.
type Result struct {
	// Text is every text fragment and trace line, newline-joined in
	// emission order.
	Text          string
	Usage         usage.Usage
	Rounds        int
	HitRoundLimit bool
	Conversation  *session.Conversation
}

type Agent struct {
	Mode      Mode
	Verbosity ToolVerbosity

	client     llm.Client
	accounting *usage.Accounting
	log        zerolog.Logger

	mu               sync.RWMutex
	maxTokens        int64
	systemPrompt     string
	maxRounds        int
	maxParallelTools int
	toolTimeout      time.Duration
}

// New creates an agent from the loop settings in cfg. Usage is added to acct,
// which is never reset here; a nil acct gets a private one.
func New(cfg *config.Config, client llm.Client, acct *usage.Accounting, log zerolog.Logger) (*Agent, error) {
	if client == nil {
		return nil, errors.Codef(errors.CodeConfiguration, "an llm client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if acct == nil {
		acct = usage.NewAccounting()
	}
	return &Agent{
		Mode:             ModeAuto,
		Verbosity:        ToolVerbosityNone,
		client:           client,
		accounting:       acct,
		log:              log,
		maxTokens:        cfg.MaxTokens,
		systemPrompt:     cfg.SystemPrompt,
		maxRounds:        cfg.Agent.MaxRounds,
		maxParallelTools: cfg.Agent.MaxParallelTools,
		toolTimeout:      cfg.Agent.ToolTimeout,
	}, nil
}

// SetMaxTokens changes the completion limit for later queries. A
// non-positive n is rejected and the previous value kept.
func (a *Agent) SetMaxTokens(n int64) error {
	if n <= 0 {
		return errors.Codef(errors.CodeConfiguration, "max_tokens must be a positive integer, got %d", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxTokens = n
	return nil
}

func (a *Agent) MaxTokens() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxTokens
}

func (a *Agent) MaxRounds() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxRounds
}

// Accounting is the session-wide usage total this agent adds to.
func (a *Agent) Accounting() *usage.Accounting { return a.accounting }

type loopSettings struct {
	maxTokens    int64
	systemPrompt string
	maxRounds    int
	maxParallel  int
	toolTimeout  time.Duration
}

func (a *Agent) settings() loopSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return loopSettings{
		maxTokens:    a.maxTokens,
		systemPrompt: a.systemPrompt,
		maxRounds:    a.maxRounds,
		maxParallel:  a.maxParallelTools,
		toolTimeout:  a.toolTimeout,
	}
}

// ProcessQuery runs the model/tool loop for one user turn. Tool failures are
// fed back to the model; only a failed model call ends the query early, in
// which case the conversation is restored to its length before the query.
func (a *Agent) ProcessQuery(ctx context.Context, q Query) (*Result, error) {
	conv := q.Conversation
	if conv == nil {
		conv = session.New()
	}
	start := conv.Len()
	s := a.settings()
	cb := q.Callbacks
	log := a.log.With().Str("component", "agent").Logger()

	conv.Append(session.UserMessage(q.Text))

	res := &Result{Conversation: conv}
	var lines []string

	for round := 1; round <= s.maxRounds; round++ {
		resp, err := a.client.Complete(ctx, llm.Request{
			Messages:     conv.Messages(),
			Tools:        q.Tools,
			SystemPrompt: s.systemPrompt,
			MaxTokens:    s.maxTokens,
		})
		if err != nil {
			conv.Truncate(start)
			log.Error().Err(err).Int("round", round).Msg("Model request failed")
			return nil, errors.Coded(err, errors.CodeModelRequest, "model request failed in round %d", round)
		}
		res.Rounds = round
		res.Usage = res.Usage.Add(resp.Usage)
		a.accounting.Add(resp.Usage)

		var requests []session.ToolRequest
		for _, block := range resp.Content {
			switch block.Kind {
			case session.KindText:
				if block.Text == "" {
					continue
				}
				lines = append(lines, block.Text)
				if cb.OnAssistantText != nil {
					cb.OnAssistantText(block.Text)
				}
			case session.KindToolRequest:
				requests = append(requests, *block.ToolRequest)
			case session.KindToolResult:
				log.Warn().Int("round", round).Msg("Ignoring tool_result block in model output")
			}
		}
		if len(resp.Content) > 0 {
			conv.Append(session.Message{Role: session.RoleAssistant, Content: resp.Content})
		}

		log.Debug().
			Int("round", round).
			Int("tool_requests", len(requests)).
			Str("stop_reason", resp.StopReason).
			Int64("input_tokens", resp.Usage.InputTokens).
			Int64("output_tokens", resp.Usage.OutputTokens).
			Msg("Model round complete")

		if len(requests) == 0 {
			res.Text = strings.Join(lines, "\n")
			return res, nil
		}

		results := a.dispatch(ctx, q.Session, requests, cb, s)

		blocks := make([]session.ContentBlock, len(requests))
		for i, req := range requests {
			blocks[i] = session.ToolResultBlock(req.ID, results[i].Content, results[i].IsError)
			lines = append(lines,
				fmt.Sprintf("[Calling tool %s with args %s]", req.Name, FormatArgs(req.Arguments)),
				fmt.Sprintf("[Tool result: %s]", results[i].Content),
			)
			if cb.OnToolResult != nil {
				cb.OnToolResult(req, results[i])
			}
		}
		conv.Append(session.Message{Role: session.RoleToolResult, Content: blocks})
	}

	res.HitRoundLimit = true
	warning := fmt.Sprintf("[Warning: Reached maximum iterations (%d)]", s.maxRounds)
	lines = append(lines, warning)
	if cb.OnWarning != nil {
		cb.OnWarning(warning)
	}
	log.Warn().Int("max_rounds", s.maxRounds).Msg("Query stopped at the round limit")

	res.Text = strings.Join(lines, "\n")
	return res, nil
}

// dispatch runs one round's tool requests concurrently and returns their
// results in request order.
func (a *Agent) dispatch(ctx context.Context, ts tools.Session, requests []session.ToolRequest, cb Callbacks, s loopSettings) []session.ToolResult {
	results := make([]session.ToolResult, len(requests))

	var g errgroup.Group
	if s.maxParallel > 0 {
		g.SetLimit(s.maxParallel)
	}

	for i, req := range requests {
		if cb.OnToolCall != nil {
			cb.OnToolCall(req)
		}
		if cb.ShouldExecuteTool != nil && !cb.ShouldExecuteTool(req) {
			results[i] = session.ToolResult{RequestID: req.ID, Content: "Error: Tool execution denied by user", IsError: true}
			continue
		}

		g.Go(func() error {
			results[i] = a.invoke(ctx, ts, req, s.toolTimeout)
			return nil
		})
	}
	// Goroutines never return errors; failures are recorded per result.
	_ = g.Wait()

	return results
}

// invoke runs a single request and folds every failure mode into an error
// result.
func (a *Agent) invoke(ctx context.Context, ts tools.Session, req session.ToolRequest, timeout time.Duration) (out session.ToolResult) {
	out.RequestID = req.ID
	log := a.log.With().Str("tool", req.Name).Str("tool_use_id", req.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Tool invocation panicked")
			out.Content = fmt.Sprintf("Error: Tool execution error: %v", r)
			out.IsError = true
		}
	}()

	if ts == nil {
		err := errors.Codef(errors.CodeSessionUnavailable, "no tool session connected")
		out.Content = "Error: Tool execution error: " + err.Error()
		out.IsError = true
		return out
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := ts.Invoke(ctx, req.Name, req.Arguments)
	if err != nil {
		log.Warn().
			Err(errors.Coded(err, errors.CodeToolInvocation, "tool '%s'", req.Name)).
			Dur("elapsed", time.Since(started)).
			Msg("Tool invocation failed")
		out.Content = "Error: Tool execution error: " + err.Error()
		out.IsError = true
		return out
	}

	log.Debug().Bool("success", result.Success).Dur("elapsed", time.Since(started)).Msg("Tool invoked")
	if !result.Success {
		out.Content = "Error: " + result.Content
		out.IsError = true
		return out
	}
	out.Content = result.Content
	return out
}
