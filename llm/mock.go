package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/session"
	"github.com/m4xw311/mcpchat/usage"
)

// EchoClient answers every request by repeating the last user text. It never
// requests tools and is used for offline runs.
type EchoClient struct{}

func (e *EchoClient) Complete(ctx context.Context, req Request) (*Response, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			last = req.Messages[i].Text()
			break
		}
	}
	return &Response{
		Content:    []session.ContentBlock{session.TextBlock(fmt.Sprintf("I am a mock LLM. You said: '%s'.", last))},
		StopReason: StopEndTurn,
	}, nil
}

// Scripted replays a fixed list of responses in order and records every
// request it receives. Once the script runs out, it repeats the last step if
// Repeat is set, or fails.
type Scripted struct {
	Steps  []Step
	Repeat bool

	mu       sync.Mutex
	requests []Request
}

// Step is one scripted completion. A non-nil Err fails the call.
type Step struct {
	Response *Response
	Err      error
}

// Reply is a convenience for a successful step.
func Reply(u usage.Usage, blocks ...session.ContentBlock) Step {
	stop := StopEndTurn
	for _, b := range blocks {
		if b.Kind == session.KindToolRequest {
			stop = StopToolUse
			break
		}
	}
	return Step{Response: &Response{Content: blocks, Usage: u, StopReason: stop}}
}

func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Keep a private copy so later appends by the caller are not visible.
	req.Messages = append([]session.Message(nil), req.Messages...)
	s.requests = append(s.requests, req)

	n := len(s.requests) - 1
	if n >= len(s.Steps) {
		if !s.Repeat || len(s.Steps) == 0 {
			return nil, errors.New("script exhausted after %d calls", len(s.Steps))
		}
		n = len(s.Steps) - 1
	}
	step := s.Steps[n]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls is the number of Complete calls so far.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
