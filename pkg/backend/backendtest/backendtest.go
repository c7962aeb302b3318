// Package backendtest provides a scripted backend client for tests.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/conversation"
)

// Reply is one scripted backend answer.
type Reply struct {
	Response *backend.Response
	Err      error
}

// Scripted answers each call with the next reply queued for the request role.
type Scripted struct {
	mu       sync.Mutex
	queues   map[string][]Reply
	requests []backend.Request
}

// New creates an empty scripted client.
func New() *Scripted {
	return &Scripted{queues: make(map[string][]Reply)}
}

// On queues replies for role.
func (s *Scripted) On(role string, replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[role] = append(s.queues[role], replies...)
	return s
}

func (s *Scripted) Complete(ctx context.Context, req backend.Request) (*backend.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := req
	snapshot.Messages = make([]conversation.Message, len(req.Messages))
	for i, m := range req.Messages {
		snapshot.Messages[i] = m.Clone()
	}
	s.requests = append(s.requests, snapshot)

	queue := s.queues[req.Role]
	if len(queue) == 0 {
		return nil, fmt.Errorf("backendtest: no reply scripted for role %q", req.Role)
	}
	next := queue[0]
	s.queues[req.Role] = queue[1:]
	return next.Response, next.Err
}

// Requests returns the recorded requests, optionally filtered by role.
func (s *Scripted) Requests(role string) []backend.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []backend.Request
	for _, r := range s.requests {
		if role == "" || r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// Pending reports how many replies are still queued for role.
func (s *Scripted) Pending(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[role])
}

// Text is a reply holding a single text block.
func Text(text string) Reply {
	return Blocks(conversation.NewTextBlock(text))
}

// Blocks is a reply holding the given blocks.
func Blocks(blocks ...conversation.ContentBlock) Reply {
	raw, _ := json.Marshal(blocks)
	return Reply{Response: &backend.Response{Content: blocks, StopReason: "end_turn", Raw: string(raw)}}
}

// Fail is a reply that fails with err.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// ToolUse builds a tool_use block with a JSON input.
func ToolUse(id, name, input string) conversation.ContentBlock {
	return conversation.NewToolUseBlock(id, name, json.RawMessage(input))
}
