package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/toolexecutor"
)

// Request is one backend call.
type Request struct {
	Role      string // worker, manager, qa, decision; used for metrics and logs
	System    string
	Messages  []conversation.Message
	Tools     []toolexecutor.ToolSchema
	MaxTokens int
}

// Response is the backend's reply.
type Response struct {
	Content    []conversation.ContentBlock
	StopReason string
	Usage      Usage
	Raw        string // raw JSON body, for observers
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == conversation.BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Client is a conversational backend.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// TextCompleter produces a single text reply for a system and user prompt.
type TextCompleter interface {
	CompleteText(ctx context.Context, system, prompt string) (string, error)
}

// BackendError is returned for every failed backend call. Status is the
// HTTP status when the service answered, 0 for transport failures.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
