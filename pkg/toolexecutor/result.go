package toolexecutor

import (
	"fmt"

	"github.com/harun/triad/pkg/conversation"
)

// Result is the outcome of one tool invocation. A non-empty Error means the
// call failed regardless of the other fields.
type Result struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Image  string `json:"image,omitempty"` // base64 PNG
	System string `json:"system,omitempty"`
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool {
	return r.Error != ""
}

// ToolError is a tool failure meant to be shown to the model verbatim.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

// NewToolError creates a ToolError with a formatted message.
func NewToolError(format string, args ...interface{}) *ToolError {
	return &ToolError{Message: fmt.Sprintf(format, args...)}
}

// Block converts the result into a tool_result content block.
func (r Result) Block(toolUseID string) conversation.ContentBlock {
	if r.Failed() {
		return conversation.NewToolResultBlock(toolUseID, []conversation.ContentBlock{
			conversation.NewTextBlock(r.withSystem(r.Error)),
		}, true)
	}

	parts := []conversation.ContentBlock{}
	if r.Output != "" {
		parts = append(parts, conversation.NewTextBlock(r.withSystem(r.Output)))
	}
	if r.Image != "" {
		parts = append(parts, conversation.NewImageBlock(r.Image))
	}
	return conversation.NewToolResultBlock(toolUseID, parts, false)
}

func (r Result) withSystem(text string) string {
	if r.System == "" {
		return text
	}
	return fmt.Sprintf("<system>%s</system>\n%s", r.System, text)
}
