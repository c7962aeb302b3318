package conversation

import (
	"encoding/json"
	"fmt"
)

// Role identifies who authored a message in the shared history.
type Role string

const (
	RoleUser    Role = "user"    // Human or orchestrator-authored input
	RoleWorker  Role = "worker"  // Tool-using worker agent
	RoleManager Role = "manager" // Planning agent
	RoleQA      Role = "qa"      // Completion reviewer
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleWorker, RoleManager, RoleQA:
		return true
	default:
		return false
	}
}

// IsAssistant reports whether messages with this role are sent to the
// backend as assistant turns.
func (r Role) IsAssistant() bool {
	switch r {
	case RoleWorker, RoleQA:
		return true
	case RoleUser, RoleManager:
		return false
	default:
		panic(fmt.Sprintf("conversation: unknown role %q", string(r)))
	}
}

// UnmarshalJSON rejects roles outside the closed set.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role := Role(s)
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", s)
	}
	*r = role
	return nil
}

// BlockType is the discriminator of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ImageSource holds a base64 encoded image.
type ImageSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is a tagged variant; Type selects which fields are meaningful.
//
//	text:        Text
//	tool_use:    ID, Name, Input
//	tool_result: ToolUseID, Content (text and image parts), IsError
//	image:       Source (only inside a tool_result)
type ContentBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   []ContentBlock  `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
}

// NewTextBlock creates a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewToolUseBlock creates a tool_use block. A nil input is stored as {}.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// NewImageBlock creates a base64 PNG image part.
func NewImageBlock(data string) ContentBlock {
	return ContentBlock{
		Type:   BlockImage,
		Source: &ImageSource{MediaType: "image/png", Data: data},
	}
}

// NewToolResultBlock creates a tool_result block wrapping the given parts.
func NewToolResultBlock(toolUseID string, parts []ContentBlock, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   parts,
		IsError:   isError,
	}
}

// InputMap decodes the tool_use input into a generic map.
func (b ContentBlock) InputMap() (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if len(b.Input) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(b.Input, &params); err != nil {
		return nil, fmt.Errorf("failed to parse tool input: %w", err)
	}
	return params, nil
}

// Message is a single turn in the shared history.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewTextMessage creates a message holding a single text block.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{NewTextBlock(text)}}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	out := ""
	for _, block := range m.Content {
		if block.Type == BlockText {
			out += block.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, block := range m.Content {
		if block.Type == BlockToolUse {
			uses = append(uses, block)
		}
	}
	return uses
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	return Message{Role: m.Role, Content: cloneBlocks(m.Content)}
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, block := range blocks {
		out[i] = block
		if block.Input != nil {
			out[i].Input = append(json.RawMessage(nil), block.Input...)
		}
		if block.Source != nil {
			src := *block.Source
			out[i].Source = &src
		}
		out[i].Content = cloneBlocks(block.Content)
	}
	return out
}
