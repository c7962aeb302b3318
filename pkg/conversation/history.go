package conversation

import (
	"fmt"
	"strings"
)

// PlanPrefix and RevisedPlanPrefix open every plan message injected by the
// orchestrator. They are used to infer the session counter on resume.
const (
	PlanPrefix        = "Given the INSTRUCTION, here is a plan provided by the manager:"
	RevisedPlanPrefix = "Given the INSTRUCTION and what you have done so far, here is an updated plan provided by the manager:"
)

// History is the ordered message log shared by all agents.
// It is not safe for concurrent use; the loop is single-threaded.
type History struct {
	messages []Message
}

// NewHistory creates a history seeded with a copy of msgs.
func NewHistory(msgs []Message) *History {
	h := &History{}
	for _, m := range msgs {
		h.messages = append(h.messages, m.Clone())
	}
	return h
}

// Append adds messages to the end of the log.
func (h *History) Append(msgs ...Message) {
	h.messages = append(h.messages, msgs...)
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.messages)
}

// Messages returns the backing slice. Callers must not retain it across
// appends.
func (h *History) Messages() []Message {
	return h.messages
}

// Snapshot returns a deep copy of the log.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.messages))
	for i, m := range h.messages {
		out[i] = m.Clone()
	}
	return out
}

// With returns a copy of the log with extra messages appended, leaving the
// history untouched. Used for one-off prompts to the manager and QA.
func (h *History) With(extra ...Message) []Message {
	out := make([]Message, 0, len(h.messages)+len(extra))
	out = append(out, h.messages...)
	return append(out, extra...)
}

// Last returns the final message, if any.
func (h *History) Last() (Message, bool) {
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Prune applies the retention policy in place and returns the number of
// images removed.
func (h *History) Prune(policy RetentionPolicy) int {
	if !policy.Enabled() {
		return 0
	}
	return PruneImages(h.messages, policy.Keep, policy.Chunk)
}

// CountPlans returns how many plan messages the log contains.
func (h *History) CountPlans() int {
	count := 0
	for _, m := range h.messages {
		if m.Role != RoleManager {
			continue
		}
		text := m.Text()
		if strings.HasPrefix(text, PlanPrefix) || strings.HasPrefix(text, RevisedPlanPrefix) {
			count++
		}
	}
	return count
}

// ValidateToolPairing checks that every tool_use block is answered by the
// next message with exactly one tool_result per id, in the same order.
// A trailing message with tool uses and no successor is reported as well.
func ValidateToolPairing(msgs []Message) error {
	for i, m := range msgs {
		uses := m.ToolUses()
		if len(uses) == 0 {
			continue
		}
		if i+1 >= len(msgs) {
			return fmt.Errorf("message %d: %d tool uses without results", i, len(uses))
		}
		var results []ContentBlock
		for _, block := range msgs[i+1].Content {
			if block.Type == BlockToolResult {
				results = append(results, block)
			}
		}
		if len(results) != len(uses) {
			return fmt.Errorf("message %d: %d tool uses but %d tool results", i, len(uses), len(results))
		}
		for j, use := range uses {
			if results[j].ToolUseID != use.ID {
				return fmt.Errorf("message %d: tool result %d has id %q, expected %q", i+1, j, results[j].ToolUseID, use.ID)
			}
		}
	}
	return nil
}
