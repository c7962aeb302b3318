// Package conversation holds the shared message log and its image retention.
//
// Invariants:
// - Roles form a closed set; unknown roles fail JSON decoding.
// - Every tool_use is answered by the next message, one tool_result per id, in order.
// - Pruning only ever removes image parts of tool_result blocks.
//
// Usage:
//
//	h := conversation.NewHistory(nil)
//	h.Append(conversation.NewTextMessage(conversation.RoleUser, "hello"))
//	removed := h.Prune(conversation.RetentionPolicy{Keep: 10, Chunk: 10})
//	_ = removed
package conversation
