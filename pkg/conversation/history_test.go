package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole(t *testing.T) {
	t.Run("decodes known roles", func(t *testing.T) {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(`{"role":"manager","content":[{"type":"text","text":"plan"}]}`), &m))
		assert.Equal(t, RoleManager, m.Role)
		assert.Equal(t, "plan", m.Text())
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		var m Message
		err := json.Unmarshal([]byte(`{"role":"assistant","content":[]}`), &m)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid role")
	})

	t.Run("maps roles to wire turns", func(t *testing.T) {
		assert.True(t, RoleWorker.IsAssistant())
		assert.True(t, RoleQA.IsAssistant())
		assert.False(t, RoleUser.IsAssistant())
		assert.False(t, RoleManager.IsAssistant())
		assert.Panics(t, func() { Role("system").IsAssistant() })
	})
}

func TestValidateToolPairing(t *testing.T) {
	use := func(ids ...string) Message {
		m := Message{Role: RoleWorker}
		for _, id := range ids {
			m.Content = append(m.Content, NewToolUseBlock(id, "bash", nil))
		}
		return m
	}
	result := func(ids ...string) Message {
		m := Message{Role: RoleUser}
		for _, id := range ids {
			m.Content = append(m.Content, NewToolResultBlock(id, nil, false))
		}
		return m
	}

	tests := []struct {
		name    string
		msgs    []Message
		wantErr string
	}{
		{name: "empty", msgs: nil},
		{name: "text only", msgs: []Message{NewTextMessage(RoleWorker, "done")}},
		{name: "paired in order", msgs: []Message{use("a", "b"), result("a", "b")}},
		{name: "missing results", msgs: []Message{use("a")}, wantErr: "without results"},
		{name: "count mismatch", msgs: []Message{use("a", "b"), result("a")}, wantErr: "2 tool uses but 1"},
		{name: "order mismatch", msgs: []Message{use("a", "b"), result("b", "a")}, wantErr: "expected \"a\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToolPairing(tt.msgs)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHistory(t *testing.T) {
	t.Run("with does not mutate", func(t *testing.T) {
		h := NewHistory([]Message{NewTextMessage(RoleUser, "a")})

		msgs := h.With(NewTextMessage(RoleUser, "b"))

		assert.Len(t, msgs, 2)
		assert.Equal(t, 1, h.Len())
	})

	t.Run("snapshot is deep", func(t *testing.T) {
		h := NewHistory(screenshotHistory(1))

		snap := h.Snapshot()
		snap[1].Content[0].Content[1].Source.Data = "changed"

		assert.Equal(t, "img-00", h.Messages()[1].Content[0].Content[1].Source.Data)
	})

	t.Run("counts plan messages", func(t *testing.T) {
		h := NewHistory(nil)
		h.Append(
			NewTextMessage(RoleManager, PlanPrefix+"\n1. open"),
			NewTextMessage(RoleWorker, "ok"),
			NewTextMessage(RoleManager, RevisedPlanPrefix+"\n2. retry"),
			NewTextMessage(RoleManager, "not a plan"),
		)

		assert.Equal(t, 2, h.CountPlans())
		last, ok := h.Last()
		require.True(t, ok)
		assert.Equal(t, "not a plan", last.Text())
	})

	t.Run("tool input decodes", func(t *testing.T) {
		block := NewToolUseBlock("id", "bash", json.RawMessage(`{"command":"ls"}`))

		params, err := block.InputMap()

		require.NoError(t, err)
		assert.Equal(t, "ls", params["command"])
	})
}
