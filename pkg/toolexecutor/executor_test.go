package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harun/triad/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo the input",
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
			return Result{Output: params["text"].(string)}, nil
		},
	}
}

func newTestExecutor(timeout time.Duration) *ToolExecutor {
	return NewWithConfig(Config{Logger: zerolog.Nop(), Timeout: timeout})
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := newTestExecutor(0)

	require.NoError(t, te.RegisterTool(echoTool()))

	tool := te.GetTool("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, []string{"echo"}, te.ListTools())
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := newTestExecutor(0)
	handler := func(ctx context.Context, params map[string]interface{}) (Result, error) { return Result{}, nil }

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: handler}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: handler}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{
			name: "bad parameter type",
			def: ToolDefinition{
				Name:        "test",
				Description: "Test",
				Handler:     handler,
				Parameters:  []ToolParameter{{Name: "x", Type: "float", Description: "x"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Schema(t *testing.T) {
	te := newTestExecutor(0)
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "noop",
		Description: "Does nothing",
		Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
			return Result{}, nil
		},
	}))

	schema := te.Schema()

	require.Len(t, schema, 2)
	assert.Equal(t, "echo", schema[0].Name)
	assert.Equal(t, "noop", schema[1].Name)
	assert.Equal(t, "object", schema[0].InputSchema["type"])
	assert.Equal(t, []string{"text"}, schema[0].InputSchema["required"])
	_, hasRequired := schema[1].InputSchema["required"]
	assert.False(t, hasRequired)
}

func TestToolExecutor_Invoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(echoTool()))

		res := te.Invoke(context.Background(), "echo", map[string]interface{}{"text": "hi"})

		assert.False(t, res.Failed())
		assert.Equal(t, "hi", res.Output)
	})

	t.Run("unknown tool", func(t *testing.T) {
		te := newTestExecutor(0)

		res := te.Invoke(context.Background(), "missing", nil)

		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "tool not found")
	})

	t.Run("invalid parameters", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(echoTool()))

		res := te.Invoke(context.Background(), "echo", map[string]interface{}{"other": 1})

		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "parameter validation failed")
	})

	t.Run("handler error keeps system note", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "fail",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
				return Result{System: "tool must be restarted"}, NewToolError("permission denied")
			},
		}))

		res := te.Invoke(context.Background(), "fail", nil)

		assert.Equal(t, "permission denied", res.Error)
		assert.Equal(t, "tool must be restarted", res.System)
	})

	t.Run("plain errors are stringified", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "fail",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
				return Result{}, errors.New("boom")
			},
		}))

		assert.Equal(t, "boom", te.Invoke(context.Background(), "fail", nil).Error)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "panic",
			Description: "Panics",
			Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
				panic("kaboom")
			},
		}))

		res := te.Invoke(context.Background(), "panic", nil)

		assert.Contains(t, res.Error, "tool panicked: kaboom")
	})

	t.Run("timeout", func(t *testing.T) {
		te := newTestExecutor(50 * time.Millisecond)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "slow",
			Description: "Blocks until cancelled",
			Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
				<-ctx.Done()
				time.Sleep(20 * time.Millisecond)
				return Result{Output: "late"}, nil
			},
		}))

		res := te.Invoke(context.Background(), "slow", nil)

		assert.Contains(t, res.Error, "timeout")
	})

	t.Run("large output is truncated", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "big",
			Description: "Large output",
			Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
				return Result{Output: string(make([]byte, maxOutputSize*2))}, nil
			},
		}))

		res := te.Invoke(context.Background(), "big", nil)

		assert.Contains(t, res.Output, "[output truncated]")
		assert.Less(t, len(res.Output), maxOutputSize*2)
	})

	t.Run("truncation keeps runes whole", func(t *testing.T) {
		te := newTestExecutor(0)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "wide",
			Description: "Multi-byte output",
			Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
				return Result{Output: "a" + strings.Repeat("é", maxOutputSize)}, nil
			},
		}))

		res := te.Invoke(context.Background(), "wide", nil)

		assert.True(t, utf8.ValidString(res.Output))
		assert.True(t, strings.HasSuffix(res.Output, "é\n... [output truncated]"))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "aé", truncate("aé", 3))
	assert.Equal(t, "", truncate("é", 1))
}

func TestResult_Block(t *testing.T) {
	t.Run("error carries only text", func(t *testing.T) {
		block := Result{Error: "permission denied", Output: "ignored", Image: "ignored"}.Block("toolu_1")

		assert.Equal(t, conversation.BlockToolResult, block.Type)
		assert.True(t, block.IsError)
		assert.Equal(t, "toolu_1", block.ToolUseID)
		require.Len(t, block.Content, 1)
		assert.Equal(t, conversation.BlockText, block.Content[0].Type)
		assert.Equal(t, "permission denied", block.Content[0].Text)
	})

	t.Run("output and image", func(t *testing.T) {
		block := Result{Output: "clicked", Image: "iVBOR", System: "note"}.Block("toolu_2")

		assert.False(t, block.IsError)
		require.Len(t, block.Content, 2)
		assert.Equal(t, "<system>note</system>\nclicked", block.Content[0].Text)
		assert.Equal(t, conversation.BlockImage, block.Content[1].Type)
		assert.Equal(t, "iVBOR", block.Content[1].Source.Data)
	})

	t.Run("empty success has no parts", func(t *testing.T) {
		block := Result{}.Block("toolu_3")

		assert.False(t, block.IsError)
		assert.Empty(t, block.Content)
	})
}
