package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(input string, dir string) (*Console, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewConsole(strings.NewReader(input), out, dir, zerolog.Nop()), out
}

func TestConsole_Output(t *testing.T) {
	c, out := newTestConsole("", "")

	c.OnOutput(conversation.NewTextBlock("Opening the page."))
	c.OnOutput(conversation.NewToolUseBlock("toolu_1", "bash", []byte(`{"command":"ls"}`)))

	assert.Contains(t, out.String(), "Assistant: Opening the page.\n")
	assert.Contains(t, out.String(), `> Tool Call [toolu_1]: bash {"command":"ls"}`)
}

func TestConsole_ToolResultSavesScreenshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "screenshots")
	c, out := newTestConsole("", dir)
	png := []byte("\x89PNG fake")

	c.OnToolResult(toolexecutor.Result{
		Output: "clicked",
		System: "page changed",
		Image:  base64.StdEncoding.EncodeToString(png),
	}, "toolu_9")
	c.OnToolResult(toolexecutor.Result{Error: "permission denied"}, "toolu_10")

	text := out.String()
	assert.Contains(t, text, "> Tool Output [toolu_9]: clicked")
	assert.Contains(t, text, "> Tool System [toolu_9]: page changed")
	assert.Contains(t, text, "Took screenshot screenshot_toolu_9.png")
	assert.Contains(t, text, "!!! Tool Error [toolu_10]: permission denied")

	saved, err := os.ReadFile(filepath.Join(dir, "screenshot_toolu_9.png"))
	require.NoError(t, err)
	assert.Equal(t, png, saved)
}

func TestConsole_ToolResultBadImage(t *testing.T) {
	dir := t.TempDir()
	c, out := newTestConsole("", dir)

	c.OnToolResult(toolexecutor.Result{Image: "not base64!"}, "toolu_1")

	assert.NotContains(t, out.String(), "Took screenshot")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConsole_BackendResponses(t *testing.T) {
	c, out := newTestConsole("", "")

	c.OnBackendResponse(events.BackendEvent{Role: events.RoleWorker, Session: 0, Step: 2, Raw: `[{"type":"text"}]`})
	c.OnBackendResponse(events.BackendEvent{Role: events.RoleManager, Session: 1, Step: -1, Raw: "plain"})
	c.OnBackendResponse(events.BackendEvent{Role: events.RoleQA, Session: 1, Step: 0, Raw: "{}", IsDone: true})
	c.OnBackendResponse(events.BackendEvent{Role: events.RoleManager, Session: -1, Step: -1, FinalReport: "Finished."})

	text := out.String()
	assert.Contains(t, text, "Session: 1 Step: 3\nAPI Response:\n[\n    {\n        \"type\": \"text\"\n    }\n]")
	assert.Contains(t, text, "Session: 2 | Manager\nAPI Response:\nplain")
	assert.Contains(t, text, "QA thinks it is done")
	assert.Contains(t, text, "Session: 2 | QA")
	assert.Contains(t, text, "Final Report:\nFinished.")
}

func TestConsole_OnInterrupt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  events.InterruptDecision
	}{
		{name: "enter continues", input: "\n", want: events.InterruptDecision{Action: events.InterruptContinue}},
		{name: "stop", input: "s\n", want: events.InterruptDecision{Action: events.InterruptStop}},
		{name: "intervene", input: "i\nuse the staging site\n", want: events.InterruptDecision{Action: events.InterruptInject, Text: "use the staging site"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, out := newTestConsole(tt.input, "")

			d, err := c.OnInterrupt(context.Background(), events.InterruptRequest{Session: 1, Step: 0})

			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.Contains(t, out.String(), "Paused at session 2, step 1")
		})
	}
}

func TestConsole_RequestInput(t *testing.T) {
	c, out := newTestConsole("  blue card \n", "")

	answer, err := c.RequestInput(context.Background(), events.HumanInputRequest{ID: "abc", Question: "Which card?"})

	require.NoError(t, err)
	assert.Equal(t, "blue card", answer)
	assert.Contains(t, out.String(), "Which card?")

	_, err = c.RequestInput(context.Background(), events.HumanInputRequest{ID: "def", Question: "Again?"})
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsole_ReadLineCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := NewConsole(r, io.Discard, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Confirm(ctx, "Continue?")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsole_Confirm(t *testing.T) {
	c, _ := newTestConsole("Y\nno\n", "")

	yes, err := c.Confirm(context.Background(), "Continue?")
	require.NoError(t, err)
	assert.True(t, yes)

	yes, err = c.Confirm(context.Background(), "Continue?")
	require.NoError(t, err)
	assert.False(t, yes)
}
