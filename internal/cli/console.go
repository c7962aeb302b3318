package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Console prints run progress and answers human input requests from a
// terminal. It implements events.Observer and events.Host.
type Console struct {
	out           io.Writer
	screenshotDir string
	logger        zerolog.Logger

	in        io.Reader
	linesOnce sync.Once
	lines     chan string

	mu sync.Mutex
}

var (
	_ events.Observer = (*Console)(nil)
	_ events.Host     = (*Console)(nil)
)

// NewConsole creates a console. Screenshots are written below screenshotDir
// when it is set.
func NewConsole(in io.Reader, out io.Writer, screenshotDir string, logger zerolog.Logger) *Console {
	return &Console{
		out:           out,
		screenshotDir: screenshotDir,
		logger:        logger,
		in:            in,
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// OnOutput prints assistant text and tool calls.
func (c *Console) OnOutput(block conversation.ContentBlock) {
	switch block.Type {
	case conversation.BlockText:
		c.printf("Assistant: %s\n", block.Text)
	case conversation.BlockToolUse:
		c.printf("> Tool Call [%s]: %s %s\n", block.ID, block.Name, string(block.Input))
	}
}

// OnToolResult prints the result and stores its screenshot, if any.
func (c *Console) OnToolResult(result toolexecutor.Result, toolUseID string) {
	if result.System != "" {
		c.printf("> Tool System [%s]: %s\n", toolUseID, result.System)
	}
	if result.Output != "" {
		c.printf("> Tool Output [%s]: %s\n", toolUseID, result.Output)
	}
	if result.Error != "" {
		c.printf("!!! Tool Error [%s]: %s\n", toolUseID, result.Error)
	}
	if result.Image != "" && c.screenshotDir != "" {
		name, err := c.saveScreenshot(toolUseID, result.Image)
		if err != nil {
			c.logger.Warn().Err(err).Str("tool_use_id", toolUseID).Msg("Failed to save screenshot")
			return
		}
		c.printf("Took screenshot %s\n", name)
	}
}

func (c *Console) saveScreenshot(toolUseID, data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("invalid screenshot data: %w", err)
	}
	if err := os.MkdirAll(c.screenshotDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("screenshot_%s.png", filepath.Base(toolUseID))
	if err := os.WriteFile(filepath.Join(c.screenshotDir, name), raw, 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// OnBackendResponse prints each backend response under a role header.
func (c *Console) OnBackendResponse(event events.BackendEvent) {
	if event.IsDone {
		c.printf("\n---------------\nQA thinks it is done\n")
	}

	switch event.Role {
	case events.RoleManager:
		if event.FinalReport != "" {
			c.printf("\n================\nManager\nFinal Report:\n%s\n================\n\n", event.FinalReport)
			return
		}
		c.printf("\n---------------\nSession: %d | Manager\nAPI Response:\n%s\n\n", event.Session+1, pretty(event.Raw))
	case events.RoleQA:
		c.printf("\n---------------\nSession: %d | QA\nAPI Response:\n%s\n\n", event.Session+1, pretty(event.Raw))
	case events.RoleWorker:
		c.printf("\n---------------\nSession: %d Step: %d\nAPI Response:\n%s\n\n", event.Session+1, event.Step+1, pretty(event.Raw))
	}
}

// OnStateChange is logged by the loop itself.
func (c *Console) OnStateChange(events.State) {}

func pretty(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "    "); err != nil {
		return raw
	}
	return buf.String()
}

// RequestInput asks the human a question and waits for one line.
func (c *Console) RequestInput(ctx context.Context, req events.HumanInputRequest) (string, error) {
	c.printf("\nThe agent needs your help [%s]:\n%s\n> ", req.ID, req.Question)
	return c.readLine(ctx)
}

// OnInterrupt asks the human how to proceed after Ctrl+C.
func (c *Console) OnInterrupt(ctx context.Context, req events.InterruptRequest) (events.InterruptDecision, error) {
	c.printf("\nPaused at session %d, step %d. Progress has been saved.\n"+
		"- To continue, press Enter.\n"+
		"- To stop, type 's'.\n"+
		"- To intervene with additional instructions, type 'i'.\n> ", req.Session+1, req.Step+1)

	answer, err := c.readLine(ctx)
	if err != nil {
		return events.InterruptDecision{}, err
	}

	switch strings.ToLower(answer) {
	case "s", "stop":
		return events.InterruptDecision{Action: events.InterruptStop}, nil
	case "i":
		c.printf("Please provide the additional instructions:\n> ")
		text, err := c.readLine(ctx)
		if err != nil {
			return events.InterruptDecision{}, err
		}
		return events.InterruptDecision{Action: events.InterruptInject, Text: text}, nil
	default:
		return events.InterruptDecision{Action: events.InterruptContinue}, nil
	}
}

// Confirm asks a yes/no question. Anything but "y" or "yes" is a no.
func (c *Console) Confirm(ctx context.Context, question string) (bool, error) {
	c.printf("%s (y/n)\n> ", question)
	answer, err := c.readLine(ctx)
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// readLine returns the next input line. A single goroutine owns the reader
// so a line typed after a cancelled prompt is not lost.
func (c *Console) readLine(ctx context.Context) (string, error) {
	c.linesOnce.Do(func() {
		c.lines = make(chan string)
		go func() {
			defer close(c.lines)
			scanner := bufio.NewScanner(c.in)
			for scanner.Scan() {
				c.lines <- scanner.Text()
			}
		}()
	})

	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
