// Package coretools provides the local shell and file-editor tools the
// worker drives through the tool gateway.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/harun/triad/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	WorkDir string
	Bash    bool
	Editor  bool
	// CommandTimeout bounds one shell command; the gateway timeout still
	// applies on top.
	CommandTimeout time.Duration
}

// RegisterCoreTools registers the enabled shell and editor tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}

	var tools []toolexecutor.ToolDefinition
	if opts.Bash {
		tools = append(tools, bashTool(opts))
	}
	if opts.Editor {
		tools = append(tools, editorTool(newEditor(opts.WorkDir)))
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// shell runs commands in a fixed working directory. Commands are serialized.
type shell struct {
	mu      sync.Mutex
	workDir string
	timeout time.Duration
}

func bashTool(opts Options) toolexecutor.ToolDefinition {
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	sh := &shell{workDir: opts.WorkDir, timeout: timeout}

	return toolexecutor.ToolDefinition{
		Name:        "bash",
		Description: "Run a command in a bash shell. Long outputs are truncated; redirect them to a file and inspect it with the editor instead.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "The bash command to run", Required: false},
			{Name: "restart", Type: "boolean", Description: "Restart the shell", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (toolexecutor.Result, error) {
			if restart, _ := params["restart"].(bool); restart {
				return toolexecutor.Result{System: "tool has been restarted."}, nil
			}
			command, _ := params["command"].(string)
			if strings.TrimSpace(command) == "" {
				return toolexecutor.Result{}, toolexecutor.NewToolError("no command provided.")
			}
			return sh.run(ctx, command)
		},
	}
}

func (s *shell) run(ctx context.Context, command string) (toolexecutor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = s.workDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return toolexecutor.Result{}, toolexecutor.NewToolError("timed out: bash did not return in %v and must be restarted", s.timeout)
	}

	out := strings.TrimRight(stdout.String(), "\n")
	errOut := strings.TrimRight(stderr.String(), "\n")

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		if errOut != "" && out == "" {
			out = errOut
		} else if errOut != "" {
			out = out + "\n" + errOut
		}
		return toolexecutor.Result{Output: out}, nil
	case errors.As(err, &exitErr):
		msg := errOut
		if msg == "" {
			msg = out
		}
		if msg == "" {
			msg = fmt.Sprintf("command exited with status %d", exitErr.ExitCode())
		}
		return toolexecutor.Result{}, toolexecutor.NewToolError("%s", msg)
	default:
		return toolexecutor.Result{}, fmt.Errorf("failed to run command: %w", err)
	}
}
