package coretools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/harun/triad/pkg/toolexecutor"
)

const snippetLines = 4

// editor implements view/create/str_replace/insert/undo_edit on local files.
type editor struct {
	mu      sync.Mutex
	workDir string
	history map[string][]string
}

func newEditor(workDir string) *editor {
	return &editor{workDir: workDir, history: make(map[string][]string)}
}

func editorTool(e *editor) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "str_replace_editor",
		Description: "View, create and edit files. view shows a file with line numbers or lists a directory; create writes a new file; str_replace replaces exactly one occurrence of old_str; insert adds new_str after insert_line; undo_edit reverts the last edit of path.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "command", Type: "string", Description: "The operation to run", Required: true,
				Enum: []interface{}{"view", "create", "str_replace", "insert", "undo_edit"}},
			{Name: "path", Type: "string", Description: "File or directory path", Required: true},
			{Name: "file_text", Type: "string", Description: "Content for create", Required: false},
			{Name: "old_str", Type: "string", Description: "Text to replace for str_replace", Required: false},
			{Name: "new_str", Type: "string", Description: "Replacement for str_replace or text for insert", Required: false},
			{Name: "insert_line", Type: "integer", Description: "Line after which insert adds new_str", Required: false},
			{Name: "view_range", Type: "array", Description: "Optional [start, end] line range for view; end -1 means end of file", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (toolexecutor.Result, error) {
			command, _ := params["command"].(string)
			pathValue, _ := params["path"].(string)
			target := e.resolve(pathValue)

			e.mu.Lock()
			defer e.mu.Unlock()

			switch command {
			case "view":
				return e.view(target, params["view_range"])
			case "create":
				text, ok := params["file_text"].(string)
				if !ok {
					return toolexecutor.Result{}, toolexecutor.NewToolError("parameter `file_text` is required for command: create")
				}
				return e.create(target, text)
			case "str_replace":
				oldStr, ok := params["old_str"].(string)
				if !ok {
					return toolexecutor.Result{}, toolexecutor.NewToolError("parameter `old_str` is required for command: str_replace")
				}
				newStr, _ := params["new_str"].(string)
				return e.replace(target, oldStr, newStr)
			case "insert":
				line, ok := toInt(params["insert_line"])
				if !ok {
					return toolexecutor.Result{}, toolexecutor.NewToolError("parameter `insert_line` is required for command: insert")
				}
				newStr, ok := params["new_str"].(string)
				if !ok {
					return toolexecutor.Result{}, toolexecutor.NewToolError("parameter `new_str` is required for command: insert")
				}
				return e.insert(target, line, newStr)
			case "undo_edit":
				return e.undo(target)
			default:
				return toolexecutor.Result{}, toolexecutor.NewToolError("unrecognized command %q", command)
			}
		},
	}
}

func (e *editor) resolve(p string) string {
	if filepath.IsAbs(p) || e.workDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(e.workDir, p)
}

func (e *editor) view(target string, rawRange interface{}) (toolexecutor.Result, error) {
	info, err := os.Stat(target)
	if err != nil {
		return toolexecutor.Result{}, toolexecutor.NewToolError("the path %s does not exist", target)
	}

	if info.IsDir() {
		if rawRange != nil {
			return toolexecutor.Result{}, toolexecutor.NewToolError("view_range is not allowed when path points to a directory")
		}
		listing, err := listDir(target, 2)
		if err != nil {
			return toolexecutor.Result{}, err
		}
		return toolexecutor.Result{
			Output: fmt.Sprintf("Files and directories up to 2 levels deep in %s, excluding hidden items:\n%s", target, listing),
		}, nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return toolexecutor.Result{}, err
	}
	lines := splitLines(string(data))
	start, end := 1, len(lines)

	if rawRange != nil {
		bounds, ok := rawRange.([]interface{})
		if !ok || len(bounds) != 2 {
			return toolexecutor.Result{}, toolexecutor.NewToolError("view_range must be a list of two integers")
		}
		s, ok1 := toInt(bounds[0])
		en, ok2 := toInt(bounds[1])
		if !ok1 || !ok2 {
			return toolexecutor.Result{}, toolexecutor.NewToolError("view_range must be a list of two integers")
		}
		start, end = s, en
		if end == -1 {
			end = len(lines)
		}
		if start < 1 || start > len(lines) || end < start || end > len(lines) {
			return toolexecutor.Result{}, toolexecutor.NewToolError("invalid view_range [%d, %d] for a file with %d lines", start, en, len(lines))
		}
	}

	return toolexecutor.Result{Output: numbered(lines[start-1:end], start, target)}, nil
}

func (e *editor) create(target, text string) (toolexecutor.Result, error) {
	if _, err := os.Stat(target); err == nil {
		return toolexecutor.Result{}, toolexecutor.NewToolError("file already exists at %s; use str_replace to edit it", target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return toolexecutor.Result{}, err
	}
	if err := os.WriteFile(target, []byte(text), 0644); err != nil {
		return toolexecutor.Result{}, err
	}
	e.history[target] = append(e.history[target], "")
	return toolexecutor.Result{Output: fmt.Sprintf("File created successfully at: %s", target)}, nil
}

func (e *editor) replace(target, oldStr, newStr string) (toolexecutor.Result, error) {
	content, err := e.read(target)
	if err != nil {
		return toolexecutor.Result{}, err
	}

	switch n := strings.Count(content, oldStr); {
	case oldStr == "" || n == 0:
		return toolexecutor.Result{}, toolexecutor.NewToolError("no replacement was performed, old_str %q did not appear verbatim in %s", oldStr, target)
	case n > 1:
		return toolexecutor.Result{}, toolexecutor.NewToolError("no replacement was performed, old_str %q appears %d times in %s; make it unique", oldStr, n, target)
	}

	idx := strings.Index(content, oldStr)
	updated := content[:idx] + newStr + content[idx+len(oldStr):]
	if err := e.write(target, content, updated); err != nil {
		return toolexecutor.Result{}, err
	}

	line := strings.Count(content[:idx], "\n") + 1
	return toolexecutor.Result{
		Output: fmt.Sprintf("The file %s has been edited.\n%s", target, snippet(updated, line, strings.Count(newStr, "\n"), target)),
	}, nil
}

func (e *editor) insert(target string, line int, newStr string) (toolexecutor.Result, error) {
	content, err := e.read(target)
	if err != nil {
		return toolexecutor.Result{}, err
	}
	lines := splitLines(content)
	if line < 0 || line > len(lines) {
		return toolexecutor.Result{}, toolexecutor.NewToolError("invalid insert_line %d, must be within [0, %d]", line, len(lines))
	}

	inserted := splitLines(newStr)
	merged := make([]string, 0, len(lines)+len(inserted))
	merged = append(merged, lines[:line]...)
	merged = append(merged, inserted...)
	merged = append(merged, lines[line:]...)

	updated := strings.Join(merged, "\n")
	if strings.HasSuffix(content, "\n") {
		updated += "\n"
	}
	if err := e.write(target, content, updated); err != nil {
		return toolexecutor.Result{}, err
	}

	return toolexecutor.Result{
		Output: fmt.Sprintf("The file %s has been edited.\n%s", target, snippet(updated, line+1, len(inserted)-1, target)),
	}, nil
}

func (e *editor) undo(target string) (toolexecutor.Result, error) {
	stack := e.history[target]
	if len(stack) == 0 {
		return toolexecutor.Result{}, toolexecutor.NewToolError("no edit history found for %s", target)
	}
	previous := stack[len(stack)-1]
	e.history[target] = stack[:len(stack)-1]

	if err := os.WriteFile(target, []byte(previous), 0644); err != nil {
		return toolexecutor.Result{}, err
	}
	return toolexecutor.Result{Output: fmt.Sprintf("Last edit to %s undone successfully.", target)}, nil
}

func (e *editor) read(target string) (string, error) {
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return "", toolexecutor.NewToolError("the path %s does not exist", target)
		}
		return "", err
	}
	return string(data), nil
}

func (e *editor) write(target, previous, updated string) error {
	if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
		return err
	}
	e.history[target] = append(e.history[target], previous)
	return nil
}

// toInt accepts JSON-decoded numbers as well as Go integers.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

func numbered(lines []string, first int, target string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Here's the result of running `cat -n` on %s:\n", target)
	for i, line := range lines {
		fmt.Fprintf(&sb, "%6d\t%s\n", first+i, line)
	}
	return sb.String()
}

// snippet shows the edited region with a few lines of context.
func snippet(content string, line, extra int, target string) string {
	lines := splitLines(content)
	start := line - snippetLines
	if start < 1 {
		start = 1
	}
	end := line + extra + snippetLines
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return numbered(lines[start-1:end], start, target)
}

func listDir(root string, depth int) (string, error) {
	var entries []string
	rootDepth := strings.Count(filepath.Clean(root), string(os.PathSeparator))
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		level := strings.Count(filepath.Clean(p), string(os.PathSeparator)) - rootDepth
		if level > depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entry := p
		if d.IsDir() {
			entry += string(os.PathSeparator)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(entries)
	return strings.Join(entries, "\n"), nil
}
