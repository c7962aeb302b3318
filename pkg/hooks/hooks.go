// Package hooks runs user scripts when the run reaches lifecycle events.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// EventReport fires when the manager's final report is available.
const EventReport = "report"

// DefaultTimeout bounds a hook without its own timeout.
const DefaultTimeout = 30 * time.Second

// Hook is a script bound to a lifecycle event. Events are run state names
// (done, exhausted, stopped, interrupted, ...) or EventReport.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Runner.
type Config struct {
	Hooks  []Hook
	RunID  string
	Logger zerolog.Logger
}

// Runner executes hooks. It implements events.Observer so it can be attached
// to the run loop next to other observers.
type Runner struct {
	runID  string
	logger zerolog.Logger

	mu      sync.Mutex
	byEvent map[string][]Hook
	session int
	step    int
}

var _ events.Observer = (*Runner)(nil)

// NewRunner creates a runner from the enabled hooks.
func NewRunner(cfg Config) (*Runner, error) {
	r := &Runner{
		runID:   cfg.RunID,
		logger:  cfg.Logger.With().Str("component", "hooks").Logger(),
		byEvent: make(map[string][]Hook),
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		event := strings.TrimSpace(hook.Event)
		if event == "" {
			return nil, fmt.Errorf("hook event is required")
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		r.byEvent[event] = append(r.byEvent[event], hook)
	}

	return r, nil
}

// OnOutput implements events.Observer.
func (r *Runner) OnOutput(conversation.ContentBlock) {}

// OnToolResult implements events.Observer.
func (r *Runner) OnToolResult(toolexecutor.Result, string) {}

// OnBackendResponse tracks the current position and fires EventReport.
func (r *Runner) OnBackendResponse(event events.BackendEvent) {
	r.mu.Lock()
	if event.Session >= 0 {
		r.session = event.Session
	}
	if event.Step >= 0 {
		r.step = event.Step
	}
	r.mu.Unlock()

	if event.FinalReport != "" {
		r.fire(EventReport, map[string]string{"report": event.FinalReport})
	}
}

// OnStateChange fires the hooks registered for state.
func (r *Runner) OnStateChange(state events.State) {
	r.fire(string(state), map[string]string{"state": string(state)})
}

func (r *Runner) fire(event string, data map[string]string) {
	if err := r.Trigger(context.Background(), event, data); err != nil {
		r.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
	}
}

// Trigger runs every hook registered for event in registration order.
func (r *Runner) Trigger(ctx context.Context, event string, data map[string]string) error {
	if r == nil {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	r.mu.Lock()
	hooks := append([]Hook(nil), r.byEvent[event]...)
	env := map[string]string{
		"run_id":  r.runID,
		"session": fmt.Sprint(r.session + 1),
		"step":    fmt.Sprint(r.step + 1),
	}
	r.mu.Unlock()
	if len(hooks) == 0 {
		return nil
	}
	for k, v := range data {
		env[k] = v
	}

	var errs []error
	for _, hook := range hooks {
		if err := r.execute(ctx, event, hook, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) execute(ctx context.Context, event string, hook Hook, data map[string]string) error {
	id := hook.ID
	if strings.TrimSpace(id) == "" {
		id = event
	}

	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = environment(event, data)
	cmd.WaitDelay = time.Second

	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if text != "" {
			return fmt.Errorf("hook %s failed: %w: %s", id, err, text)
		}
		return fmt.Errorf("hook %s failed: %w", id, err)
	}

	r.logger.Debug().
		Str("event", event).
		Str("hook_id", id).
		Str("output", text).
		Msg("Hook executed")
	return nil
}

func environment(event string, data map[string]string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "TRIAD_HOOK_EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "TRIAD_HOOK_"+envKey(key)+"="+data[key])
	}
	return env
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
