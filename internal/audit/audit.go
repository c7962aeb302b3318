// Package audit writes an append-only JSON lines record of what the agents
// did during a run.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event is one audit record.
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // agent role
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// Trail records run events. It implements events.Observer.
type Trail struct {
	ctx    context.Context
	runID  string
	logger zerolog.Logger
	closer io.Closer
	now    func() time.Time

	mu      sync.Mutex
	session int
	step    int
}

var _ events.Observer = (*Trail)(nil)

// New writes the trail to w.
func New(ctx context.Context, w io.Writer, runID string) *Trail {
	return &Trail{
		ctx:    ctx,
		runID:  runID,
		logger: zerolog.New(w),
		now:    time.Now,
	}
}

// Open appends the trail to the file at path.
func Open(ctx context.Context, path, runID string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	t := New(ctx, file, runID)
	t.closer = file
	return t, nil
}

// Record writes event, stamping the trace id when ctx carries a span.
func (t *Trail) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("run_id", t.runID).
		Str("event_type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status).
		Int("session", t.session+1).
		Int("step", t.step+1)
	if event.Actor != "" {
		entry = entry.Str("actor", event.Actor)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the underlying file, if any.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *Trail) OnOutput(block conversation.ContentBlock) {
	if block.Type != conversation.BlockToolUse {
		return
	}
	t.Record(t.ctx, Event{
		Type:   "tool",
		Actor:  string(events.RoleWorker),
		Action: "call:" + block.Name,
		Status: "pending",
		Metadata: map[string]interface{}{
			"tool_use_id": block.ID,
			"input":       string(block.Input),
		},
	})
}

func (t *Trail) OnToolResult(result toolexecutor.Result, toolUseID string) {
	status := "success"
	meta := map[string]interface{}{
		"tool_use_id": toolUseID,
		"image":       result.Image != "",
	}
	if result.Failed() {
		status = "failure"
		meta["error"] = result.Error
	}
	t.Record(t.ctx, Event{Type: "tool", Action: "result", Status: status, Metadata: meta})
}

func (t *Trail) OnBackendResponse(event events.BackendEvent) {
	t.mu.Lock()
	if event.Session >= 0 {
		t.session = event.Session
	}
	if event.Step >= 0 {
		t.step = event.Step
	}
	t.mu.Unlock()

	action := "response"
	switch {
	case event.FinalReport != "":
		action = "report"
	case event.IsDone:
		action = "verdict_complete"
	}
	t.Record(t.ctx, Event{Type: "backend", Actor: string(event.Role), Action: action, Status: "success"})
}

func (t *Trail) OnStateChange(state events.State) {
	t.Record(t.ctx, Event{Type: "state", Action: string(state), Status: "success"})
}
