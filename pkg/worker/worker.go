// Package worker runs single worker steps: one backend call followed by the
// in-order dispatch of every tool call the response contains.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Gateway is the tool surface the worker drives.
type Gateway interface {
	Invoke(ctx context.Context, name string, params map[string]interface{}) toolexecutor.Result
	Schema() []toolexecutor.ToolSchema
}

// Config configures a Worker.
type Config struct {
	Backend     backend.Client
	Tools       Gateway
	Instruction string
	Retention   conversation.RetentionPolicy
	MaxTokens   int
	Observer    events.Observer
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Worker executes steps against the shared history.
type Worker struct {
	backend   backend.Client
	tools     Gateway
	system    string
	retention conversation.RetentionPolicy
	maxTokens int
	observer  events.Observer
	logger    zerolog.Logger
}

// StepResult describes one completed step.
type StepResult struct {
	Message       conversation.Message
	ToolResults   []conversation.ContentBlock
	MadeToolCalls bool
	Pruned        int
}

// New creates a worker. The instruction is rendered into the system prompt
// once.
func New(cfg Config) (*Worker, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend client is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool gateway is required")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = events.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		backend:   cfg.Backend,
		tools:     cfg.Tools,
		system:    SystemPrompt(cfg.Instruction, now()),
		retention: cfg.Retention,
		maxTokens: cfg.MaxTokens,
		observer:  observer,
		logger:    cfg.Logger.With().Str("component", "worker").Logger(),
	}, nil
}

// Step prunes the history, calls the backend once and dispatches the tool
// calls of the reply in order. The worker message and, when tools were
// called, the user message with their results are appended to h.
func (w *Worker) Step(ctx context.Context, h *conversation.History, session, step int) (*StepResult, error) {
	ctx = tracing.WithRole(ctx, string(events.RoleWorker))
	ctx, span := tracing.StartSpan(ctx, "triad.worker", "worker.step", attribute.Int("step", step))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, w.logger).With().Int("step", step+1).Logger()

	pruned := h.Prune(w.retention)
	if pruned > 0 {
		observability.RecordImagesPruned(pruned)
		logger.Debug().Int("removed", pruned).Msg("Pruned tool-result images")
	}

	resp, err := w.backend.Complete(ctx, backend.Request{
		Role:      string(events.RoleWorker),
		System:    w.system,
		Messages:  h.Messages(),
		Tools:     w.tools.Schema(),
		MaxTokens: w.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("worker step failed: %w", err)
	}
	w.observer.OnBackendResponse(events.BackendEvent{
		Raw:     resp.Raw,
		Role:    events.RoleWorker,
		Session: session,
		Step:    step,
	})

	msg := conversation.Message{Role: conversation.RoleWorker, Content: resp.Content}
	if len(msg.Content) > 0 {
		h.Append(msg)
	}
	for _, block := range msg.Content {
		w.observer.OnOutput(block)
	}

	uses := msg.ToolUses()
	result := &StepResult{Message: msg, Pruned: pruned, MadeToolCalls: len(uses) > 0}

	for _, use := range uses {
		res := w.dispatch(ctx, logger, use)
		w.observer.OnToolResult(res, use.ID)
		result.ToolResults = append(result.ToolResults, res.Block(use.ID))
	}
	if result.MadeToolCalls {
		h.Append(conversation.Message{Role: conversation.RoleUser, Content: result.ToolResults})
	}

	observability.RecordStep(result.MadeToolCalls)
	observability.SetHistoryMessages(h.Len())
	span.SetAttributes(attribute.Int("tool_calls", len(uses)))
	logger.Info().Int("tool_calls", len(uses)).Msg("Worker step completed")

	return result, nil
}

func (w *Worker) dispatch(ctx context.Context, logger zerolog.Logger, use conversation.ContentBlock) toolexecutor.Result {
	params, err := use.InputMap()
	if err != nil {
		logger.Warn().Err(err).Str("tool", use.Name).Msg("Undecodable tool input")
		return toolexecutor.Result{Error: err.Error()}
	}
	logger.Debug().Str("tool", use.Name).Str("tool_use_id", use.ID).Msg("Dispatching tool call")
	return w.tools.Invoke(ctx, use.Name, params)
}
