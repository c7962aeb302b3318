// Package qa judges whether the instruction has been satisfied. Its JSON
// verdict is the only signal that ends a run successfully.
package qa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/decision"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const systemTemplate = `<SYSTEM_CAPABILITY>
* You are a quality assurance agent.
* You work with a worker agent and a manager. All three of you can see the same tool results.
* You review what the worker agent has done and decide whether the task defined by the instruction is complete.
* The current date is %s.
* Respond with a JSON object with the following keys:
    * "is_complete": boolean, true only if the worker's result is correct, complete and meets the goal of the instruction.
    * "feedback": string, feedback on the worker's result and what is still missing.
* Example:
    {"is_complete": false, "feedback": "The form was filled in but never submitted."}
</SYSTEM_CAPABILITY>

<IMPORTANT>
* Do not use any tools. Respond with the JSON object only.
</IMPORTANT>

<INSTRUCTION>
%s
</INSTRUCTION>`

// CheckPrompt is appended as a user turn to the history for each check.
const CheckPrompt = "Has the instruction goal been achieved? Please answer in JSON format."

// SystemPrompt renders the QA system prompt for instruction.
func SystemPrompt(instruction string, now time.Time) string {
	return fmt.Sprintf(systemTemplate, now.Format("Monday, January 2, 2006"), instruction)
}

// Schemas supplies the tool schema sent alongside histories that contain
// tool calls.
type Schemas interface {
	Schema() []toolexecutor.ToolSchema
}

// Config configures a Reviewer.
type Config struct {
	Backend     backend.Client
	Tools       Schemas
	Instruction string
	MaxTokens   int
	Observer    events.Observer
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Reviewer issues QA verdicts.
type Reviewer struct {
	backend   backend.Client
	tools     Schemas
	system    string
	maxTokens int
	observer  events.Observer
	logger    zerolog.Logger
}

// New creates a reviewer.
func New(cfg Config) (*Reviewer, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend client is required")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = events.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reviewer{
		backend:   cfg.Backend,
		tools:     cfg.Tools,
		system:    SystemPrompt(cfg.Instruction, now()),
		maxTokens: cfg.MaxTokens,
		observer:  observer,
		logger:    cfg.Logger.With().Str("component", "qa").Logger(),
	}, nil
}

// Check asks for a verdict on the history. The history is not modified.
// The raw reply text is returned alongside the verdict, and alone when it
// fails to parse, in which case err is a *decision.ParseError.
func (r *Reviewer) Check(ctx context.Context, h *conversation.History, session, step int) (*decision.Verdict, string, error) {
	ctx = tracing.WithRole(ctx, string(events.RoleQA))
	ctx, span := tracing.StartSpan(ctx, "triad.qa", "qa.check", attribute.Int("step", step))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	req := backend.Request{
		Role:      string(events.RoleQA),
		System:    r.system,
		Messages:  h.With(conversation.NewTextMessage(conversation.RoleUser, CheckPrompt)),
		MaxTokens: r.maxTokens,
	}
	if r.tools != nil {
		req.Tools = r.tools.Schema()
	}

	resp, err := r.backend.Complete(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("qa check failed: %w", err)
	}

	raw := resp.Text()
	verdict, err := decision.ParseVerdict(raw)

	event := events.BackendEvent{Raw: resp.Raw, Role: events.RoleQA, Session: session, Step: step}
	if err != nil {
		observability.RecordVerdict("malformed")
		span.SetAttributes(attribute.String("verdict", "malformed"))
		logger.Warn().Err(err).Msg("Malformed QA verdict")
		r.observer.OnBackendResponse(event)
		return nil, raw, err
	}

	event.IsDone = verdict.IsComplete
	r.observer.OnBackendResponse(event)

	outcome := "incomplete"
	if verdict.IsComplete {
		outcome = "complete"
	}
	observability.RecordVerdict(outcome)
	span.SetAttributes(attribute.String("verdict", outcome))
	logger.Info().Bool("is_complete", verdict.IsComplete).Msg("QA verdict")

	return verdict, raw, nil
}
