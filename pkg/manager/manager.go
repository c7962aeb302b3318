// Package manager plans the worker's sessions, optionally consulting a
// knowledge broker and the human, and writes the final report.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/decision"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/knowledge"
	"github.com/harun/triad/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Broker is the knowledge consultation surface the manager uses.
type Broker interface {
	NewExchange(ctx context.Context, instruction string) *knowledge.Exchange
	InitialQuery(ctx context.Context, instruction string) (*knowledge.Exchange, error)
	Consult(ctx context.Context, ex *knowledge.Exchange, query string) (*knowledge.Exchange, bool, error)
	RecordHuman(ctx context.Context, ex *knowledge.Exchange, question, answer string)
}

// Schemas supplies the tool schema sent alongside histories that contain
// tool calls.
type Schemas interface {
	Schema() []toolexecutor.ToolSchema
}

// Config configures a Manager.
type Config struct {
	Backend     backend.Client
	Tools       Schemas
	Instruction string
	MaxTokens   int

	// Broker, Decider and Host are optional. Decider is required when a
	// broker is set.
	Broker  Broker
	Decider backend.TextCompleter
	Host    events.Host

	// Lenient treats malformed decisions as "no" instead of failing.
	Lenient            bool
	ReplanEverySession bool

	Observer events.Observer
	Logger   zerolog.Logger
	Now      func() time.Time
}

// PlanRequest selects the planning path for a session.
type PlanRequest struct {
	Session int
	// ForceReplan revises the plan without asking for a knowledge query
	// first, e.g. after the human injected instructions.
	ForceReplan bool
}

// Manager produces plans and the final report.
type Manager struct {
	backend     backend.Client
	tools       Schemas
	instruction string
	system      string
	maxTokens   int

	broker  Broker
	decider backend.TextCompleter
	host    events.Host

	lenient            bool
	replanEverySession bool

	exchange *knowledge.Exchange

	observer events.Observer
	logger   zerolog.Logger
}

// New creates a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend client is required")
	}
	if cfg.Broker != nil && cfg.Decider == nil {
		return nil, errors.New("decision backend is required when a knowledge broker is set")
	}
	observer := cfg.Observer
	if observer == nil {
		observer = events.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		backend:            cfg.Backend,
		tools:              cfg.Tools,
		instruction:        cfg.Instruction,
		system:             SystemPrompt(cfg.Instruction, now()),
		maxTokens:          cfg.MaxTokens,
		broker:             cfg.Broker,
		decider:            cfg.Decider,
		host:               cfg.Host,
		lenient:            cfg.Lenient,
		replanEverySession: cfg.ReplanEverySession,
		observer:           observer,
		logger:             cfg.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

// CheckProgress returns the plan for req.Session. A nil plan means the
// previous plan stands and nothing should be injected.
func (m *Manager) CheckProgress(ctx context.Context, h *conversation.History, req PlanRequest) (*string, error) {
	ctx = tracing.WithRole(ctx, string(events.RoleManager))
	ctx, span := tracing.StartSpan(ctx, "triad.manager", "manager.check_progress",
		attribute.Bool("force_replan", req.ForceReplan),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	if req.Session == 0 {
		if m.broker != nil && m.exchange == nil {
			ex, err := m.broker.InitialQuery(ctx, m.instruction)
			m.exchange = ex
			if err != nil {
				if ferr := m.knowledgeFailure(logger, err); ferr != nil {
					return nil, ferr
				}
			}
		}
		return m.plan(ctx, h, req.Session, initialPlanPrompt)
	}

	if req.ForceReplan || m.replanEverySession {
		return m.plan(ctx, h, req.Session, revisedPlanPrompt)
	}

	if m.broker == nil {
		logger.Debug().Msg("No knowledge broker, keeping the current plan")
		return nil, nil
	}

	digest := progressDigest(h.Messages())

	qd, err := m.decideQuery(ctx, digest)
	if err != nil {
		return nil, err
	}
	if qd == nil || !qd.NeedsQuery || strings.TrimSpace(qd.Query) == "" {
		logger.Info().Msg("No knowledge query needed, keeping the current plan")
		span.SetAttributes(attribute.Bool("plan_revised", false))
		return nil, nil
	}

	if m.exchange == nil {
		m.exchange = m.broker.NewExchange(ctx, m.instruction)
	}
	_, unanswered, err := m.broker.Consult(ctx, m.exchange, qd.Query)
	if err != nil {
		if ferr := m.knowledgeFailure(logger, err); ferr != nil {
			return nil, ferr
		}
	}
	logger.Info().Bool("unanswered", unanswered).Msg("Knowledge consulted")

	if err := m.escalate(ctx, logger, req.Session, escalationPrompt(m.instruction, m.summary(), digest, unanswered)); err != nil {
		return nil, err
	}

	return m.plan(ctx, h, req.Session, revisedPlanPrompt)
}

// knowledgeFailure returns err when it must end the run. Source and
// transport failures are logged and planning continues without knowledge.
func (m *Manager) knowledgeFailure(logger zerolog.Logger, err error) error {
	var parseErr *decision.ParseError
	var backendErr *backend.BackendError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &parseErr):
		return err
	case errors.As(err, &backendErr):
		return err
	default:
		logger.Warn().Err(err).Msg("Knowledge consultation failed, planning without it")
		return nil
	}
}

func (m *Manager) decideQuery(ctx context.Context, digest string) (*decision.QueryDecision, error) {
	raw, err := m.decider.CompleteText(ctx, querySystemPrompt, decisionPrompt(m.instruction, m.summary(), digest))
	if err != nil {
		return nil, fmt.Errorf("query decision failed: %w", err)
	}
	d, err := decision.ParseQueryDecision(raw)
	if err != nil {
		if m.lenient {
			m.logger.Warn().Err(err).Msg("Malformed query decision, treating as no query")
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (m *Manager) escalate(ctx context.Context, logger zerolog.Logger, session int, prompt string) error {
	raw, err := m.decider.CompleteText(ctx, humanSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("human decision failed: %w", err)
	}
	d, err := decision.ParseHumanDecision(raw)
	if err != nil {
		if m.lenient {
			logger.Warn().Err(err).Msg("Malformed human decision, not escalating")
			return nil
		}
		return err
	}
	question := strings.TrimSpace(d.Question)
	if !d.NeedsHuman || question == "" {
		return nil
	}
	if m.host == nil {
		logger.Warn().Str("question", question).Msg("Human input needed but no host is attached")
		return nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to create request id: %w", err)
	}

	m.observer.OnStateChange(events.StateHumanInput)
	logger.Info().Str("request_id", id).Msg("Requesting human input")

	answer, err := m.host.RequestInput(ctx, events.HumanInputRequest{ID: id, Question: question, Session: session})
	if err != nil {
		return fmt.Errorf("human input failed: %w", err)
	}
	m.broker.RecordHuman(ctx, m.exchange, question, answer)
	m.observer.OnStateChange(events.StatePlanning)
	return nil
}

func (m *Manager) summary() string {
	if m.exchange == nil {
		return ""
	}
	return m.exchange.Summary()
}

func (m *Manager) request(h *conversation.History, prompt string) backend.Request {
	req := backend.Request{
		Role:      string(events.RoleManager),
		System:    m.system,
		Messages:  h.With(conversation.NewTextMessage(conversation.RoleUser, prompt)),
		MaxTokens: m.maxTokens,
	}
	if m.tools != nil {
		req.Tools = m.tools.Schema()
	}
	return req
}

func (m *Manager) plan(ctx context.Context, h *conversation.History, session int, prompt string) (*string, error) {
	resp, err := m.backend.Complete(ctx, m.request(h, withKnowledge(prompt, m.summary())))
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	m.observer.OnBackendResponse(events.BackendEvent{
		Raw:     resp.Raw,
		Role:    events.RoleManager,
		Session: session,
		Step:    -1,
	})

	plan := strings.TrimSpace(resp.Text())
	if plan == "" {
		m.logger.Warn().Int("session", session+1).Msg("Manager returned an empty plan")
		return nil, nil
	}
	return &plan, nil
}

// ReportProgress asks for the final report. The report is surfaced to the
// observer only; the history is not modified.
func (m *Manager) ReportProgress(ctx context.Context, h *conversation.History) (string, error) {
	ctx = tracing.WithRole(ctx, string(events.RoleManager))
	ctx, span := tracing.StartSpan(ctx, "triad.manager", "manager.report")
	defer span.End()

	resp, err := m.backend.Complete(ctx, m.request(h, reportPrompt))
	if err != nil {
		return "", fmt.Errorf("report failed: %w", err)
	}

	report := strings.TrimSpace(resp.Text())
	m.observer.OnBackendResponse(events.BackendEvent{
		Raw:         resp.Raw,
		Role:        events.RoleManager,
		Session:     -1,
		Step:        -1,
		FinalReport: report,
	})
	return report, nil
}
