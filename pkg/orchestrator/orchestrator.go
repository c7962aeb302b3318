// Package orchestrator drives the manager, worker and QA agents through
// planning sessions until the goal is reached or the budget runs out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/checkpoint"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/decision"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/manager"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Config configures an Orchestrator.
type Config struct {
	Worker   Worker
	Manager  Manager
	Reviewer Reviewer

	// Optional collaborators.
	Checkpoints Checkpointer
	Context     ContextLoader
	Host        events.Host
	Observer    events.Observer

	MaxSessions      int
	MaxSteps         int
	MalformedVerdict MalformedPolicy

	Logger zerolog.Logger
}

// Orchestrator runs the session loop. A single goroutine drives Run;
// Interrupt may be called from any goroutine.
type Orchestrator struct {
	worker   Worker
	manager  Manager
	reviewer Reviewer

	checkpoints Checkpointer
	loader      ContextLoader
	host        events.Host
	observer    events.Observer

	maxSessions int
	maxSteps    int
	malformed   MalformedPolicy

	interrupts chan struct{}
	logger     zerolog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Worker == nil || cfg.Manager == nil || cfg.Reviewer == nil {
		return nil, errors.New("worker, manager and reviewer are required")
	}

	malformed := cfg.MalformedVerdict
	switch malformed {
	case "":
		malformed = MalformedAbort
	case MalformedAbort, MalformedIncomplete:
	default:
		return nil, fmt.Errorf("unknown malformed verdict policy %q", malformed)
	}

	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	observer := cfg.Observer
	if observer == nil {
		observer = events.Nop{}
	}

	observability.EnsureRegistered()

	return &Orchestrator{
		worker:      cfg.Worker,
		manager:     cfg.Manager,
		reviewer:    cfg.Reviewer,
		checkpoints: cfg.Checkpoints,
		loader:      cfg.Context,
		host:        cfg.Host,
		observer:    observer,
		maxSessions: maxSessions,
		maxSteps:    maxSteps,
		malformed:   malformed,
		interrupts:  make(chan struct{}, 1),
		logger:      cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Interrupt asks the running loop to pause at the next step or session
// boundary. Repeated calls before the loop notices collapse into one.
func (o *Orchestrator) Interrupt() {
	select {
	case o.interrupts <- struct{}{}:
	default:
	}
}

// run carries the per-run state of the loop.
type run struct {
	req     RunRequest
	history *conversation.History
	result  *Result
	state   events.State
	session int
	step    int
	logger  zerolog.Logger
}

// Run executes the loop until the goal is reached, the session budget is
// exhausted, the host stops the run, or an error occurs.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx)
	}
	ctx, span := tracing.StartSpan(ctx, "triad.orchestrator", "run")
	defer span.End()

	r := &run{
		req:     req,
		history: conversation.NewHistory(req.History),
		result:  &Result{},
		logger:  tracing.LoggerFromContext(ctx, o.logger),
	}

	err := o.loop(ctx, r)

	r.result.History = r.history.Snapshot()
	r.result.Status = r.state
	observability.SetHistoryMessages(r.history.Len())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordRun("error")
		r.logger.Error().Err(err).Str("state", string(r.state)).Msg("Run failed")
		return r.result, err
	}

	span.SetAttributes(
		attribute.String("status", string(r.state)),
		attribute.Int("sessions", r.result.Sessions),
		attribute.Int("steps", r.result.Steps),
	)
	observability.RecordRun(string(r.state))
	r.logger.Info().
		Str("status", string(r.state)).
		Int("sessions", r.result.Sessions).
		Int("steps", r.result.Steps).
		Msg("Run finished")
	return r.result, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	start := r.req.StartSession
	if start == InferSession {
		start = r.history.CountPlans()
	}
	if start < 0 {
		return fmt.Errorf("invalid start session %d", r.req.StartSession)
	}

	if r.req.ContextURL != "" && r.history.Len() == 0 {
		o.preloadContext(ctx, r)
	}

	r.logger.Info().
		Int("start_session", start).
		Int("history", r.history.Len()).
		Int("max_sessions", o.maxSessions).
		Int("max_steps", o.maxSteps).
		Msg("Run started")

	r.session = start
	forceReplan := false
	for session := start; session < o.maxSessions; session++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.session, r.step = session, 0

		action, text, err := o.checkInterrupt(ctx, r, session, 0)
		if err != nil {
			return err
		}
		switch action {
		case events.InterruptStop:
			return nil
		case events.InterruptInject:
			o.inject(r, text)
			forceReplan = true
		}

		done, replan, err := o.session(ctx, r, session, forceReplan)
		if err != nil {
			return err
		}
		if done || r.state == events.StateStopped {
			return nil
		}
		forceReplan = replan
	}

	o.setState(r, events.StateExhausted)
	r.logger.Warn().Int("sessions", r.result.Sessions).Msg("Session budget exhausted")
	o.save(ctx, r)

	report, err := o.manager.ReportProgress(ctx, r.history)
	if err != nil {
		return err
	}
	r.result.Report = report
	return nil
}

// session runs one planning phase and its worker steps. done reports that
// the run reached a terminal state; replan asks for a forced re-plan in the
// next session.
func (o *Orchestrator) session(ctx context.Context, r *run, session int, forceReplan bool) (done bool, replan bool, err error) {
	ctx = tracing.WithSession(ctx, session)
	ctx, span := tracing.StartSpan(ctx, "triad.orchestrator", "session",
		attribute.Int("session", session),
	)
	defer span.End()
	logger := r.logger.With().Int("session", session+1).Logger()

	r.result.Sessions++
	observability.RecordSession()

	o.setState(r, events.StatePlanning)
	plan, err := o.manager.CheckProgress(ctx, r.history, manager.PlanRequest{Session: session, ForceReplan: forceReplan})
	if err != nil {
		return false, false, err
	}
	if plan != nil {
		prefix := conversation.RevisedPlanPrefix
		if session == 0 {
			prefix = conversation.PlanPrefix
		}
		r.history.Append(conversation.NewTextMessage(conversation.RoleManager, prefix+"\n"+*plan+planSuffix))
		logger.Info().Msg("Plan appended")
	} else {
		logger.Info().Msg("Continuing with the current plan")
	}

	for step := 0; step < o.maxSteps; step++ {
		r.step = step
		if step > 0 {
			action, text, err := o.checkInterrupt(ctx, r, session, step)
			if err != nil {
				return false, false, err
			}
			switch action {
			case events.InterruptStop:
				return true, false, nil
			case events.InterruptInject:
				o.inject(r, text)
				return false, true, nil
			}
		}

		o.setState(r, events.StateStepping)
		res, err := o.worker.Step(ctx, r.history, session, step)
		if err != nil {
			return false, false, err
		}
		r.result.Steps++
		observability.SetHistoryMessages(r.history.Len())

		if res.MadeToolCalls {
			continue
		}

		complete, err := o.review(ctx, r, session, step)
		if err != nil {
			return false, false, err
		}
		if complete {
			o.setState(r, events.StateDone)
			logger.Info().Int("step", step+1).Msg("Goal achieved")
			o.save(ctx, r)

			report, err := o.manager.ReportProgress(ctx, r.history)
			if err != nil {
				return false, false, err
			}
			r.result.Report = report
			return true, false, nil
		}
	}
	return false, false, nil
}

// review asks the QA agent for a verdict. An incomplete verdict appends a
// continuation so the next worker call sees the feedback.
func (o *Orchestrator) review(ctx context.Context, r *run, session, step int) (bool, error) {
	o.setState(r, events.StateReviewing)

	verdict, raw, err := o.reviewer.Check(ctx, r.history, session, step)
	if err != nil {
		var parseErr *decision.ParseError
		if !errors.As(err, &parseErr) || o.malformed != MalformedIncomplete {
			return false, err
		}
		r.logger.Warn().Err(err).Int("session", session+1).Int("step", step+1).Msg("Malformed verdict treated as incomplete")
		verdict = &decision.Verdict{IsComplete: false, Feedback: malformedFeedback}
	}

	if verdict.IsComplete {
		r.history.Append(conversation.NewTextMessage(conversation.RoleQA, raw))
		return true, nil
	}

	text := continueText
	if feedback := strings.TrimSpace(verdict.Feedback); feedback != "" {
		text = fmt.Sprintf(continuationText, feedback)
	}
	r.history.Append(conversation.NewTextMessage(conversation.RoleUser, text))
	return false, nil
}

// checkInterrupt polls for a pending interrupt. When one is pending the run
// is checkpointed and the host decides how to proceed.
func (o *Orchestrator) checkInterrupt(ctx context.Context, r *run, session, step int) (events.InterruptAction, string, error) {
	select {
	case <-o.interrupts:
	default:
		return events.InterruptContinue, "", nil
	}

	previous := r.state
	o.setState(r, events.StateInterrupted)
	r.logger.Info().Int("session", session+1).Int("step", step+1).Msg("Run interrupted")
	o.save(ctx, r)

	if o.host == nil {
		o.setState(r, events.StateStopped)
		return events.InterruptStop, "", nil
	}

	d, err := o.host.OnInterrupt(ctx, events.InterruptRequest{Session: session, Step: step})
	if err != nil {
		return "", "", fmt.Errorf("interrupt handling failed: %w", err)
	}

	switch d.Action {
	case events.InterruptStop:
		o.setState(r, events.StateStopped)
		return events.InterruptStop, "", nil
	case events.InterruptInject:
		text := strings.TrimSpace(d.Text)
		if text == "" {
			r.logger.Warn().Msg("Empty intervention ignored")
			o.restore(r, previous)
			return events.InterruptContinue, "", nil
		}
		return events.InterruptInject, text, nil
	default:
		o.restore(r, previous)
		return events.InterruptContinue, "", nil
	}
}

func (o *Orchestrator) restore(r *run, state events.State) {
	if state == "" {
		return
	}
	o.setState(r, state)
}

func (o *Orchestrator) inject(r *run, text string) {
	r.history.Append(conversation.NewTextMessage(conversation.RoleUser, fmt.Sprintf(interventionText, text)))
	r.logger.Info().Msg("Human intervention appended")
}

func (o *Orchestrator) preloadContext(ctx context.Context, r *run) {
	if o.loader == nil {
		r.logger.Warn().Str("url", r.req.ContextURL).Msg("Context URL given but no context loader is configured")
		return
	}
	text, err := o.loader.Retrieve(ctx, r.req.ContextURL, r.req.Instruction)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", r.req.ContextURL).Msg("Context pre-load failed")
		return
	}
	r.history.Append(conversation.NewTextMessage(conversation.RoleUser, contextPrefix+text))
	r.logger.Info().Int("chars", len(text)).Msg("Context pre-loaded")
}

func (o *Orchestrator) save(ctx context.Context, r *run) {
	if o.checkpoints == nil {
		return
	}
	err := o.checkpoints.Save(&checkpoint.Checkpoint{
		RunID:       tracing.GetRunID(ctx),
		Instruction: r.req.Instruction,
		Session:     r.session,
		Step:        r.step,
		Messages:    r.history.Snapshot(),
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to save checkpoint")
	}
}

func (o *Orchestrator) setState(r *run, state events.State) {
	if r.state == state {
		return
	}
	r.state = state
	o.observer.OnStateChange(state)
}
