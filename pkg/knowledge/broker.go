package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/decision"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultBudget is the number of questions asked per consultation.
const DefaultBudget = 3

// Source answers free-text questions.
type Source interface {
	Ask(ctx context.Context, text string) (string, error)
}

// Store persists exchange turns. Implementations must be safe to call from
// the run loop goroutine.
type Store interface {
	Record(ctx context.Context, runID string, seq int, turn Turn) error
	Turns(ctx context.Context, runID string) ([]Turn, error)
	Close() error
}

const followUpSystemPrompt = `You review a conversation between an agent and a knowledge source.
The agent is gathering information needed to complete a task.
Decide whether the agent should ask the source a follow-up question.
Respond with a JSON object with exactly these keys:
  "needs_follow_up": boolean, true if the last answer is incomplete or raises a question the task depends on.
  "source_does_not_know": boolean, true if the source said it does not know or could not help.
  "next_query": string, the follow-up question to ask, or "" if none.`

// Config configures a Broker.
type Config struct {
	Source  Source
	Decider backend.TextCompleter
	Store   Store // optional
	Budget  int
	// Lenient treats a malformed follow-up decision as "no follow-up"
	// instead of failing the consultation.
	Lenient bool
	Logger  zerolog.Logger
}

// Broker runs the consultation protocol.
type Broker struct {
	source  Source
	decider backend.TextCompleter
	store   Store
	budget  int
	lenient bool
	logger  zerolog.Logger
}

// NewBroker creates a broker.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.Source == nil {
		return nil, errors.New("knowledge source is required")
	}
	if cfg.Decider == nil {
		return nil, errors.New("decision backend is required")
	}
	observability.EnsureRegistered()

	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	return &Broker{
		source:  cfg.Source,
		decider: cfg.Decider,
		store:   cfg.Store,
		budget:  budget,
		lenient: cfg.Lenient,
		logger:  cfg.Logger.With().Str("component", "knowledge").Logger(),
	}, nil
}

// NewExchange opens an empty exchange keyed by the run id carried in ctx.
func (b *Broker) NewExchange(ctx context.Context, instruction string) *Exchange {
	return NewExchange(tracing.GetRunID(ctx), instruction)
}

// InitialQuery opens a new exchange with a query derived from the
// instruction and follows up as needed. The exchange is keyed by the run id
// carried in ctx.
func (b *Broker) InitialQuery(ctx context.Context, instruction string) (*Exchange, error) {
	ex := b.NewExchange(ctx, instruction)
	query := fmt.Sprintf("I am working on the following task:\n%s\n\nWhat should I know to complete it?", instruction)
	if _, err := b.run(ctx, ex, query); err != nil {
		return ex, err
	}
	return ex, nil
}

// Consult asks query within ex, following up as needed. needsMore reports
// whether the last decision still wanted a follow-up.
func (b *Broker) Consult(ctx context.Context, ex *Exchange, query string) (*Exchange, bool, error) {
	needsMore, err := b.run(ctx, ex, query)
	return ex, needsMore, err
}

// RecordHuman appends a human escalation to the exchange.
func (b *Broker) RecordHuman(ctx context.Context, ex *Exchange, question, answer string) {
	b.record(ctx, ex, SpeakerAgent, question)
	b.record(ctx, ex, SpeakerHuman, answer)
}

func (b *Broker) run(ctx context.Context, ex *Exchange, query string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "triad.knowledge", "knowledge.consult")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, b.logger)

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		b.record(ctx, ex, SpeakerAgent, query)
		answer, err := b.source.Ask(ctx, query)
		if err != nil {
			return false, fmt.Errorf("knowledge source failed: %w", err)
		}
		b.record(ctx, ex, SpeakerSource, answer)
		attempts++

		d, err := b.decide(ctx, ex)
		if err != nil {
			return false, err
		}

		logger.Debug().
			Int("attempt", attempts).
			Bool("needs_follow_up", d.NeedsFollowUp).
			Bool("source_does_not_know", d.SourceDoesNotKnow).
			Msg("Follow-up decision")

		next := strings.TrimSpace(d.NextQuery)
		if !d.NeedsFollowUp || d.SourceDoesNotKnow || next == "" || attempts >= b.budget {
			span.SetAttributes(attribute.Int("attempts", attempts))
			return d.NeedsFollowUp, nil
		}
		query = next
	}
}

func (b *Broker) decide(ctx context.Context, ex *Exchange) (*decision.FollowUp, error) {
	prompt := fmt.Sprintf("Task:\n%s\n\nConversation so far:\n%s\n\nAnswer in JSON.", ex.Instruction, ex.Summary())
	raw, err := b.decider.CompleteText(ctx, followUpSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	d, err := decision.ParseFollowUp(raw)
	if err != nil {
		if b.lenient {
			b.logger.Warn().Err(err).Msg("Malformed follow-up decision, stopping consultation")
			return &decision.FollowUp{}, nil
		}
		return nil, err
	}
	return d, nil
}

func (b *Broker) record(ctx context.Context, ex *Exchange, speaker Speaker, text string) {
	seq, turn := ex.append(speaker, text)
	observability.RecordKnowledgeTurn(string(speaker))
	if b.store == nil {
		return
	}
	if err := b.store.Record(ctx, ex.RunID, seq, turn); err != nil {
		b.logger.Warn().Err(err).Int("seq", seq).Msg("Failed to persist knowledge turn")
	}
}
