package manager

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/backend/backendtest"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/decision"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/events/eventstest"
	"github.com/harun/triad/pkg/knowledge"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decider struct {
	replies []string
	systems []string
	prompts []string
}

func (d *decider) CompleteText(ctx context.Context, system, prompt string) (string, error) {
	d.systems = append(d.systems, system)
	d.prompts = append(d.prompts, prompt)
	if len(d.replies) == 0 {
		return "", errors.New("no decision scripted")
	}
	reply := d.replies[0]
	d.replies = d.replies[1:]
	return reply, nil
}

type fakeBroker struct {
	initialErr error
	consultErr error
	unanswered bool
	queries    []string
	human      [][2]string
	initials   int
	opened     int
	exchanges  []*knowledge.Exchange
}

func (b *fakeBroker) NewExchange(ctx context.Context, instruction string) *knowledge.Exchange {
	b.opened++
	return knowledge.NewExchange("run", instruction)
}

func (b *fakeBroker) InitialQuery(ctx context.Context, instruction string) (*knowledge.Exchange, error) {
	b.initials++
	return knowledge.NewExchange("run", instruction), b.initialErr
}

func (b *fakeBroker) Consult(ctx context.Context, ex *knowledge.Exchange, query string) (*knowledge.Exchange, bool, error) {
	b.queries = append(b.queries, query)
	b.exchanges = append(b.exchanges, ex)
	return ex, b.unanswered, b.consultErr
}

func (b *fakeBroker) RecordHuman(ctx context.Context, ex *knowledge.Exchange, question, answer string) {
	b.human = append(b.human, [2]string{question, answer})
}

type fixture struct {
	client  *backendtest.Scripted
	decider *decider
	broker  *fakeBroker
	host    *eventstest.Host
	rec     *eventstest.Recorder
}

func newManager(t *testing.T, f *fixture, mutate func(*Config)) *Manager {
	t.Helper()
	if f.rec == nil {
		f.rec = &eventstest.Recorder{}
	}
	cfg := Config{
		Backend:     f.client,
		Instruction: "book a table",
		MaxTokens:   1024,
		Observer:    f.rec,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC) },
	}
	if f.broker != nil {
		cfg.Broker = f.broker
		cfg.Decider = f.decider
	}
	if f.host != nil {
		cfg.Host = f.host
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func workHistory() *conversation.History {
	return conversation.NewHistory([]conversation.Message{
		conversation.NewTextMessage(conversation.RoleUser, "book a table"),
		conversation.NewTextMessage(conversation.RoleWorker, "Opened the booking site."),
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Backend: backendtest.New(), Broker: &fakeBroker{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decision backend")
}

func TestCheckProgress_FirstSessionPlans(t *testing.T) {
	f := &fixture{client: backendtest.New().On("manager", backendtest.Text("  1. open the site\n2. book  "))}
	m := newManager(t, f, nil)
	h := workHistory()

	plan, err := m.CheckProgress(context.Background(), h, PlanRequest{Session: 0})

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "1. open the site\n2. book", *plan)
	assert.Equal(t, 2, h.Len())

	req := f.client.Requests("manager")[0]
	assert.Equal(t, 1024, req.MaxTokens)
	assert.Contains(t, req.System, "Friday, March 7, 2025")
	assert.Contains(t, req.System, "book a table")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, initialPlanPrompt, req.Messages[2].Text())

	require.Len(t, f.rec.Responses, 1)
	assert.Equal(t, events.RoleManager, f.rec.Responses[0].Role)
	assert.Equal(t, -1, f.rec.Responses[0].Step)
	assert.Empty(t, f.rec.Responses[0].FinalReport)
}

func TestCheckProgress_LaterSessionWithoutBroker(t *testing.T) {
	f := &fixture{client: backendtest.New()}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 1})

	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Empty(t, f.client.Requests(""))
}

func TestCheckProgress_ForcedReplan(t *testing.T) {
	f := &fixture{client: backendtest.New().On("manager", backendtest.Text("revised"))}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 3, ForceReplan: true})

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "revised", *plan)
	assert.Equal(t, revisedPlanPrompt, f.client.Requests("manager")[0].Messages[2].Text())
}

func TestCheckProgress_ReplanEverySession(t *testing.T) {
	f := &fixture{client: backendtest.New().On("manager", backendtest.Text("again"))}
	m := newManager(t, f, func(c *Config) { c.ReplanEverySession = true })

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 2})

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "again", *plan)
}

func TestCheckProgress_EmptyPlanIsNil(t *testing.T) {
	f := &fixture{client: backendtest.New().On("manager", backendtest.Text("   "))}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 0})

	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestCheckProgress_BackendError(t *testing.T) {
	f := &fixture{client: backendtest.New().On("manager", backendtest.Fail(&backend.BackendError{Message: "overloaded"}))}
	m := newManager(t, f, nil)

	_, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 0})

	require.Error(t, err)
	var be *backend.BackendError
	assert.ErrorAs(t, err, &be)
}

func TestCheckProgress_InitialQuery(t *testing.T) {
	f := &fixture{
		client:  backendtest.New().On("manager", backendtest.Text("plan")),
		decider: &decider{},
		broker:  &fakeBroker{},
	}
	m := newManager(t, f, nil)

	_, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 0})
	require.NoError(t, err)

	assert.Equal(t, 1, f.broker.initials)
	assert.Zero(t, f.broker.opened)
	assert.Empty(t, f.decider.prompts)
}

func TestCheckProgress_InitialQuerySourceFailure(t *testing.T) {
	f := &fixture{
		client:  backendtest.New().On("manager", backendtest.Text("plan")),
		decider: &decider{},
		broker:  &fakeBroker{initialErr: errors.New("knowledge source failed: connection refused")},
	}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 0})

	require.NoError(t, err)
	require.NotNil(t, plan)
}

func TestCheckProgress_InitialQueryMalformedDecision(t *testing.T) {
	f := &fixture{
		client:  backendtest.New(),
		decider: &decider{},
		broker:  &fakeBroker{initialErr: &decision.ParseError{Kind: decision.KindDecision, Reason: "not JSON"}},
	}
	m := newManager(t, f, nil)

	_, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 0})

	var pe *decision.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, f.client.Requests("manager"))
}

func TestCheckProgress_QueryDeclined(t *testing.T) {
	f := &fixture{
		client:  backendtest.New(),
		decider: &decider{replies: []string{`{"needs_query": false, "query": ""}`}},
		broker:  &fakeBroker{},
	}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 1})

	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Empty(t, f.broker.queries)
	require.Len(t, f.decider.prompts, 1)
	assert.Contains(t, f.decider.prompts[0], "worker: Opened the booking site.")
}

func TestCheckProgress_ConsultAndEscalate(t *testing.T) {
	f := &fixture{
		client: backendtest.New().On("manager", backendtest.Text("use the saved card")),
		decider: &decider{replies: []string{
			`{"needs_query": true, "query": "which restaurant?"}`,
			"```json\n{\"needs_human\": true, \"question\": \"Which card should I use?\"}\n```",
		}},
		broker: &fakeBroker{},
		host:   &eventstest.Host{Answers: []string{"the blue one"}},
	}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 2})

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "use the saved card", *plan)

	assert.Equal(t, []string{"which restaurant?"}, f.broker.queries)
	require.Len(t, f.host.Questions, 1)
	assert.Equal(t, "Which card should I use?", f.host.Questions[0].Question)
	assert.Equal(t, 2, f.host.Questions[0].Session)
	assert.NotEmpty(t, f.host.Questions[0].ID)
	assert.Equal(t, [][2]string{{"Which card should I use?", "the blue one"}}, f.broker.human)
	assert.Equal(t, []events.State{events.StateHumanInput, events.StatePlanning}, f.rec.States)
	assert.Equal(t, humanSystemPrompt, f.decider.systems[1])
	assert.Equal(t, 1, f.broker.opened)
	assert.NotContains(t, f.decider.prompts[1], "could not fully answer")
}

func TestCheckProgress_UnansweredQueryReachesEscalation(t *testing.T) {
	f := &fixture{
		client: backendtest.New().On("manager", backendtest.Text("plan a"), backendtest.Text("plan b")),
		decider: &decider{replies: []string{
			`{"needs_query": true, "query": "which floor?"}`,
			`{"needs_human": false, "question": ""}`,
			`{"needs_query": true, "query": "which room?"}`,
			`{"needs_human": false, "question": ""}`,
		}},
		broker: &fakeBroker{unanswered: true},
	}
	m := newManager(t, f, nil)

	_, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 1})
	require.NoError(t, err)
	_, err = m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 2})
	require.NoError(t, err)

	require.Len(t, f.decider.prompts, 4)
	assert.Contains(t, f.decider.prompts[1], "The knowledge source could not fully answer the last question.")
	assert.Equal(t, 1, f.broker.opened, "one exchange per run")
	require.Len(t, f.broker.exchanges, 2)
	assert.Same(t, f.broker.exchanges[0], f.broker.exchanges[1])
}

func TestCheckProgress_ConsultWithoutEscalation(t *testing.T) {
	f := &fixture{
		client: backendtest.New().On("manager", backendtest.Text("new plan")),
		decider: &decider{replies: []string{
			`{"needs_query": true, "query": "opening hours?"}`,
			`{"needs_human": false, "question": ""}`,
		}},
		broker: &fakeBroker{},
		host:   &eventstest.Host{},
	}
	m := newManager(t, f, nil)

	plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 1})

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Empty(t, f.host.Questions)
	assert.Empty(t, f.broker.human)
}

func TestCheckProgress_MalformedDecision(t *testing.T) {
	tests := []struct {
		name    string
		lenient bool
	}{
		{name: "abort", lenient: false},
		{name: "lenient", lenient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fixture{
				client:  backendtest.New(),
				decider: &decider{replies: []string{"sure, ask something"}},
				broker:  &fakeBroker{},
			}
			m := newManager(t, f, func(c *Config) { c.Lenient = tt.lenient })

			plan, err := m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 1})

			assert.Nil(t, plan)
			if tt.lenient {
				assert.NoError(t, err)
				return
			}
			var pe *decision.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, decision.KindDecision, pe.Kind)
		})
	}
}

func TestCheckProgress_KnowledgeInPlanPrompt(t *testing.T) {
	source := sourceFunc(func(ctx context.Context, text string) (string, error) {
		return "The restaurant closes at 22:00.", nil
	})
	d := &decider{replies: []string{`{"needs_follow_up": false, "source_does_not_know": false, "next_query": ""}`}}
	broker, err := knowledge.NewBroker(knowledge.Config{Source: source, Decider: d, Logger: zerolog.Nop()})
	require.NoError(t, err)

	client := backendtest.New().On("manager", backendtest.Text("plan"))
	m, err := New(Config{
		Backend:     client,
		Instruction: "book a table",
		Broker:      broker,
		Decider:     d,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = m.CheckProgress(context.Background(), workHistory(), PlanRequest{Session: 0})
	require.NoError(t, err)

	prompt := client.Requests("manager")[0].Messages[2].Text()
	assert.Contains(t, prompt, initialPlanPrompt)
	assert.Contains(t, prompt, "closes at 22:00")
}

type sourceFunc func(ctx context.Context, text string) (string, error)

func (f sourceFunc) Ask(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

func TestReportProgress(t *testing.T) {
	f := &fixture{client: backendtest.New().On("manager", backendtest.Text("Table booked for 8pm."))}
	m := newManager(t, f, nil)
	h := workHistory()

	report, err := m.ReportProgress(context.Background(), h)

	require.NoError(t, err)
	assert.Equal(t, "Table booked for 8pm.", report)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "Table booked for 8pm.", f.rec.FinalReport())
	assert.Equal(t, reportPrompt, f.client.Requests("manager")[0].Messages[2].Text())
}

func TestProgressDigest(t *testing.T) {
	long := make([]byte, digestEntryMax+10)
	for i := range long {
		long[i] = 'x'
	}
	msgs := []conversation.Message{
		conversation.NewTextMessage(conversation.RoleUser, "start"),
		{Role: conversation.RoleUser, Content: []conversation.ContentBlock{conversation.NewToolResultBlock("a", nil, false)}},
		conversation.NewTextMessage(conversation.RoleWorker, string(long)),
	}

	digest := progressDigest(msgs)

	assert.Contains(t, digest, "user: start\nworker: xxx")
	assert.Contains(t, digest, "...")
}

func TestProgressDigest_MultiByte(t *testing.T) {
	text := "a" + strings.Repeat("日", digestEntryMax)
	msgs := []conversation.Message{conversation.NewTextMessage(conversation.RoleWorker, text)}

	digest := progressDigest(msgs)

	assert.True(t, utf8.ValidString(digest))
	assert.True(t, strings.HasSuffix(digest, "日..."))
	assert.LessOrEqual(t, len(digest), len("worker: ")+digestEntryMax+len("..."))
}
