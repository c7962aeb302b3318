package orchestrator

import (
	"context"

	"github.com/harun/triad/pkg/checkpoint"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/decision"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/manager"
	"github.com/harun/triad/pkg/worker"
)

// Worker runs one worker step against the history.
type Worker interface {
	Step(ctx context.Context, h *conversation.History, session, step int) (*worker.StepResult, error)
}

// Manager plans sessions and writes the final report.
type Manager interface {
	CheckProgress(ctx context.Context, h *conversation.History, req manager.PlanRequest) (*string, error)
	ReportProgress(ctx context.Context, h *conversation.History) (string, error)
}

// Reviewer decides whether the instruction goal has been achieved.
type Reviewer interface {
	Check(ctx context.Context, h *conversation.History, session, step int) (*decision.Verdict, string, error)
}

// Checkpointer persists the run.
type Checkpointer interface {
	Save(cp *checkpoint.Checkpoint) error
}

// ContextLoader fetches text relevant to query from url.
type ContextLoader interface {
	Retrieve(ctx context.Context, url, query string) (string, error)
}

// MalformedPolicy decides what happens when the QA verdict is not valid JSON.
type MalformedPolicy string

const (
	// MalformedAbort fails the run with the parse error.
	MalformedAbort MalformedPolicy = "abort"
	// MalformedIncomplete treats the verdict as incomplete and keeps going.
	MalformedIncomplete MalformedPolicy = "incomplete"
)

// InferSession asks Run to derive the start session from the plan messages
// already present in the seeded history.
const InferSession = -1

const (
	DefaultMaxSessions = 10
	DefaultMaxSteps    = 5
)

// RunRequest starts or resumes a run.
type RunRequest struct {
	Instruction  string
	History      []conversation.Message
	StartSession int
	ContextURL   string
}

// Result is the outcome of a run. History is always populated, including
// when Run returns an error.
type Result struct {
	History  []conversation.Message
	Status   events.State
	Sessions int
	Steps    int
	Report   string
}

const (
	contextPrefix     = "Here is some relevant context for the task:\n"
	planSuffix        = "\n\nPlease follow the plan to complete the task."
	interventionText  = "The human user intervened with the following additional instructions: %s"
	continuationText  = "The task is not complete yet. Feedback from the QA agent:\n%s\n\nPlease continue working on the task."
	continueText      = "The task is not complete yet. Please continue working on the task."
	malformedFeedback = "The QA review could not be understood."
)
