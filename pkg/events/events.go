// Package events defines the sink and host contracts through which the run
// loop reports progress and asks for human input.
package events

import (
	"context"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/toolexecutor"
)

// State is a phase of the run loop.
type State string

const (
	StatePlanning    State = "planning"
	StateStepping    State = "stepping"
	StateReviewing   State = "reviewing"
	StateHumanInput  State = "human_input"
	StateInterrupted State = "interrupted"
	StateDone        State = "done"
	StateExhausted   State = "exhausted"
	StateStopped     State = "stopped"
)

// Terminal reports whether the loop ends in s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateExhausted, StateStopped:
		return true
	case StatePlanning, StateStepping, StateReviewing, StateHumanInput, StateInterrupted:
		return false
	default:
		panic("events: unknown state " + string(s))
	}
}

// Role names which agent produced a backend response.
type Role string

const (
	RoleWorker  Role = "worker"
	RoleManager Role = "manager"
	RoleQA      Role = "qa"
)

// BackendEvent describes one backend response. Step is -1 when the call is
// not tied to a worker step.
type BackendEvent struct {
	Raw         string
	Role        Role
	Session     int
	Step        int
	IsDone      bool
	FinalReport string
}

// Observer receives progress notifications. Implementations must not block
// for long; the loop waits for each call.
type Observer interface {
	OnOutput(block conversation.ContentBlock)
	OnToolResult(result toolexecutor.Result, toolUseID string)
	OnBackendResponse(event BackendEvent)
	OnStateChange(state State)
}

// HumanInputRequest asks the human a free-text question.
type HumanInputRequest struct {
	ID       string
	Question string
	Session  int
}

// InterruptRequest is raised when the loop stops at a safe point after an
// interrupt.
type InterruptRequest struct {
	Session int
	Step    int
}

// InterruptAction is the human's answer to an interrupt.
type InterruptAction string

const (
	InterruptContinue InterruptAction = "continue"
	InterruptStop     InterruptAction = "stop"
	InterruptInject   InterruptAction = "inject"
)

// InterruptDecision carries the action and, for inject, the extra text.
type InterruptDecision struct {
	Action InterruptAction
	Text   string
}

// Host supplies human input. Both calls may block.
type Host interface {
	RequestInput(ctx context.Context, req HumanInputRequest) (string, error)
	OnInterrupt(ctx context.Context, req InterruptRequest) (InterruptDecision, error)
}

// Nop is an Observer that ignores everything.
type Nop struct{}

func (Nop) OnOutput(conversation.ContentBlock)       {}
func (Nop) OnToolResult(toolexecutor.Result, string) {}
func (Nop) OnBackendResponse(BackendEvent)           {}
func (Nop) OnStateChange(State)                      {}

// Multi fans notifications out to several observers in order.
type Multi []Observer

func (m Multi) OnOutput(block conversation.ContentBlock) {
	for _, o := range m {
		o.OnOutput(block)
	}
}

func (m Multi) OnToolResult(result toolexecutor.Result, toolUseID string) {
	for _, o := range m {
		o.OnToolResult(result, toolUseID)
	}
}

func (m Multi) OnBackendResponse(event BackendEvent) {
	for _, o := range m {
		o.OnBackendResponse(event)
	}
}

func (m Multi) OnStateChange(state State) {
	for _, o := range m {
		o.OnStateChange(state)
	}
}
