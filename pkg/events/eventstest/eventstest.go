// Package eventstest provides recording observers and scripted hosts.
package eventstest

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/toolexecutor"
)

// ToolResult is a recorded OnToolResult call.
type ToolResult struct {
	Result    toolexecutor.Result
	ToolUseID string
}

// Recorder records every notification.
type Recorder struct {
	mu          sync.Mutex
	Outputs     []conversation.ContentBlock
	ToolResults []ToolResult
	Responses   []events.BackendEvent
	States      []events.State
}

func (r *Recorder) OnOutput(block conversation.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outputs = append(r.Outputs, block)
}

func (r *Recorder) OnToolResult(result toolexecutor.Result, toolUseID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ToolResults = append(r.ToolResults, ToolResult{Result: result, ToolUseID: toolUseID})
}

func (r *Recorder) OnBackendResponse(event events.BackendEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = append(r.Responses, event)
}

func (r *Recorder) OnStateChange(state events.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.States = append(r.States, state)
}

// FinalReport returns the last reported final report, if any.
func (r *Recorder) FinalReport() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Responses) - 1; i >= 0; i-- {
		if r.Responses[i].FinalReport != "" {
			return r.Responses[i].FinalReport
		}
	}
	return ""
}

// Host answers input requests and interrupts from queues.
type Host struct {
	mu         sync.Mutex
	Answers    []string
	Decisions  []events.InterruptDecision
	Questions  []events.HumanInputRequest
	Interrupts []events.InterruptRequest
	// OnInterruptHook runs inside OnInterrupt before the decision is returned.
	OnInterruptHook func(req events.InterruptRequest)
}

func (h *Host) RequestInput(ctx context.Context, req events.HumanInputRequest) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Questions = append(h.Questions, req)
	if len(h.Answers) == 0 {
		return "", errors.New("eventstest: no answer scripted")
	}
	answer := h.Answers[0]
	h.Answers = h.Answers[1:]
	return answer, nil
}

func (h *Host) OnInterrupt(ctx context.Context, req events.InterruptRequest) (events.InterruptDecision, error) {
	h.mu.Lock()
	h.Interrupts = append(h.Interrupts, req)
	hook := h.OnInterruptHook
	var d events.InterruptDecision
	if len(h.Decisions) > 0 {
		d = h.Decisions[0]
		h.Decisions = h.Decisions[1:]
	} else {
		d = events.InterruptDecision{Action: events.InterruptContinue}
	}
	h.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return d, nil
}
