// Package request defines the processing request, its lifecycle states, and
// the state machine that enforces legal transitions.
package request

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/agentd/internal/source"
)

// State is a lifecycle state of a processing request.
type State string

const (
	StateReceived           State = "received"
	StateValidated          State = "validated"
	StatePlanned            State = "planned"
	StateContextGathering   State = "context_gathering"
	StateProcessing         State = "processing"
	StateToolExecution      State = "tool_execution"
	StateResponseFormatting State = "response_formatting"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateCancelled          State = "cancelled"
)

// ValidTransitions defines the total transition table. Failed and Cancelled
// are reachable from every non-terminal state; the table lists only the
// forward edges, and the machine adds the failure edges uniformly.
var ValidTransitions = map[State][]State{
	StateReceived:           {StateValidated},
	StateValidated:          {StatePlanned},
	StatePlanned:            {StateContextGathering, StateProcessing},
	StateContextGathering:   {StateProcessing},
	StateProcessing:         {StateToolExecution, StateResponseFormatting},
	StateToolExecution:      {StateProcessing, StateResponseFormatting, StateCompleted},
	StateResponseFormatting: {StateCompleted},
	StateCompleted:          {},
	StateFailed:             {},
	StateCancelled:          {},
}

// CanTransitionTo checks if a transition from s to target is legal.
func (s State) CanTransitionTo(target State) bool {
	if s.IsTerminal() {
		return false
	}
	if target == StateFailed || target == StateCancelled {
		return true
	}
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// FailureRecord preserves diagnostics when a request fails. From holds the
// state the request was in before the failing transition committed.
type FailureRecord struct {
	From     State     `json:"from"`
	Target   State     `json:"target"`
	Cause    string    `json:"cause"`
	Code     string    `json:"code"`
	FailedAt time.Time `json:"failed_at"`
}

// ProcessingRequest is the unit of work flowing through the pipeline. It is
// owned exclusively by the pipeline execution until it reaches a terminal
// state; only the cancellation flag may be touched from outside.
type ProcessingRequest struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Payload        string         `json:"payload"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Workspace      string         `json:"workspace,omitempty"`
	State          State          `json:"state"`
	Bundle         *source.Bundle `json:"bundle,omitempty"`
	CompletedSteps []string       `json:"completed_steps"`
	StatePath      []State        `json:"state_path"`
	Failure        *FailureRecord `json:"failure,omitempty"`
	Output         string         `json:"output,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	cancelled atomic.Bool
}

// New creates a request in the Received state.
func New(reqType, payload string) *ProcessingRequest {
	now := time.Now().UTC()
	return &ProcessingRequest{
		ID:        uuid.NewString(),
		Type:      reqType,
		Payload:   payload,
		State:     StateReceived,
		StatePath: []State{StateReceived},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Cancel requests cooperative cancellation. Safe to call from any goroutine;
// the pipeline observes it at the next transition boundary.
func (r *ProcessingRequest) Cancel() {
	r.cancelled.Store(true)
}

// CancelRequested reports whether cancellation has been requested.
func (r *ProcessingRequest) CancelRequested() bool {
	return r.cancelled.Load()
}

// commit moves the request to a new state, recording the path.
func (r *ProcessingRequest) commit(target State) {
	r.State = target
	r.StatePath = append(r.StatePath, target)
	r.UpdatedAt = time.Now().UTC()
}

// MarkStepDone appends a completed pipeline step name.
func (r *ProcessingRequest) MarkStepDone(step string) {
	r.CompletedSteps = append(r.CompletedSteps, step)
}
