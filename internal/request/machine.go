package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/fault"
)

// ErrCancelled is returned by Transition when cancellation short-circuits a
// requested transition. The request has already been committed to Cancelled
// when this is returned.
var ErrCancelled = errors.New("request cancelled")

// ErrInvalidTransition is the sentinel wrapped into invalid-transition faults.
var ErrInvalidTransition = errors.New("invalid state transition")

// Handler runs when a request enters a state, before the transition commits.
// A handler error aborts the transition and fails the request.
type Handler func(ctx context.Context, req *ProcessingRequest) error

// Machine enforces the transition table and drives per-state handlers.
// Machines hold no per-request state and are safe for concurrent use as long
// as each request is driven by a single goroutine, which the pipeline
// guarantees.
type Machine struct {
	handlers map[State]Handler
}

// NewMachine creates a state machine with no handlers bound.
func NewMachine() *Machine {
	return &Machine{handlers: make(map[State]Handler)}
}

// OnEnter binds a handler to a target state. The handler executes before
// the transition to that state is committed.
func (m *Machine) OnEnter(state State, h Handler) {
	m.handlers[state] = h
}

// Transition moves req toward target.
//
// Cancellation is checked first: if the request or the context has been
// cancelled, the request short-circuits to Cancelled regardless of target
// and ErrCancelled is returned. An illegal transition returns an
// invalid-transition fault and forces the request into Failed. A handler
// error fails the request, preserving the pre-transition state in the
// failure record for diagnostics.
func (m *Machine) Transition(ctx context.Context, req *ProcessingRequest, target State) error {
	if req.State.IsTerminal() {
		return fault.Internal("request.transition",
			fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, req.State))
	}

	if req.CancelRequested() || ctx.Err() != nil {
		req.commit(StateCancelled)
		return ErrCancelled
	}

	if !req.State.CanTransitionTo(target) {
		err := fault.Internal("request.transition",
			fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.State, target))
		m.fail(req, target, err)
		return err
	}

	if handler, ok := m.handlers[target]; ok {
		if err := handler(ctx, req); err != nil {
			m.fail(req, target, err)
			return err
		}
	}

	req.commit(target)
	return nil
}

// fail records diagnostics and commits the request to Failed. The state the
// request held before the failing transition is preserved in the record.
func (m *Machine) fail(req *ProcessingRequest, target State, cause error) {
	req.Failure = &FailureRecord{
		From:     req.State,
		Target:   target,
		Cause:    cause.Error(),
		Code:     string(fault.KindOf(cause)),
		FailedAt: time.Now().UTC(),
	}
	req.commit(StateFailed)
}
