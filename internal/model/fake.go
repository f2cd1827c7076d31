package model

import (
	"context"
	"sync"
)

// ScriptedInvoker replays canned responses in order. Tests and the flow
// coordinator's dry-run mode use it in place of a live provider.
type ScriptedInvoker struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     []Request
}

// NewScriptedInvoker builds an invoker that returns the given responses
// one at a time, then repeats the last one.
func NewScriptedInvoker(responses ...*Response) *ScriptedInvoker {
	return &ScriptedInvoker{responses: responses}
}

// FailWith queues an error before the scripted responses.
func (s *ScriptedInvoker) FailWith(errs ...error) *ScriptedInvoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
	return s
}

// Generate implements Invoker.
func (s *ScriptedInvoker) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if len(s.responses) == 0 {
		return &Response{Text: "ok"}, nil
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

// Calls returns every request seen so far.
func (s *ScriptedInvoker) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}
