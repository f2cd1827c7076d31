package tool

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedExecutor resolves calls from a fixed table. Tests and dry runs
// use it in place of a live MCP server.
type ScriptedExecutor struct {
	mu      sync.Mutex
	results map[string]string // tool name -> output
	calls   []Call
}

// NewScriptedExecutor builds an executor answering from results.
func NewScriptedExecutor(results map[string]string) *ScriptedExecutor {
	if results == nil {
		results = map[string]string{}
	}
	return &ScriptedExecutor{results: results}
}

// List implements Executor.
func (s *ScriptedExecutor) List(ctx context.Context) ([]Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs := make([]Spec, 0, len(s.results))
	for name := range s.results {
		specs = append(specs, Spec{Name: name, Description: "scripted"})
	}
	return specs, nil
}

// Execute implements Executor. Unknown tools produce a failed outcome.
func (s *ScriptedExecutor) Execute(ctx context.Context, call Call) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)

	output, ok := s.results[call.Name]
	if !ok {
		return &Outcome{
			CallID: call.ID,
			Output: fmt.Sprintf("unknown tool: %s", call.Name),
			Failed: true,
		}, nil
	}
	return &Outcome{CallID: call.ID, Output: output}, nil
}

// Calls returns every call seen so far.
func (s *ScriptedExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
