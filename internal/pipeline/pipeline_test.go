package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/request"
)

func noop(ctx context.Context, req *request.ProcessingRequest) error { return nil }

func linearSteps() []Step {
	return []Step{
		{Name: "validate", Target: request.StateValidated, Run: noop},
		{Name: "plan", Target: request.StatePlanned, Run: noop},
		{Name: "process", Target: request.StateProcessing, Run: noop},
		{Name: "format", Target: request.StateResponseFormatting, Run: noop},
		{Name: "complete", Target: request.StateCompleted, Run: noop},
	}
}

func TestPipelineRunsAllSteps(t *testing.T) {
	p := New(linearSteps(), nil)
	req := request.New("chat", "hello")

	require.NoError(t, p.Execute(context.Background(), req))
	assert.Equal(t, request.StateCompleted, req.State)
	assert.Equal(t, []string{"validate", "plan", "process", "format", "complete"}, req.CompletedSteps)
}

func TestPipelineHaltsOnFailure(t *testing.T) {
	boom := fault.Dependency("model", errors.New("down"))
	steps := linearSteps()
	steps[2].Run = func(ctx context.Context, req *request.ProcessingRequest) error {
		return boom
	}
	p := New(steps, nil)
	req := request.New("chat", "hello")

	err := p.Execute(context.Background(), req)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, request.StateFailed, req.State)
	assert.Equal(t, []string{"validate", "plan"}, req.CompletedSteps)
	require.NotNil(t, req.Failure)
	assert.Equal(t, request.StatePlanned, req.Failure.From)
}

func TestPipelineBestEffortStepContinues(t *testing.T) {
	steps := []Step{
		{Name: "validate", Target: request.StateValidated, Run: noop},
		{Name: "plan", Target: request.StatePlanned, Run: noop},
		{
			Name:       "gather",
			Target:     request.StateContextGathering,
			BestEffort: true,
			Run: func(ctx context.Context, req *request.ProcessingRequest) error {
				return errors.New("sources flaky")
			},
		},
		{Name: "process", Target: request.StateProcessing, Run: noop},
		{Name: "format", Target: request.StateResponseFormatting, Run: noop},
		{Name: "complete", Target: request.StateCompleted, Run: noop},
	}
	p := New(steps, nil)
	req := request.New("chat", "hello")

	require.NoError(t, p.Execute(context.Background(), req))
	assert.Equal(t, request.StateCompleted, req.State)
	assert.NotContains(t, req.CompletedSteps, "gather",
		"a failed best-effort step does not count as done")
	assert.Contains(t, req.CompletedSteps, "process")
}

func TestPipelineStepTimeout(t *testing.T) {
	steps := linearSteps()
	steps[2].Timeout = 20 * time.Millisecond
	steps[2].Run = func(ctx context.Context, req *request.ProcessingRequest) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return fault.Timeout("process", ctx.Err())
		}
	}
	p := New(steps, nil)
	req := request.New("chat", "hello")

	err := p.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fault.KindTimeout, fault.KindOf(err))
	assert.Equal(t, request.StateFailed, req.State)
}

func TestPipelineCancellationBetweenSteps(t *testing.T) {
	steps := linearSteps()
	req := request.New("chat", "hello")
	steps[1].Run = func(ctx context.Context, r *request.ProcessingRequest) error {
		// Cancellation arrives while a step is running; the next
		// transition boundary observes it.
		req.Cancel()
		return nil
	}
	p := New(steps, nil)

	err := p.Execute(context.Background(), req)
	assert.ErrorIs(t, err, request.ErrCancelled)
	assert.Equal(t, request.StateCancelled, req.State)
	assert.Contains(t, req.CompletedSteps, "plan",
		"the in-flight step finishes before cancellation lands")
	assert.NotContains(t, req.CompletedSteps, "process")
}

func TestPipelineSteps(t *testing.T) {
	p := New(linearSteps(), nil)
	assert.Equal(t, []string{"validate", "plan", "process", "format", "complete"}, p.Steps())
}
