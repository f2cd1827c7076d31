// Package pipeline runs a request through an ordered list of steps, each
// bound to a lifecycle state. Steps execute sequentially under their own
// deadlines; a failing step halts the pipeline unless it is marked best
// effort.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/request"
)

// InstrumentationName identifies this package's tracer.
const InstrumentationName = "github.com/fyrsmithlabs/agentd/internal/pipeline"

func tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// RunFunc is the work a step performs.
type RunFunc func(ctx context.Context, req *request.ProcessingRequest) error

// Step is one stage of a pipeline. Run executes before the transition to
// Target commits; its error fails the request unless BestEffort is set, in
// which case the error is logged and the pipeline continues.
type Step struct {
	Name       string
	Target     request.State
	Timeout    time.Duration
	BestEffort bool
	Run        RunFunc
}

// Pipeline executes steps in order over a state machine.
type Pipeline struct {
	steps   []Step
	machine *request.Machine
	log     *logging.Logger
}

// New builds a pipeline. Step order must follow the transition table;
// building does not validate it because the machine rejects illegal paths
// at execution time with full diagnostics.
func New(steps []Step, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewNop()
	}
	p := &Pipeline{steps: steps, machine: request.NewMachine(), log: log}
	for _, step := range steps {
		p.machine.OnEnter(step.Target, p.wrap(step))
	}
	return p
}

// wrap turns a step into a state handler with deadline and best-effort
// semantics applied.
func (p *Pipeline) wrap(step Step) request.Handler {
	return func(ctx context.Context, req *request.ProcessingRequest) error {
		if step.Run == nil {
			return nil
		}
		ctx, span := tracer().Start(ctx, "pipeline."+step.Name,
			trace.WithAttributes(
				attribute.String("request.id", req.ID),
				attribute.String("pipeline.target", string(step.Target))))
		defer span.End()

		runCtx := ctx
		if step.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, step.Timeout)
			defer cancel()
		}

		started := time.Now()
		err := step.Run(runCtx, req)
		elapsed := time.Since(started)

		if err != nil && step.BestEffort {
			p.log.Warn(ctx, "best-effort step failed, continuing",
				zap.String("step", step.Name),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			span.RecordError(err)
			// The transition still commits, but the step is not
			// recorded as completed.
			return nil
		}
		if err != nil {
			span.RecordError(err)
			return err
		}
		req.MarkStepDone(step.Name)
		p.log.Debug(ctx, "pipeline step done",
			zap.String("step", step.Name),
			zap.Duration("elapsed", elapsed))
		return nil
	}
}

// Execute drives req through every step. It stops at the first failed
// transition; the machine has already committed the request to Failed or
// Cancelled by then, so callers only propagate the error.
func (p *Pipeline) Execute(ctx context.Context, req *request.ProcessingRequest) error {
	for _, step := range p.steps {
		if err := p.machine.Transition(ctx, req, step.Target); err != nil {
			return err
		}
	}
	return nil
}

// Steps lists the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, 0, len(p.steps))
	for _, step := range p.steps {
		names = append(names, step.Name)
	}
	return names
}
