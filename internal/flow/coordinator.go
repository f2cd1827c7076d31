package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/assemble"
	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/events"
	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/pipeline"
	"github.com/fyrsmithlabs/agentd/internal/request"
	"github.com/fyrsmithlabs/agentd/internal/resilience"
	"github.com/fyrsmithlabs/agentd/internal/resource"
	"github.com/fyrsmithlabs/agentd/internal/router"
	"github.com/fyrsmithlabs/agentd/internal/source"
	"github.com/fyrsmithlabs/agentd/internal/store"
	"github.com/fyrsmithlabs/agentd/internal/tool"
)

// maxToolRounds bounds the model-tool loop so a confused model cannot spin
// forever.
const maxToolRounds = 5

// Coordinator wires the classifier, pipeline, resources, and collaborators
// into the request processing flow.
type Coordinator struct {
	cfg       *config.Config
	resources *resource.Manager
	assembler *assemble.Assembler
	invoker   model.Invoker
	executor  tool.Executor
	store     *store.Store
	bus       events.Bus
	history   *source.HistoryStore
	breakers  *resilience.Registry
	pressure  func() bool
	log       *logging.Logger

	mu       sync.Mutex
	inFlight map[string]*request.ProcessingRequest
}

// Deps bundles the coordinator's collaborators. Store, bus, history, and
// breakers may be nil; the matching behavior is skipped.
type Deps struct {
	Resources *resource.Manager
	Assembler *assemble.Assembler
	Invoker   model.Invoker
	Executor  tool.Executor
	Store     *store.Store
	Bus       events.Bus
	History   *source.HistoryStore
	Breakers  *resilience.Registry
	Log       *logging.Logger

	// Pressure reports whether the system is degraded; while it returns
	// true, retry policies collapse to a single attempt. Nil means never.
	Pressure func() bool
}

// New creates a coordinator.
func New(cfg *config.Config, deps Deps) *Coordinator {
	log := deps.Log
	if log == nil {
		log = logging.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		resources: deps.Resources,
		assembler: deps.Assembler,
		invoker:   deps.Invoker,
		executor:  deps.Executor,
		store:     deps.Store,
		bus:       deps.Bus,
		history:   deps.History,
		breakers:  deps.Breakers,
		pressure:  deps.Pressure,
		log:       log,
		inFlight:  make(map[string]*request.ProcessingRequest),
	}
}

// Process drives req to a terminal state and returns it. The returned
// error mirrors req.Failure for failed requests; a completed request
// returns nil.
func (c *Coordinator) Process(ctx context.Context, req *request.ProcessingRequest) error {
	ctx = logging.WithRequestID(ctx, req.ID)
	if req.ConversationID != "" {
		ctx = logging.WithConversationID(ctx, req.ConversationID)
	}

	if err := c.resources.Admit(ctx); err != nil {
		c.finishRejected(ctx, req, err)
		return err
	}
	ticket, err := c.resources.Acquire(ctx, resource.PoolRequest)
	if err != nil {
		c.finishRejected(ctx, req, err)
		return err
	}
	defer c.resources.Release(ticket)

	c.track(req)
	defer c.untrack(req.ID)

	decision := router.Classify(req)
	ctx = logging.WithShape(ctx, string(decision.Shape))
	c.log.Info(ctx, "request classified",
		zap.String("type", req.Type),
		zap.String("shape", string(decision.Shape)),
		zap.Float64("complexity", decision.Complexity),
		zap.String("reason", decision.Reason))

	p := pipeline.New(c.steps(decision.Shape), c.log)
	execErr := p.Execute(ctx, req)

	c.finish(ctx, req)
	return execErr
}

// Cancel requests cooperative cancellation of an in-flight request.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.inFlight[id]
	if !ok {
		return false
	}
	req.Cancel()
	return true
}

// Lookup returns an in-flight request, or falls back to the store for
// finished ones.
func (c *Coordinator) Lookup(ctx context.Context, id string) (*request.ProcessingRequest, error) {
	c.mu.Lock()
	req, ok := c.inFlight[id]
	c.mu.Unlock()
	if ok {
		return req, nil
	}
	if c.store == nil {
		return nil, fault.Validationf("flow.lookup", "unknown request %s", id)
	}
	return c.store.LoadState(ctx, id)
}

func (c *Coordinator) track(req *request.ProcessingRequest) {
	c.mu.Lock()
	c.inFlight[req.ID] = req
	c.mu.Unlock()
}

func (c *Coordinator) untrack(id string) {
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

// steps builds the pipeline for a shape. Every shape validates and plans;
// context gathering and tool execution attach per the shape's needs.
func (c *Coordinator) steps(shape router.Shape) []pipeline.Step {
	ps := &processState{shape: shape}

	steps := []pipeline.Step{
		{Name: "validate", Target: request.StateValidated, Run: c.validate},
		{Name: "plan", Target: request.StatePlanned, Run: nil},
	}

	if shape.NeedsContext() {
		// Not best-effort: the assembler already tolerates partial
		// source failures, so an error here means every source failed
		// and the request must not proceed on an empty bundle.
		steps = append(steps, pipeline.Step{
			Name:    "gather",
			Target:  request.StateContextGathering,
			Timeout: c.cfg.Assembly.OverallTimeout.Duration(),
			Run:     c.gather,
		})
	}

	steps = append(steps, pipeline.Step{
		Name:    "process",
		Target:  request.StateProcessing,
		Timeout: c.cfg.Model.Timeout.Duration(),
		Run:     ps.process(c),
	})

	if shape.AllowsTools() {
		steps = append(steps, pipeline.Step{
			Name:    "tools",
			Target:  request.StateToolExecution,
			Timeout: c.cfg.Tools.Timeout.Duration(),
			Run:     ps.tools(c),
		})
	}

	steps = append(steps,
		pipeline.Step{Name: "format", Target: request.StateResponseFormatting, Run: ps.format},
		pipeline.Step{Name: "complete", Target: request.StateCompleted, Run: nil},
	)
	return steps
}

// validate enforces the request contract before any work starts.
func (c *Coordinator) validate(ctx context.Context, req *request.ProcessingRequest) error {
	if strings.TrimSpace(req.Payload) == "" {
		return fault.Validationf("request.validate", "payload must not be empty")
	}
	if len(req.Payload) > 1<<20 {
		return fault.Validationf("request.validate", "payload exceeds 1MiB")
	}
	if req.Type == "" {
		return fault.Validationf("request.validate", "type must be set")
	}
	return nil
}

// gather assembles the context bundle under the context pool.
func (c *Coordinator) gather(ctx context.Context, req *request.ProcessingRequest) error {
	return c.resources.With(ctx, resource.PoolContext, func(ctx context.Context) error {
		bundle, err := c.assembler.Assemble(ctx, source.Query{
			Text:           req.Payload,
			ConversationID: req.ConversationID,
			Workspace:      req.Workspace,
		})
		if err != nil {
			return err
		}
		req.Bundle = bundle
		return nil
	})
}

// processState carries intermediate model output between pipeline steps.
type processState struct {
	shape        router.Shape
	draft        string
	pendingCalls []model.ToolCall
	transcript   []string
}

// process runs the first model invocation for the request.
func (ps *processState) process(c *Coordinator) pipeline.RunFunc {
	return func(ctx context.Context, req *request.ProcessingRequest) error {
		resp, err := c.invokeModel(ctx, req, "")
		if err != nil {
			return err
		}
		ps.draft = resp.Text
		ps.pendingCalls = resp.ToolCalls
		return nil
	}
}

// tools runs the model-tool loop until the model stops asking for tools or
// the round budget runs out.
func (ps *processState) tools(c *Coordinator) pipeline.RunFunc {
	return func(ctx context.Context, req *request.ProcessingRequest) error {
		for round := 0; len(ps.pendingCalls) > 0; round++ {
			if round >= maxToolRounds {
				return fault.Internal("flow.tools",
					fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds))
			}

			outcomes, err := c.runTools(ctx, ps.pendingCalls)
			if err != nil {
				return err
			}
			ps.transcript = append(ps.transcript, outcomes...)

			resp, err := c.invokeModel(ctx, req, strings.Join(ps.transcript, "\n"))
			if err != nil {
				return err
			}
			ps.draft = resp.Text
			ps.pendingCalls = resp.ToolCalls
		}
		return nil
	}
}

// format settles the final output onto the request.
func (ps *processState) format(ctx context.Context, req *request.ProcessingRequest) error {
	out := strings.TrimSpace(ps.draft)
	if out == "" {
		return fault.Internal("flow.format", fmt.Errorf("model produced no output"))
	}
	req.Output = out
	return nil
}

// invokeModel calls the model under the model pool, its retry policy, and
// its breaker. toolResults, when set, is appended so the model can build
// on what the tools returned.
func (c *Coordinator) invokeModel(ctx context.Context, req *request.ProcessingRequest, toolResults string) (*model.Response, error) {
	var specs []model.ToolSpec
	if c.executor != nil {
		available, err := c.executor.List(ctx)
		if err == nil {
			for _, s := range available {
				specs = append(specs, model.ToolSpec{
					Name:        s.Name,
					Description: s.Description,
					Schema:      s.Schema,
				})
			}
		}
	}

	prompt := req.Payload
	if toolResults != "" {
		prompt = prompt + "\n\nTool results:\n" + toolResults
	}

	mreq := model.Request{
		Prompt:  prompt,
		Context: req.Bundle.Render(),
		Tools:   specs,
	}

	policy := c.policyFor(c.cfg.Retry.Model)
	var resp *model.Response
	err := c.resources.With(ctx, resource.PoolModel, func(ctx context.Context) error {
		return policy.Do(ctx, func(ctx context.Context) error {
			return c.breaker("model").Do(ctx, func(ctx context.Context) error {
				var gerr error
				resp, gerr = c.invoker.Generate(ctx, mreq)
				return gerr
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// runTools executes one round of tool calls under the tool pool.
func (c *Coordinator) runTools(ctx context.Context, calls []model.ToolCall) ([]string, error) {
	if c.executor == nil {
		return nil, fault.Internal("flow.tools",
			fmt.Errorf("model requested tools but no executor is configured"))
	}

	policy := c.policyFor(c.cfg.Retry.Tool)
	results := make([]string, 0, len(calls))
	for _, call := range calls {
		var outcome *tool.Outcome
		err := c.resources.With(ctx, resource.PoolTool, func(ctx context.Context) error {
			return policy.Do(ctx, func(ctx context.Context) error {
				return c.breaker("tool").Do(ctx, func(ctx context.Context) error {
					var terr error
					outcome, terr = c.executor.Execute(ctx, tool.Call{
						ID:        call.ID,
						Name:      call.Name,
						Arguments: call.Arguments,
					})
					return terr
				})
			})
		})
		if err != nil {
			return nil, err
		}
		status := "ok"
		if outcome.Failed {
			status = "failed"
		}
		results = append(results, fmt.Sprintf("[%s %s] %s", call.Name, status, outcome.Output))
	}
	return results, nil
}

// policyFor returns the configured retry policy, collapsed to a single
// attempt while the system is under pressure.
func (c *Coordinator) policyFor(cfg config.RetryPolicyConfig) resilience.Policy {
	p := resilience.PolicyFromConfig(cfg)
	if c.pressure != nil && c.pressure() {
		return p.Degraded()
	}
	return p
}

// breaker fetches a named breaker, or a pass-through when no registry is
// wired.
func (c *Coordinator) breaker(name string) breakerLike {
	if c.breakers == nil {
		return passThrough{}
	}
	return c.breakers.For(name)
}

type breakerLike interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type passThrough struct{}

func (passThrough) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// finish persists the terminal request and fans out bookkeeping: history
// gains the exchange and conversation caches are invalidated.
func (c *Coordinator) finish(ctx context.Context, req *request.ProcessingRequest) {
	if c.store != nil {
		policy := c.policyFor(c.cfg.Retry.Storage)
		if err := policy.Do(ctx, func(ctx context.Context) error {
			return c.store.SaveState(context.WithoutCancel(ctx), req)
		}); err != nil {
			c.log.Warn(ctx, "persisting request failed", zap.Error(err))
		}
	}

	if req.State != request.StateCompleted {
		return
	}

	if c.history != nil && req.ConversationID != "" {
		c.history.Append(req.ConversationID, "user", req.Payload)
		c.history.Append(req.ConversationID, "assistant", req.Output)
		if req.Bundle != nil {
			used := make([]string, 0, len(req.Bundle.Items))
			for _, it := range req.Bundle.Items {
				if it.Kind == source.KindHistory {
					used = append(used, it.Content)
				}
			}
			c.history.MarkUsed(req.ConversationID, used)
		}
	}

	if c.bus != nil && req.ConversationID != "" {
		if err := c.bus.Publish(ctx, events.Event{
			Type:      events.TypeConversationUpdated,
			Namespace: req.ConversationID,
			Detail:    req.ID,
		}); err != nil {
			c.log.Warn(ctx, "publishing conversation update failed", zap.Error(err))
		}
	}
}

// finishRejected records an admission failure as a failed request without
// running the pipeline.
func (c *Coordinator) finishRejected(ctx context.Context, req *request.ProcessingRequest, cause error) {
	req.Failure = &request.FailureRecord{
		From:     req.State,
		Target:   req.State,
		Cause:    cause.Error(),
		Code:     string(fault.KindOf(cause)),
		FailedAt: time.Now().UTC(),
	}
	req.State = request.StateFailed
	req.StatePath = append(req.StatePath, request.StateFailed)
	req.UpdatedAt = time.Now().UTC()
	c.finish(ctx, req)
	c.log.Warn(ctx, "request rejected at admission", zap.Error(cause))
}
