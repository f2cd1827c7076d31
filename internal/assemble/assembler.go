package assemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/contextcache"
	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/optimize"
	"github.com/fyrsmithlabs/agentd/internal/resilience"
	"github.com/fyrsmithlabs/agentd/internal/scrub"
	"github.com/fyrsmithlabs/agentd/internal/source"
)

// InstrumentationName identifies this package's tracer.
const InstrumentationName = "github.com/fyrsmithlabs/agentd/internal/assemble"

func tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// ErrAllSourcesFailed is wrapped into the dependency fault returned when
// no source produced anything usable.
var ErrAllSourcesFailed = errors.New("all context sources failed")

// Assembler coordinates fetch, scrub, optimize, and cache for one query.
type Assembler struct {
	adapters  []source.Adapter
	cfg       config.AssemblyConfig
	optimizer *optimize.Optimizer
	scrubber  *scrub.Scrubber
	cache     *contextcache.Cache
	breakers  *resilience.Registry
	log       *logging.Logger
}

// Option configures optional collaborators.
type Option func(*Assembler)

// WithCache attaches the layered result cache.
func WithCache(c *contextcache.Cache) Option {
	return func(a *Assembler) { a.cache = c }
}

// WithScrubber attaches secret scrubbing.
func WithScrubber(s *scrub.Scrubber) Option {
	return func(a *Assembler) { a.scrubber = s }
}

// WithBreakers gates each source behind a circuit breaker.
func WithBreakers(r *resilience.Registry) Option {
	return func(a *Assembler) { a.breakers = r }
}

// New creates an assembler over the given adapters.
func New(cfg config.AssemblyConfig, optimizer *optimize.Optimizer, adapters []source.Adapter, log *logging.Logger, opts ...Option) *Assembler {
	if log == nil {
		log = logging.NewNop()
	}
	a := &Assembler{
		adapters:  adapters,
		cfg:       cfg,
		optimizer: optimizer,
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// fetchResult carries one adapter's outcome across the fan-in.
type fetchResult struct {
	kind  source.Kind
	items []source.Item
	err   error
}

// Assemble produces a bundle for q.
//
// A cached bundle for the same query returns immediately. Otherwise every
// adapter fetches concurrently under its per-source deadline inside the
// overall deadline; sources that fail or time out contribute nothing, and
// partial results are normal. Only when every source fails does assembly
// return a dependency fault.
func (a *Assembler) Assemble(ctx context.Context, q source.Query) (*source.Bundle, error) {
	started := time.Now()
	ctx, span := tracer().Start(ctx, "assemble.Assemble",
		trace.WithAttributes(attribute.Int("assemble.sources", len(a.adapters))))
	defer span.End()

	key := a.cacheKey(q)
	if a.cache != nil {
		if raw, ok := a.cache.Get(ctx, key); ok {
			var bundle source.Bundle
			if err := json.Unmarshal(raw, &bundle); err == nil {
				span.SetAttributes(attribute.Bool("assemble.cache_hit", true))
				a.log.Debug(ctx, "assembly cache hit",
					zap.String("conversation", q.ConversationID))
				return &bundle, nil
			}
		}
	}

	overall := a.cfg.OverallTimeout.Duration()
	if overall <= 0 {
		overall = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	results := a.fanOut(ctx, q)

	var candidates []source.Item
	failures := 0
	for _, res := range results {
		if res.err != nil {
			failures++
			a.log.Warn(ctx, "context source failed",
				zap.String("source", string(res.kind)),
				zap.Error(res.err))
			continue
		}
		candidates = append(candidates, res.items...)
	}
	if len(a.adapters) > 0 && failures == len(a.adapters) {
		err := fault.Dependency("assemble",
			fmt.Errorf("%w: %d sources", ErrAllSourcesFailed, failures))
		span.RecordError(err)
		return nil, err
	}

	candidates = a.scrubItems(ctx, candidates)

	bundle := a.optimizer.Select(candidates, a.cfg.TokenBudget)
	bundle.AssembledIn = time.Since(started)

	if a.cache != nil && len(bundle.Items) > 0 {
		if raw, err := json.Marshal(bundle); err == nil {
			a.cache.Set(ctx, key, raw)
		}
	}

	span.SetAttributes(
		attribute.Int("assemble.selected", len(bundle.Items)),
		attribute.Int("assemble.tokens", bundle.TotalTokens),
		attribute.Bool("assemble.truncated", bundle.Truncated))
	a.log.Info(ctx, "context assembled",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(bundle.Items)),
		zap.Int("tokens", bundle.TotalTokens),
		zap.Bool("truncated", bundle.Truncated),
		zap.Duration("elapsed", bundle.AssembledIn))
	return bundle, nil
}

// fanOut runs every adapter concurrently and collects all outcomes.
func (a *Assembler) fanOut(ctx context.Context, q source.Query) []fetchResult {
	results := make([]fetchResult, len(a.adapters))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range a.adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			kind := adapter.Kind()
			perSource := a.cfg.SourceTimeoutFor(string(kind))
			if perSource <= 0 {
				perSource = 300 * time.Millisecond
			}
			fetchCtx, cancel := context.WithTimeout(gctx, perSource)
			defer cancel()

			items, err := a.fetchOne(fetchCtx, adapter, q)
			mu.Lock()
			results[i] = fetchResult{kind: kind, items: items, err: err}
			mu.Unlock()
			return nil // failures are per-source, never group-fatal
		})
	}
	_ = g.Wait()
	return results
}

// fetchOne runs a single adapter, through its breaker when one is
// registered.
func (a *Assembler) fetchOne(ctx context.Context, adapter source.Adapter, q source.Query) ([]source.Item, error) {
	if a.breakers == nil {
		return adapter.Fetch(ctx, q)
	}
	var items []source.Item
	err := a.breakers.For("source."+string(adapter.Kind())).Do(ctx, func(ctx context.Context) error {
		var ferr error
		items, ferr = adapter.Fetch(ctx, q)
		return ferr
	})
	return items, err
}

// scrubItems redacts secrets from candidate content before it can reach a
// prompt or a cache entry.
func (a *Assembler) scrubItems(ctx context.Context, items []source.Item) []source.Item {
	if a.scrubber == nil {
		return items
	}
	for i := range items {
		res := a.scrubber.Scrub(items[i].Content)
		if res.Redacted > 0 {
			items[i].Content = res.Content
			a.scrubber.LogResult(ctx, res, items[i].ID)
		}
	}
	return items
}

// cacheKey namespaces entries by conversation so a new turn can invalidate
// exactly the affected assemblies.
func (a *Assembler) cacheKey(q source.Query) string {
	namespace := q.ConversationID
	if namespace == "" {
		namespace = "global"
	}
	return contextcache.Key(namespace, "assemble", map[string]string{
		"query":     q.Text,
		"workspace": q.Workspace,
		"limit":     strconv.Itoa(q.Limit),
	})
}
