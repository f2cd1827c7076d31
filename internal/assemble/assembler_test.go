package assemble

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/contextcache"
	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/optimize"
	"github.com/fyrsmithlabs/agentd/internal/resilience"
	"github.com/fyrsmithlabs/agentd/internal/source"
)

// fakeAdapter scripts one source's behavior.
type fakeAdapter struct {
	kind  source.Kind
	items []source.Item
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeAdapter) Kind() source.Kind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, q source.Query) ([]source.Item, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func fakeItem(id string, kind source.Kind, tokens int) source.Item {
	return source.Item{
		ID:        id,
		Kind:      kind,
		Content:   "content for " + id,
		Relevance: 0.8,
		Tokens:    tokens,
		CreatedAt: time.Now().UTC(),
	}
}

func testAssemblyConfig() config.AssemblyConfig {
	return config.AssemblyConfig{
		SourceTimeout:  config.Duration(100 * time.Millisecond),
		OverallTimeout: config.Duration(300 * time.Millisecond),
		TokenBudget:    1000,
	}
}

func testOptimizer() *optimize.Optimizer {
	return optimize.New(config.OptimizeConfig{
		Weights:             config.WeightsConfig{Match: 0.4, Recency: 0.3, Priority: 0.2, Prior: 0.1},
		RecencyHalfLife:     config.Duration(time.Hour),
		SimilarityThreshold: 0.9,
	})
}

func TestAssemblePartialFailureSucceeds(t *testing.T) {
	history := &fakeAdapter{kind: source.KindHistory, items: []source.Item{fakeItem("h1", source.KindHistory, 50)}}
	vector := &fakeAdapter{kind: source.KindVector, err: errors.New("store offline")}

	a := New(testAssemblyConfig(), testOptimizer(), []source.Adapter{history, vector}, nil)
	bundle, err := a.Assemble(context.Background(), source.Query{Text: "q", ConversationID: "c1"})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "h1", bundle.Items[0].ID)
	assert.Equal(t, 1, bundle.PerSource[source.KindHistory])
}

func TestAssembleAllSourcesFailed(t *testing.T) {
	down := errors.New("down")
	adapters := []source.Adapter{
		&fakeAdapter{kind: source.KindHistory, err: down},
		&fakeAdapter{kind: source.KindVector, err: down},
	}

	a := New(testAssemblyConfig(), testOptimizer(), adapters, nil)
	_, err := a.Assemble(context.Background(), source.Query{Text: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.Equal(t, fault.KindDependency, fault.KindOf(err))
}

func TestAssembleSlowSourceExcluded(t *testing.T) {
	fast := &fakeAdapter{kind: source.KindHistory, items: []source.Item{fakeItem("h1", source.KindHistory, 50)}}
	slow := &fakeAdapter{
		kind:  source.KindVector,
		items: []source.Item{fakeItem("v1", source.KindVector, 50)},
		delay: 250 * time.Millisecond, // past the 100ms per-source deadline
	}

	started := time.Now()
	a := New(testAssemblyConfig(), testOptimizer(), []source.Adapter{fast, slow}, nil)
	bundle, err := a.Assemble(context.Background(), source.Query{Text: "q"})
	require.NoError(t, err)

	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "h1", bundle.Items[0].ID)
	assert.Less(t, time.Since(started), 200*time.Millisecond,
		"a slow source must not stretch assembly past its own deadline")
}

func TestAssemblePerSourceTimeoutOverride(t *testing.T) {
	cfg := testAssemblyConfig()
	cfg.SourceTimeouts = map[string]config.Duration{
		"vector": config.Duration(10 * time.Millisecond),
	}
	slow := &fakeAdapter{
		kind:  source.KindVector,
		items: []source.Item{fakeItem("v1", source.KindVector, 50)},
		delay: 50 * time.Millisecond,
	}
	fast := &fakeAdapter{kind: source.KindHistory, items: []source.Item{fakeItem("h1", source.KindHistory, 50)}}

	a := New(cfg, testOptimizer(), []source.Adapter{fast, slow}, nil)
	bundle, err := a.Assemble(context.Background(), source.Query{Text: "q"})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "h1", bundle.Items[0].ID)
}

func TestAssembleCacheRoundTrip(t *testing.T) {
	cache := contextcache.NewWithLevels(nil, time.Minute,
		contextcache.NewMemoryBackend(16, time.Minute))
	history := &fakeAdapter{kind: source.KindHistory, items: []source.Item{fakeItem("h1", source.KindHistory, 50)}}

	a := New(testAssemblyConfig(), testOptimizer(), []source.Adapter{history}, nil, WithCache(cache))
	q := source.Query{Text: "q", ConversationID: "c1"}

	first, err := a.Assemble(context.Background(), q)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), history.calls.Load(), "second call served from cache")
	assert.Equal(t, first.Items, second.Items)

	// A different query misses.
	_, err = a.Assemble(context.Background(), source.Query{Text: "other", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), history.calls.Load())
}

func TestAssembleBreakerGatesFailingSource(t *testing.T) {
	registry := resilience.NewRegistry(config.BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         config.Duration(time.Minute),
	})
	failing := &fakeAdapter{kind: source.KindVector, err: errors.New("down")}
	healthy := &fakeAdapter{kind: source.KindHistory, items: []source.Item{fakeItem("h1", source.KindHistory, 50)}}

	a := New(testAssemblyConfig(), testOptimizer(), []source.Adapter{healthy, failing}, nil, WithBreakers(registry))
	ctx := context.Background()
	q := source.Query{Text: "q"}

	for i := 0; i < 3; i++ {
		_, err := a.Assemble(ctx, q)
		require.NoError(t, err, "healthy source keeps assembly working")
	}
	assert.Equal(t, int32(2), failing.calls.Load(),
		"open breaker stops calls after the threshold")
	assert.Equal(t, resilience.BreakerOpen, registry.For("source.vector").State())
}

func TestAssembleBudgetTruncation(t *testing.T) {
	cfg := testAssemblyConfig()
	cfg.TokenBudget = 60
	history := &fakeAdapter{kind: source.KindHistory, items: []source.Item{
		fakeItem("h1", source.KindHistory, 40),
		fakeItem("h2", source.KindHistory, 40),
	}}

	a := New(cfg, testOptimizer(), []source.Adapter{history}, nil)
	bundle, err := a.Assemble(context.Background(), source.Query{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, bundle.Items, 1)
	assert.True(t, bundle.Truncated)
	assert.LessOrEqual(t, bundle.TotalTokens, 60)
}

func TestAssembleNoAdapters(t *testing.T) {
	a := New(testAssemblyConfig(), testOptimizer(), nil, nil)
	bundle, err := a.Assemble(context.Background(), source.Query{Text: "q"})
	require.NoError(t, err)
	assert.Empty(t, bundle.Items)
}
