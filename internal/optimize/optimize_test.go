package optimize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/source"
)

func testOptimizer(t *testing.T) (*Optimizer, time.Time) {
	t.Helper()
	o := New(config.OptimizeConfig{
		Weights: config.WeightsConfig{
			Match:    0.4,
			Recency:  0.3,
			Priority: 0.2,
			Prior:    0.1,
		},
		RecencyHalfLife:     config.Duration(time.Hour),
		SimilarityThreshold: 0.9,
	})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return now }
	return o, now
}

func item(id string, kind source.Kind, content string, relevance float64, tokens int, age time.Duration, now time.Time) source.Item {
	return source.Item{
		ID:        id,
		Kind:      kind,
		Content:   content,
		Relevance: relevance,
		Tokens:    tokens,
		CreatedAt: now.Add(-age),
	}
}

func TestScoreFactors(t *testing.T) {
	o, now := testOptimizer(t)

	fresh := item("a", source.KindHistory, "x", 1.0, 10, 0, now)
	assert.InDelta(t, 0.4*1.0+0.3*1.0+0.2*0.9+0.1*0, o.Score(fresh), 1e-9)

	halfLifeOld := item("b", source.KindVector, "x", 0.5, 10, time.Hour, now)
	assert.InDelta(t, 0.4*0.5+0.3*0.5+0.2*0.7, o.Score(halfLifeOld), 1e-9)

	used := fresh
	used.Metadata = map[string]string{"uses": "5"}
	assert.InDelta(t, o.Score(fresh)+0.1*0.5, o.Score(used), 1e-9)
}

func TestScoreClampsRelevance(t *testing.T) {
	o, now := testOptimizer(t)
	over := item("a", source.KindVector, "x", 1.7, 10, 0, now)
	capped := item("b", source.KindVector, "x", 1.0, 10, 0, now)
	assert.InDelta(t, o.Score(capped), o.Score(over), 1e-9)
}

func TestSelectRespectsBudget(t *testing.T) {
	o, now := testOptimizer(t)
	items := []source.Item{
		item("a", source.KindHistory, "alpha content", 0.9, 60, 0, now),
		item("b", source.KindHistory, "beta content", 0.8, 60, 0, now),
		item("c", source.KindHistory, "gamma content", 0.7, 60, 0, now),
	}

	b := o.Select(items, 130)
	assert.Len(t, b.Items, 2)
	assert.Equal(t, 120, b.TotalTokens)
	assert.True(t, b.Truncated)
	assert.Equal(t, "a", b.Items[0].ID)
	assert.Equal(t, "b", b.Items[1].ID)
}

func TestSelectSkipsOversizedButKeepsFilling(t *testing.T) {
	o, now := testOptimizer(t)
	items := []source.Item{
		item("big", source.KindHistory, "big content here", 0.95, 500, 0, now),
		item("small", source.KindHistory, "small content here", 0.5, 40, 0, now),
	}

	b := o.Select(items, 100)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "small", b.Items[0].ID, "oversized item is skipped, not terminal")
	assert.True(t, b.Truncated)
}

func TestSelectDeterministic(t *testing.T) {
	o, now := testOptimizer(t)
	items := []source.Item{
		item("b", source.KindVector, "one thing", 0.6, 30, time.Minute, now),
		item("a", source.KindHistory, "another thing", 0.6, 30, time.Minute, now),
		item("c", source.KindRepository, "third thing", 0.6, 30, time.Minute, now),
	}

	first := o.Select(items, 70)
	for i := 0; i < 5; i++ {
		again := o.Select(items, 70)
		assert.Equal(t, first.Items, again.Items)
	}
	// Equal scores break on source priority: history beats vector.
	assert.Equal(t, "a", first.Items[0].ID)
}

func TestSelectTieBreaksOnRecency(t *testing.T) {
	o, now := testOptimizer(t)
	older := item("old", source.KindVector, "same kind a", 0.5, 30, 2*time.Hour, now)
	newer := item("new", source.KindVector, "same kind b", 0.5, 30, 2*time.Hour, now)
	newer.CreatedAt = newer.CreatedAt.Add(time.Minute)
	// Equalize the recency factor out of the score by pinning both ages,
	// then compare rank order directly.
	ranked := o.rank([]source.Item{older, newer})
	if ranked[0].score == ranked[1].score {
		assert.Equal(t, "new", ranked[0].item.ID)
	} else {
		assert.Greater(t, ranked[0].score, ranked[1].score)
	}
}

func TestSelectCollapsesNearDuplicates(t *testing.T) {
	o, now := testOptimizer(t)
	items := []source.Item{
		item("a", source.KindVector, "the deploy script lives in scripts deploy sh", 0.6, 30, 0, now),
		item("b", source.KindVector, "the deploy script lives in scripts deploy sh", 0.9, 30, 0, now),
		item("c", source.KindVector, "completely different topic entirely", 0.5, 30, 0, now),
	}

	b := o.Select(items, 1000)
	require.Len(t, b.Items, 2)
	assert.Equal(t, "b", b.Items[0].ID, "higher-scoring duplicate wins")
	assert.False(t, b.Truncated, "dedup alone does not set truncated")
}

func TestSelectDiversity(t *testing.T) {
	o, now := testOptimizer(t)
	items := []source.Item{
		item("h1", source.KindHistory, "history one body", 0.95, 40, 0, now),
		item("h2", source.KindHistory, "history two body", 0.9, 40, 0, now),
		item("h3", source.KindHistory, "history three body", 0.85, 40, 0, now),
		item("v1", source.KindVector, "vector recall body", 0.4, 40, 0, now),
	}

	b := o.Select(items, 120)
	kinds := map[source.Kind]bool{}
	for _, it := range b.Items {
		kinds[it.Kind] = true
	}
	assert.GreaterOrEqual(t, len(kinds), 2, "bundle must draw from at least two kinds")
	assert.True(t, b.Truncated)
	assert.LessOrEqual(t, b.TotalTokens, 120)
}

func TestSelectSingleKindAvailable(t *testing.T) {
	o, now := testOptimizer(t)
	items := []source.Item{
		item("h1", source.KindHistory, "only history here", 0.9, 40, 0, now),
		item("h2", source.KindHistory, "more history here", 0.8, 40, 0, now),
	}
	b := o.Select(items, 1000)
	assert.Len(t, b.Items, 2, "diversity rule only applies when multiple kinds exist")
	assert.False(t, b.Truncated)
}

func TestSelectEmptyAndZeroBudget(t *testing.T) {
	o, now := testOptimizer(t)

	b := o.Select(nil, 100)
	assert.Empty(t, b.Items)
	assert.False(t, b.Truncated)
	assert.NotNil(t, b.PerSource)

	b = o.Select([]source.Item{item("a", source.KindHistory, "x", 1, 10, 0, now)}, 0)
	assert.Empty(t, b.Items)
}

func TestJaccard(t *testing.T) {
	a := termSet("the quick brown fox")
	b := termSet("the quick brown fox")
	c := termSet("entirely unrelated words")
	assert.Equal(t, 1.0, jaccard(a, b))
	assert.Equal(t, 0.0, jaccard(a, c))
	assert.Equal(t, 1.0, jaccard(termSet(""), termSet("")))
}
