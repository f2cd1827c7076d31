// Package optimize scores, deduplicates, and selects context items against
// a token budget. Selection is deterministic: the same candidates and
// budget always produce the same bundle.
package optimize

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/source"
)

// Weights blends the four relevance factors. Callers validate that they
// sum to 1 before constructing an optimizer.
type Weights struct {
	Match    float64
	Recency  float64
	Priority float64
	Prior    float64
}

// Optimizer turns raw candidate items into a budget-constrained bundle.
type Optimizer struct {
	weights    Weights
	halfLife   time.Duration
	similarity float64
	now        func() time.Time // test hook
}

// New builds an optimizer from config.
func New(cfg config.OptimizeConfig) *Optimizer {
	halfLife := cfg.RecencyHalfLife.Duration()
	if halfLife <= 0 {
		halfLife = time.Hour
	}
	similarity := cfg.SimilarityThreshold
	if similarity <= 0 || similarity > 1 {
		similarity = 0.9
	}
	return &Optimizer{
		weights: Weights{
			Match:    cfg.Weights.Match,
			Recency:  cfg.Weights.Recency,
			Priority: cfg.Weights.Priority,
			Prior:    cfg.Weights.Prior,
		},
		halfLife:   halfLife,
		similarity: similarity,
		now:        time.Now,
	}
}

// scored pairs an item with its computed relevance.
type scored struct {
	item  source.Item
	score float64
}

// Score computes the blended relevance of one item. Exported so the router
// and tests can inspect individual factors through the same code path.
func (o *Optimizer) Score(it source.Item) float64 {
	return o.weights.Match*clamp01(it.Relevance) +
		o.weights.Recency*o.recency(it.CreatedAt) +
		o.weights.Priority*it.Kind.Priority() +
		o.weights.Prior*prior(it)
}

// recency decays exponentially with age; an item half-life old scores 0.5.
func (o *Optimizer) recency(createdAt time.Time) float64 {
	if createdAt.IsZero() {
		return 0
	}
	age := o.now().Sub(createdAt)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(o.halfLife))
}

// prior reads the usage counter adapters attach to items they have seen
// included before. Saturates at 10 uses.
func prior(it source.Item) float64 {
	raw, ok := it.Metadata["uses"]
	if !ok {
		return 0
	}
	uses, err := strconv.Atoi(raw)
	if err != nil || uses <= 0 {
		return 0
	}
	if uses > 10 {
		uses = 10
	}
	return float64(uses) / 10
}

// Select builds a bundle from candidates under the token budget.
//
// Near-duplicates collapse to the higher-scoring copy first. Items are
// then taken greedily by score; ties break on source priority, then on
// recency, then on ID so the result is stable. Items that do not fit are
// skipped rather than ending selection, and at least one surviving kind
// beyond the first is guaranteed a slot when more than one kind is
// available. Truncated is set when anything was dropped for budget.
func (o *Optimizer) Select(candidates []source.Item, budget int) *source.Bundle {
	bundle := &source.Bundle{Items: []source.Item{}}
	if len(candidates) == 0 || budget <= 0 {
		bundle.CountPerSource()
		return bundle
	}

	ranked := o.rank(o.collapse(candidates))

	kindsAvailable := map[source.Kind]bool{}
	for _, s := range ranked {
		kindsAvailable[s.item.Kind] = true
	}

	selected, used, dropped := pick(ranked, budget, "")

	// Diversity: a bundle drawn from multiple kinds must include at
	// least two of them. If the greedy pass collapsed onto one kind,
	// reserve budget for the best item of another kind and re-run.
	if len(kindsAvailable) > 1 && len(selected) > 0 && singleKind(selected) {
		primary := selected[0].item.Kind
		if alt, ok := bestOtherKind(ranked, primary); ok && alt.item.Tokens <= budget {
			selected, used, _ = pick(ranked, budget-alt.item.Tokens, alt.item.ID)
			selected = append(selected, alt)
			used += alt.item.Tokens
			dropped = true // the reservation displaced at least one item
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].score > selected[j].score
	})
	for _, s := range selected {
		bundle.Items = append(bundle.Items, s.item)
	}
	bundle.TotalTokens = used
	bundle.Truncated = dropped
	bundle.CountPerSource()
	return bundle
}

// rank sorts scored items best-first with deterministic tie-breaks.
func (o *Optimizer) rank(items []source.Item) []scored {
	ranked := make([]scored, 0, len(items))
	for _, it := range items {
		ranked = append(ranked, scored{item: it, score: o.Score(it)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if pa, pb := a.item.Kind.Priority(), b.item.Kind.Priority(); pa != pb {
			return pa > pb
		}
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.After(b.item.CreatedAt)
		}
		return a.item.ID < b.item.ID
	})
	return ranked
}

// pick greedily fills the budget from ranked items, skipping the item
// with excludeID so a caller-reserved item is not taken twice.
func pick(ranked []scored, budget int, excludeID string) (selected []scored, used int, dropped bool) {
	for _, s := range ranked {
		if excludeID != "" && s.item.ID == excludeID {
			continue
		}
		if used+s.item.Tokens > budget {
			dropped = true
			continue
		}
		selected = append(selected, s)
		used += s.item.Tokens
	}
	return selected, used, dropped
}

func singleKind(selected []scored) bool {
	for _, s := range selected[1:] {
		if s.item.Kind != selected[0].item.Kind {
			return false
		}
	}
	return true
}

// bestOtherKind finds the highest-ranked item of any kind other than
// primary.
func bestOtherKind(ranked []scored, primary source.Kind) (scored, bool) {
	for _, s := range ranked {
		if s.item.Kind != primary {
			return s, true
		}
	}
	return scored{}, false
}

// collapse removes near-duplicates, keeping the higher-scoring copy of
// each duplicate group. Similarity is token-set Jaccard over lowercased
// terms.
func (o *Optimizer) collapse(items []source.Item) []source.Item {
	kept := make([]source.Item, 0, len(items))
	keptTerms := make([]map[string]struct{}, 0, len(items))

	for _, it := range items {
		terms := termSet(it.Content)
		dup := false
		for i, prev := range keptTerms {
			if jaccard(terms, prev) >= o.similarity {
				// Keep whichever copy scores higher.
				if o.Score(it) > o.Score(kept[i]) {
					kept[i] = it
					keptTerms[i] = terms
				}
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, it)
			keptTerms = append(keptTerms, terms)
		}
	}
	return kept
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(tok, ".,;:!?\"'()[]{}")] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
