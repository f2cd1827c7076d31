package source

import (
	"time"
)

// Kind identifies a context source adapter type. The set is closed; adding
// a kind means adding an adapter implementation and a priority entry.
type Kind string

const (
	KindHistory    Kind = "history"
	KindVector     Kind = "vector"
	KindRepository Kind = "repository"
	KindScratch    Kind = "scratch"
)

// DefaultPriorities are the static per-source-type weights used by the
// optimizer's priority factor and its tie-breaks. Conversation history
// outranks scratch notes, which outrank semantic recall, which outranks
// repository signals.
var DefaultPriorities = map[Kind]float64{
	KindHistory:    0.9,
	KindScratch:    0.8,
	KindVector:     0.7,
	KindRepository: 0.5,
}

// Priority returns the static priority for k, or 0 for unknown kinds.
func (k Kind) Priority() float64 {
	return DefaultPriorities[k]
}

// Item is one candidate piece of context. Immutable once produced by an
// adapter.
type Item struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Relevance float64           `json:"relevance"` // adapter-reported, 0.0-1.0
	Tokens    int               `json:"tokens"`    // estimated token cost
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Bundle is the final, budget-constrained set of context items attached to
// a request.
type Bundle struct {
	Items       []Item        `json:"items"`
	TotalTokens int           `json:"total_tokens"`
	Truncated   bool          `json:"truncated"`
	PerSource   map[Kind]int  `json:"per_source"`
	AssembledIn time.Duration `json:"assembled_in"`
}

// CountPerSource recomputes the per-source item counts from Items.
func (b *Bundle) CountPerSource() {
	b.PerSource = make(map[Kind]int, 4)
	for _, it := range b.Items {
		b.PerSource[it.Kind]++
	}
}

// Render flattens the bundle into a prompt-ready block, most relevant first.
func (b *Bundle) Render() string {
	if b == nil || len(b.Items) == 0 {
		return ""
	}
	out := make([]byte, 0, b.TotalTokens*4)
	for _, it := range b.Items {
		out = append(out, "["...)
		out = append(out, string(it.Kind)...)
		out = append(out, "] "...)
		out = append(out, it.Content...)
		out = append(out, '\n')
	}
	return string(out)
}

// Query describes what context is being asked for.
type Query struct {
	Text           string
	ConversationID string
	Workspace      string
	Limit          int // max candidate items per source; 0 means adapter default
}
