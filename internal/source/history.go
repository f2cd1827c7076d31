package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/token"
)

// maxTurnsPerConversation bounds the per-conversation ring buffer.
const maxTurnsPerConversation = 200

// Turn is one recorded conversation exchange.
type Turn struct {
	Role    string
	Content string
	At      time.Time
	Uses    int // how often this turn was included in a bundle
}

// HistoryStore keeps recent conversation turns in memory, per conversation.
// It doubles as the history source adapter. Safe for concurrent use.
type HistoryStore struct {
	mu        sync.RWMutex
	turns     map[string][]*Turn
	estimator token.Estimator
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore(estimator token.Estimator) *HistoryStore {
	if estimator == nil {
		estimator = token.Heuristic{}
	}
	return &HistoryStore{
		turns:     make(map[string][]*Turn),
		estimator: estimator,
	}
}

// Append records a turn for a conversation, evicting the oldest once the
// ring is full.
func (h *HistoryStore) Append(conversationID, role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := h.turns[conversationID]
	turns = append(turns, &Turn{Role: role, Content: content, At: time.Now().UTC()})
	if len(turns) > maxTurnsPerConversation {
		turns = turns[len(turns)-maxTurnsPerConversation:]
	}
	h.turns[conversationID] = turns
}

// MarkUsed increments the prior-interaction counter for the turns whose
// content was included in a bundle.
func (h *HistoryStore) MarkUsed(conversationID string, contents []string) {
	used := make(map[string]struct{}, len(contents))
	for _, c := range contents {
		used[c] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.turns[conversationID] {
		if _, ok := used[t.Content]; ok {
			t.Uses++
		}
	}
}

// Kind implements Adapter.
func (h *HistoryStore) Kind() Kind { return KindHistory }

// Fetch implements Adapter. It returns the most recent turns for the
// query's conversation, newest last, scored by term overlap with the query
// text.
func (h *HistoryStore) Fetch(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.ConversationID == "" {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := h.turns[q.ConversationID]
	limit := limitOr(q)
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	queryTerms := termSet(q.Text)
	items := make([]Item, 0, len(turns))
	for i, t := range turns {
		items = append(items, Item{
			ID:        fmt.Sprintf("%s/%d", q.ConversationID, i),
			Kind:      KindHistory,
			Content:   t.Content,
			Relevance: overlap(queryTerms, termSet(t.Content)),
			Tokens:    h.estimator.Estimate(t.Content),
			CreatedAt: t.At,
			Metadata: map[string]string{
				"role": t.Role,
				"uses": fmt.Sprintf("%d", t.Uses),
			},
		})
	}
	return items, nil
}

// termSet tokenizes text into a lowercase term set.
func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if len(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// overlap returns the fraction of query terms present in the candidate set.
func overlap(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := candidate[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
