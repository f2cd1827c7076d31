package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/token"
)

// maxNotesPerConversation bounds the per-conversation scratch pad.
const maxNotesPerConversation = 50

// note is one scratch entry.
type note struct {
	Key     string
	Content string
	At      time.Time
}

// ScratchPad keeps short-lived working notes per conversation: intermediate
// results, decisions, and facts the agent wrote down for itself. It doubles
// as the scratch source adapter. Safe for concurrent use.
type ScratchPad struct {
	mu        sync.RWMutex
	notes     map[string][]*note
	estimator token.Estimator
}

// NewScratchPad creates an empty scratch pad.
func NewScratchPad(estimator token.Estimator) *ScratchPad {
	if estimator == nil {
		estimator = token.Heuristic{}
	}
	return &ScratchPad{
		notes:     make(map[string][]*note),
		estimator: estimator,
	}
}

// Put records or replaces a note under key for a conversation, evicting the
// oldest once the pad is full.
func (s *ScratchPad) Put(conversationID, key, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes := s.notes[conversationID]
	for _, n := range notes {
		if n.Key == key {
			n.Content = content
			n.At = time.Now().UTC()
			return
		}
	}
	notes = append(notes, &note{Key: key, Content: content, At: time.Now().UTC()})
	if len(notes) > maxNotesPerConversation {
		notes = notes[len(notes)-maxNotesPerConversation:]
	}
	s.notes[conversationID] = notes
}

// Clear drops every note for a conversation.
func (s *ScratchPad) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, conversationID)
}

// Kind implements Adapter.
func (s *ScratchPad) Kind() Kind { return KindScratch }

// Fetch implements Adapter. It returns the conversation's notes, newest
// last, scored by term overlap with the query text.
func (s *ScratchPad) Fetch(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.ConversationID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := s.notes[q.ConversationID]
	limit := limitOr(q)
	if len(notes) > limit {
		notes = notes[len(notes)-limit:]
	}

	queryTerms := termSet(q.Text)
	items := make([]Item, 0, len(notes))
	for _, n := range notes {
		items = append(items, Item{
			ID:        fmt.Sprintf("%s/scratch/%s", q.ConversationID, n.Key),
			Kind:      KindScratch,
			Content:   n.Content,
			Relevance: overlap(queryTerms, termSet(n.Content)),
			Tokens:    s.estimator.Estimate(n.Content),
			CreatedAt: n.At,
			Metadata:  map[string]string{"key": n.Key},
		})
	}
	return items, nil
}
