package source

import (
	"context"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/fyrsmithlabs/agentd/internal/token"
)

const vectorCollection = "agentd_context"

// VectorSource serves semantic recall from an embedded chromem vector
// store. chromem is pure Go with no external service, which keeps the
// daemon self-contained; persistence to disk is optional.
type VectorSource struct {
	collection *chromem.Collection
	estimator  token.Estimator
}

// NewVectorSource opens (or creates) the persistent store at path. An empty
// path keeps the store in memory, which tests rely on.
func NewVectorSource(path string, embed chromem.EmbeddingFunc, estimator token.Estimator) (*VectorSource, error) {
	if estimator == nil {
		estimator = token.Heuristic{}
	}

	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector store at %s: %w", path, err)
		}
	}

	col, err := db.GetOrCreateCollection(vectorCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	return &VectorSource{collection: col, estimator: estimator}, nil
}

// Add ingests a document for later recall.
func (v *VectorSource) Add(ctx context.Context, id, content string, metadata map[string]string) error {
	return v.collection.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	})
}

// Kind implements Adapter.
func (v *VectorSource) Kind() Kind { return KindVector }

// Fetch implements Adapter. Similarity from the store maps directly onto
// the item relevance score.
func (v *VectorSource) Fetch(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Text == "" {
		return nil, nil
	}

	// chromem rejects queries asking for more results than stored.
	n := limitOr(q)
	if count := v.collection.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := v.collection.Query(ctx, q.Text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	items := make([]Item, 0, len(results))
	for _, res := range results {
		created := time.Now().UTC()
		if ts, ok := res.Metadata["created_at"]; ok {
			if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
				created = parsed
			}
		}
		items = append(items, Item{
			ID:        res.ID,
			Kind:      KindVector,
			Content:   res.Content,
			Relevance: float64(res.Similarity),
			Tokens:    v.estimator.Estimate(res.Content),
			CreatedAt: created,
			Metadata:  res.Metadata,
		})
	}
	return items, nil
}
