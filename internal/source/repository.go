package source

import (
	"context"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fyrsmithlabs/agentd/internal/token"
)

// RepositorySource surfaces recent commit activity from a git workspace as
// context items. A request working inside a repository usually benefits
// from knowing what just changed there.
type RepositorySource struct {
	path      string
	estimator token.Estimator
}

// NewRepositorySource creates a repository source rooted at path. The
// repository is opened lazily per fetch so external changes (new commits,
// branch switches) are always visible.
func NewRepositorySource(path string, estimator token.Estimator) *RepositorySource {
	if estimator == nil {
		estimator = token.Heuristic{}
	}
	return &RepositorySource{path: path, estimator: estimator}
}

// Kind implements Adapter.
func (r *RepositorySource) Kind() Kind { return KindRepository }

// Fetch implements Adapter. It walks the log newest-first up to the query
// limit, checking the deadline between commits.
func (r *RepositorySource) Fetch(ctx context.Context, q Query) ([]Item, error) {
	path := q.Workspace
	if path == "" {
		path = r.path
	}
	if path == "" {
		return nil, nil
	}

	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		// Empty repository: nothing to contribute.
		return nil, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	limit := limitOr(q)
	items := make([]Item, 0, limit)
	for len(items) < limit {
		if err := ctx.Err(); err != nil {
			// Deadline hit mid-walk: return what we have.
			return items, nil
		}

		commit, err := iter.Next()
		if err != nil {
			break // end of log
		}
		items = append(items, r.itemFromCommit(commit))
	}
	return items, nil
}

func (r *RepositorySource) itemFromCommit(c *object.Commit) Item {
	summary := strings.SplitN(c.Message, "\n", 2)[0]
	content := fmt.Sprintf("commit %s by %s: %s", c.Hash.String()[:8], c.Author.Name, summary)
	return Item{
		ID:        c.Hash.String(),
		Kind:      KindRepository,
		Content:   content,
		Relevance: 0.5,
		Tokens:    r.estimator.Estimate(content),
		CreatedAt: c.Author.When.UTC(),
		Metadata: map[string]string{
			"author": c.Author.Email,
		},
	}
}
