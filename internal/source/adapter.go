package source

import (
	"context"
)

// Adapter is a pluggable provider of candidate context items.
//
// Fetch must honor the context deadline: return whatever is ready (possibly
// nothing) with an error rather than blocking past it. Items returned are
// immutable; the adapter must not retain or mutate them after returning.
type Adapter interface {
	Kind() Kind
	Fetch(ctx context.Context, q Query) ([]Item, error)
}

const defaultFetchLimit = 8

// limitOr returns q.Limit or the adapter default.
func limitOr(q Query) int {
	if q.Limit > 0 {
		return q.Limit
	}
	return defaultFetchLimit
}
