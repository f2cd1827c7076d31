// Package store persists finished requests to disk so operators can
// inspect what a request did after the fact. Persistence is best effort;
// a failed write is logged upstream, never surfaced to the caller.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/request"
)

// Store writes one JSON file per request under its root directory.
type Store struct {
	dir string
}

// New creates the store, making the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".json")
}

// SaveState writes the request snapshot. Write-then-rename keeps a crashed
// daemon from leaving a truncated record.
func (s *Store) SaveState(ctx context.Context, req *request.ProcessingRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fault.Internal("store.save", err)
	}

	path := s.path(req.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fault.Dependency("store.save", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fault.Dependency("store.save", err)
	}
	return nil
}

// LoadState reads one request back by ID.
func (s *Store) LoadState(ctx context.Context, id string) (*request.ProcessingRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, fault.Validationf("store.load", "no record for request %s", id)
	}
	if err != nil {
		return nil, fault.Dependency("store.load", err)
	}

	var req request.ProcessingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fault.Internal("store.load",
			fmt.Errorf("corrupt record for %s: %w", id, err))
	}
	return &req, nil
}

// List returns the stored request IDs, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fault.Dependency("store.list", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// sanitizeID keeps request IDs filesystem-safe. IDs are UUIDs in practice;
// this guards against a hand-crafted ID escaping the directory.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, id)
}
