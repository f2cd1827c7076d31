package contextcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// durableBackend is the L3 on-disk level. Entries survive restarts; TTL is
// enforced lazily at read time. Keys map to one file per entry, grouped in
// a directory per namespace so prefix invalidation is a directory removal.
type durableBackend struct {
	dir string
}

type durableEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// NewDurableBackend creates the durable level rooted at dir.
func NewDurableBackend(dir string) (Backend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &durableBackend{dir: dir}, nil
}

func (d *durableBackend) Name() string { return "durable" }

// path splits "namespace:hash" into dir/namespace/hash.json. Keys without
// a namespace land in a default bucket.
func (d *durableBackend) path(key string) string {
	namespace, hash, ok := strings.Cut(key, ":")
	if !ok {
		namespace, hash = "default", key
	}
	return filepath.Join(d.dir, sanitize(namespace), sanitize(hash)+".json")
}

func (d *durableBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry durableEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entry: treat as a miss and drop it.
		_ = os.Remove(d.path(key))
		return nil, false, nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		_ = os.Remove(d.path(key))
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (d *durableBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// Zero means no expiry; a negative ttl writes an already expired
	// entry, which the next Get treats as a miss.
	entry := durableEntry{Value: value}
	if ttl != 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	// Write-then-rename keeps readers from seeing partial entries.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (d *durableBackend) DeletePrefix(_ context.Context, prefix string) error {
	namespace, _, _ := strings.Cut(prefix, ":")
	return os.RemoveAll(filepath.Join(d.dir, sanitize(namespace)))
}

// sanitize keeps path components to a safe character set.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, s)
}
