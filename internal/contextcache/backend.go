package contextcache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Backend is one cache level. Implementations report misses with found ==
// false and reserve errors for level malfunction.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix drops every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// memoryBackend is the L1 in-process level, an LRU with per-cache TTL.
type memoryBackend struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryBackend creates the in-process level.
func NewMemoryBackend(size int, ttl time.Duration) Backend {
	if size < 1 {
		size = 128
	}
	return &memoryBackend{
		lru: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

func (m *memoryBackend) Name() string { return "memory" }

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.lru.Get(key)
	return value, ok, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

func (m *memoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.lru.Remove(key)
		}
	}
	return nil
}
