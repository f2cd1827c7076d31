package events

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	var mu sync.Mutex
	var got []Event

	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Subscribe(func(ctx context.Context, ev Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}))
	}

	require.NoError(t, bus.Publish(context.Background(), Event{
		Type:      TypeConversationUpdated,
		Namespace: "conv1",
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "conv1", got[0].Namespace)
	assert.False(t, got[0].At.IsZero(), "publish stamps the event")
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Subscribe(func(ctx context.Context, ev Event) {}))
}

func TestWatcherPublishesWorkspaceChange(t *testing.T) {
	dir := t.TempDir()
	bus := NewMemoryBus()

	events := make(chan Event, 4)
	require.NoError(t, bus.Subscribe(func(ctx context.Context, ev Event) {
		events <- ev
	}))

	w, err := NewWatcher(dir, bus, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// A burst of writes produces a single debounced event.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o600))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case ev := <-events:
		assert.Equal(t, TypeWorkspaceChanged, ev.Type)
		assert.Equal(t, dir, ev.Namespace)
	case <-time.After(3 * time.Second):
		t.Fatal("no workspace change event")
	}

	select {
	case <-events:
		t.Fatal("burst was not debounced")
	case <-time.After(debounceWindow * 2):
	}
}

func TestWatcherRejectsMissingPath(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), NewMemoryBus(), nil)
	assert.Error(t, err)
}
