package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentd/internal/fault"
	"github.com/fyrsmithlabs/agentd/internal/request"
)

func TestSaveAndLoad(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	req := request.New("chat", "hello")
	req.Output = "done"
	require.NoError(t, s.SaveState(ctx, req))

	loaded, err := s.LoadState(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, loaded.ID)
	assert.Equal(t, "done", loaded.Output)
	assert.Equal(t, request.StateReceived, loaded.State)
	assert.Equal(t, []request.State{request.StateReceived}, loaded.StatePath)
}

func TestLoadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.LoadState(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestSaveOverwrites(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	req := request.New("chat", "hello")
	require.NoError(t, s.SaveState(ctx, req))
	req.Output = "updated"
	require.NoError(t, s.SaveState(ctx, req))

	loaded, err := s.LoadState(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", loaded.Output)
}

func TestList(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	a := request.New("chat", "one")
	b := request.New("chat", "two")
	require.NoError(t, s.SaveState(ctx, a))
	require.NoError(t, s.SaveState(ctx, b))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a-b_c_d", sanitizeID("a-b/c.d"))
}
