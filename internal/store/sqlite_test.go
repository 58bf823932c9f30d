package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/kiln/internal/model"
)

func TestSQLiteReopenFailsUnfinishedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	assert.Zero(t, s.Interrupted())

	pending, err := s.CreateJob(ctx, makeTestSpec())
	require.NoError(t, err)
	running, err := s.CreateJob(ctx, makeTestSpec())
	require.NoError(t, err)
	_, err = s.UpdateJob(ctx, running.ID, setRunning)
	require.NoError(t, err)
	done, err := s.CreateJob(ctx, makeTestSpec())
	require.NoError(t, err)
	_, err = s.UpdateJob(ctx, done.ID, setRunning)
	require.NoError(t, err)
	_, err = s.UpdateJob(ctx, done.ID, complete)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	assert.Equal(t, 2, reopened.Interrupted())

	for _, id := range []string{pending.ID, running.ID} {
		got, err := reopened.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, got.Status)
		assert.Equal(t, interruptedError, got.Error)
		assert.Nil(t, got.Result)
		assert.NotNil(t, got.FinishedAt)
	}

	got, err := reopened.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))

	_, total, err := reopened.ListJobs(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSQLiteMemoryStoresArePrivate(t *testing.T) {
	ctx := context.Background()

	a, err := NewSQLiteStore(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := NewSQLiteStore(MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	j, err := a.CreateJob(ctx, makeTestSpec())
	require.NoError(t, err)

	_, err = b.GetJob(ctx, j.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
