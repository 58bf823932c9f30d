package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func finishedJob(t *testing.T, s store.Store) string {
	t.Helper()
	ctx := context.Background()
	j, err := s.CreateJob(ctx, store.JobSpec{Kind: "radial", Parameters: model.Parameters{"radius": 1.0}})
	require.NoError(t, err)
	_, err = s.UpdateJob(ctx, j.ID, func(m *model.Job) error {
		m.Status = model.StatusRunning
		return nil
	})
	require.NoError(t, err)
	_, err = s.UpdateJob(ctx, j.ID, func(m *model.Job) error {
		m.Status = model.StatusCompleted
		m.Progress = 1
		m.Result = json.RawMessage(`{}`)
		return nil
	})
	require.NoError(t, err)
	return j.ID
}

func TestSweepEvictsExpiredJobs(t *testing.T) {
	s := store.NewMemoryStore()
	broker := NewProgressBroker()
	ctx := context.Background()

	done := finishedJob(t, s)
	broker.Close(done)
	pending, err := s.CreateJob(ctx, store.JobSpec{Kind: "radial", Parameters: model.Parameters{"radius": 1.0}})
	require.NoError(t, err)

	sw := NewSweeper(s, broker, time.Minute, discardLogger())

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are kept")

	sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetJob(ctx, done)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(ctx, pending.ID)
	assert.NoError(t, err, "pending jobs are never evicted")

	// The closed marker is gone, so a new subscription is open.
	ch, unsub := broker.Subscribe(done)
	defer unsub()
	select {
	case _, ok := <-ch:
		assert.True(t, ok)
	default:
	}
}

func TestSweeperDisabled(t *testing.T) {
	s := store.NewMemoryStore()
	done := finishedJob(t, s)

	sw := NewSweeper(s, nil, 0, discardLogger())
	require.NoError(t, sw.Start("@every 1s"))
	assert.Nil(t, sw.cron)

	sw.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetJob(context.Background(), done)
	assert.NoError(t, err)
	sw.Stop(context.Background())
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sw := NewSweeper(store.NewMemoryStore(), nil, time.Minute, discardLogger())
	assert.Error(t, sw.Start("not a schedule"))
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	s := store.NewMemoryStore()
	done := finishedJob(t, s)

	sw := NewSweeper(s, nil, time.Millisecond, discardLogger())
	require.NoError(t, sw.Start("@every 1s"))
	t.Cleanup(func() { sw.Stop(context.Background()) })

	assert.Eventually(t, func() bool {
		_, err := s.GetJob(context.Background(), done)
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)
}
