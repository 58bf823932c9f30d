package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	var ran atomic.Int32
	p := NewPool(3, 10, func(string) { ran.Add(1) }, discardLogger())
	p.Start()

	for range 10 {
		require.NoError(t, p.Submit("job"))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(10), ran.Load())
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(1, 1, func(string) {
		started <- struct{}{}
		<-release
	}, discardLogger())
	p.Start()

	require.NoError(t, p.Submit("a"))
	<-started
	require.NoError(t, p.Submit("b"))
	assert.Equal(t, 1, p.QueueLength())
	assert.ErrorIs(t, p.Submit("c"), ErrQueueFull)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolStopTimeout(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	p := NewPool(1, 1, func(string) {
		once.Do(func() { close(started) })
		<-release
	}, discardLogger())
	p.Start()

	require.NoError(t, p.Submit("a"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, p.Submit("b"), ErrPoolStopped)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func queuedGauge(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, jobsQueued.Write(&m))
	return m.GetGauge().GetValue()
}

func TestPoolQueuedGaugeBalances(t *testing.T) {
	before := queuedGauge(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(1, 1, func(string) {
		started <- struct{}{}
		<-release
	}, discardLogger())
	p.Start()

	require.NoError(t, p.Submit("a"))
	<-started
	require.NoError(t, p.Submit("b"))
	assert.ErrorIs(t, p.Submit("c"), ErrQueueFull)
	assert.Equal(t, before+1, queuedGauge(t), "only the waiting job is counted")

	close(release)
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, before, queuedGauge(t))
}
