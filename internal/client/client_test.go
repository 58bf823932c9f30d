package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/kiln/internal/api"
	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/generator"
	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/store"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Options
		wantErr bool
	}{
		{name: "nil options", opts: nil},
		{name: "valid options", opts: &Options{BaseURL: "http://example.com", Timeout: 10 * time.Second}},
		{name: "invalid base URL", opts: &Options{BaseURL: "://invalid-url"}, wantErr: true},
		{name: "unsupported scheme", opts: &Options{BaseURL: "ftp://example.com"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, c)
			}
		})
	}
}

// newKilnServer runs a real API server with fast job pacing.
func newKilnServer(t *testing.T) *Client {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	eng := engine.NewEngine(s, generator.NewDefaultRegistry(), engine.Options{
		Workers:   2,
		Steps:     3,
		StepDelay: 5 * time.Millisecond,
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	srv := httptest.NewServer(api.NewServer(":0", s, eng, logger).Router())
	t.Cleanup(srv.Close)

	c, err := New(&Options{BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestClient_SubmitAndWait(t *testing.T) {
	c := newKilnServer(t)
	ctx := context.Background()

	sub, err := c.Submit(ctx, "", model.Parameters{"radius": 1.5})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.JobID)
	assert.Equal(t, model.StatusPending, sub.Status)

	var seen []float64
	res, err := c.Wait(ctx, sub.JobID, 5*time.Millisecond, func(st *engine.StatusView) {
		seen = append(seen, st.Progress)
	})
	require.NoError(t, err)
	assert.True(t, res.Ready())
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Contains(t, string(res.Result), `"radius":1.5`)
	assert.IsNonDecreasing(t, seen)

	st, err := c.Status(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.Progress)
}

func TestClient_FailedJob(t *testing.T) {
	c := newKilnServer(t)
	ctx := context.Background()

	sub, err := c.Submit(ctx, generator.KindRadial, model.Parameters{"radius": 1e200})
	require.NoError(t, err)

	res, err := c.Wait(ctx, sub.JobID, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Result)
}

func TestClient_ValidationError(t *testing.T) {
	c := newKilnServer(t)

	_, err := c.Submit(context.Background(), generator.KindDigest, model.Parameters{"rounds": 2})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "parameters.text", apiErr.Field)
}

func TestClient_NotFound(t *testing.T) {
	c := newKilnServer(t)
	ctx := context.Background()

	_, err := c.Status(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = c.Result(ctx, "missing")
	assert.True(t, IsNotFound(err))

	_, err = c.Wait(ctx, "missing", time.Millisecond, nil)
	assert.True(t, IsNotFound(err))
}

func TestClient_ResultNotReady(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	eng := engine.NewEngine(s, generator.NewDefaultRegistry(), engine.Options{
		Workers:   1,
		Steps:     2,
		StepDelay: 200 * time.Millisecond,
	}, logger)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	srv := httptest.NewServer(api.NewServer(":0", s, eng, logger).Router())
	defer srv.Close()

	c, err := New(&Options{BaseURL: srv.URL})
	require.NoError(t, err)

	sub, err := c.Submit(context.Background(), "", model.Parameters{"radius": 1})
	require.NoError(t, err)

	res, err := c.Result(context.Background(), sub.JobID)
	require.NoError(t, err)
	assert.False(t, res.Ready())
	assert.Nil(t, res.Result)
}

func TestClient_WaitHonorsContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	eng := engine.NewEngine(s, generator.NewDefaultRegistry(), engine.Options{
		Workers:   1,
		Steps:     2,
		StepDelay: 300 * time.Millisecond,
	}, logger)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	srv := httptest.NewServer(api.NewServer(":0", s, eng, logger).Router())
	defer srv.Close()

	c, err := New(&Options{BaseURL: srv.URL})
	require.NoError(t, err)

	sub, err := c.Submit(context.Background(), "", model.Parameters{"radius": 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Wait(ctx, sub.JobID, 10*time.Millisecond, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ListGeneratorsAndStats(t *testing.T) {
	c := newKilnServer(t)
	ctx := context.Background()

	gens, err := c.Generators(ctx)
	require.NoError(t, err)
	assert.Equal(t, generator.KindRadial, gens.Default)
	require.Len(t, gens.Generators, 2)

	sub, err := c.Submit(ctx, generator.KindDigest, model.Parameters{"text": "abc"})
	require.NoError(t, err)
	_, err = c.Wait(ctx, sub.JobID, 5*time.Millisecond, nil)
	require.NoError(t, err)

	list, err := c.ListJobs(ctx, ListOptions{Kind: generator.KindDigest, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, sub.JobID, list.Jobs[0].ID)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[model.StatusCompleted])
}

func TestClient_ErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs/plain":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		case "/v1/jobs/garbled":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{invalid json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(&Options{BaseURL: srv.URL})
	require.NoError(t, err)

	t.Run("non-json error body", func(t *testing.T) {
		_, err := c.Status(context.Background(), "plain")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.Equal(t, "unknown error", apiErr.Message)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := c.Status(context.Background(), "garbled")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error decoding response")
	})
}
