package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/kiln/internal/generator"
	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/store"
)

// Default execution settings. Workers, QueueSize and Steps fall back to
// them when zero or negative. StepDelay falls back only when negative, as a
// zero delay is valid.
const (
	DefaultWorkers   = 16
	DefaultQueueSize = 1024
	DefaultSteps     = 10
	DefaultStepDelay = 500 * time.Millisecond
)

// Options tunes the worker pool and the default pacing of jobs. A
// generator profile may override Steps and StepDelay for its kind.
type Options struct {
	Workers   int
	QueueSize int
	Steps     int
	StepDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Steps <= 0 {
		o.Steps = DefaultSteps
	}
	if o.StepDelay < 0 {
		o.StepDelay = DefaultStepDelay
	}
	return o
}

// SubmitRequest is the input to Submit. An empty Kind selects the
// registry's default generator.
type SubmitRequest struct {
	Kind          string
	Parameters    model.Parameters
	CorrelationID string
}

// StatusView is what GetStatus reports for a job.
type StatusView struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// ResultView is what GetResult reports. Result is set only for completed
// jobs and Error only for failed ones; otherwise the job is not ready.
type ResultView struct {
	JobID    string          `json:"job_id"`
	Status   string          `json:"status"`
	Progress float64         `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Ready reports whether the job has finished, successfully or not.
func (v *ResultView) Ready() bool {
	return model.IsTerminal(v.Status)
}

// Engine orchestrates asynchronous job execution.
type Engine struct {
	store    store.Store
	registry *generator.Registry
	broker   *ProgressBroker
	pool     *Pool
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates an engine and starts its worker pool.
func NewEngine(s store.Store, reg *generator.Registry, opts Options, logger *slog.Logger) *Engine {
	e := &Engine{
		store:    s,
		registry: reg,
		broker:   NewProgressBroker(),
		opts:     opts.withDefaults(),
		logger:   logger,
	}
	e.pool = NewPool(e.opts.Workers, e.opts.QueueSize, e.execute, logger)
	e.pool.Start()
	return e
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *ProgressBroker {
	return e.broker
}

// Generators lists the registered generator profiles.
func (e *Engine) Generators() []generator.Profile {
	return e.registry.List()
}

// Submit validates req, stores a pending job and queues it for execution.
// It returns as soon as the job is queued; execution happens on the
// engine's workers and never on the caller's context.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	g, err := e.validateSubmission(req)
	if err != nil {
		return nil, err
	}
	kind := g.Profile().Name

	job, err := e.store.CreateJob(ctx, store.JobSpec{
		Kind:          kind,
		Parameters:    req.Parameters,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := e.pool.Submit(job.ID); err != nil {
		if derr := e.store.DeleteJob(context.Background(), job.ID); derr != nil {
			e.logger.Error("failed to roll back unqueued job", "job_id", job.ID, "error", derr)
		}
		return nil, fmt.Errorf("queue job: %w", err)
	}

	jobsSubmittedTotal.WithLabelValues(kind).Inc()
	e.logger.Debug("job submitted",
		"job_id", job.ID,
		"kind", kind,
		"correlation_id", req.CorrelationID,
	)
	return job, nil
}

// Status returns the current status and progress of a job. It never blocks
// on execution.
func (e *Engine) Status(ctx context.Context, id string) (*StatusView, error) {
	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Error:    j.Error,
	}, nil
}

// Result returns the job's outcome, or its status and progress while it is
// still pending or running.
func (e *Engine) Result(ctx context.Context, id string) (*ResultView, error) {
	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &ResultView{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
	}
	switch j.Status {
	case model.StatusCompleted:
		v.Result = j.Result
	case model.StatusFailed:
		v.Error = j.Error
	}
	return v, nil
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// reach a terminal status, or for ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.pool.Stop(ctx)
}

// DefaultKind returns the kind used when a submission names none.
func (e *Engine) DefaultKind() string {
	return e.registry.DefaultKind()
}

// QueueLength returns the number of jobs waiting for a worker.
func (e *Engine) QueueLength() int {
	return e.pool.QueueLength()
}
