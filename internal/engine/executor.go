package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/kiln/internal/generator"
	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/store"
)

// execute drives one job from pending to a terminal status:
// pending→running, N timed steps with progress step/N, then the generator
// on step N. It always leaves the job completed or failed.
func (e *Engine) execute(id string) {
	defer e.broker.Close(id)
	ctx := context.Background()

	job, err := e.store.UpdateJob(ctx, id, func(j *model.Job) error {
		j.Status = model.StatusRunning
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("queued job disappeared before start", "job_id", id)
		return
	}
	if err != nil {
		e.logger.Error("failed to transition to running", "job_id", id, "error", err)
		e.finishFailed(ctx, id, e.logger, fmt.Sprintf("failed to start: %v", err))
		return
	}
	e.publish(job)

	log := e.logger.With("job_id", id, "kind", job.Kind, "correlation_id", job.CorrelationID)
	log.Info("job started")

	jobsRunning.Inc()
	defer jobsRunning.Dec()

	g, err := e.registry.Resolve(job.Kind)
	if err != nil {
		e.finishFailed(ctx, id, log, err.Error())
		return
	}

	steps, delay := e.pacing(g.Profile())
	for step := 1; step <= steps; step++ {
		time.Sleep(delay)

		if step < steps {
			progress := float64(step) / float64(steps)
			updated, err := e.store.UpdateJob(ctx, id, func(j *model.Job) error {
				j.Progress = progress
				return nil
			})
			if err != nil {
				log.Error("failed to record progress", "step", step, "error", err)
				continue
			}
			e.publish(updated)
			continue
		}

		payload, err := runGenerator(g, job.Parameters)
		if err != nil {
			e.finishFailed(ctx, id, log, err.Error())
			return
		}
		e.finishCompleted(ctx, id, log, payload)
	}
}

// pacing returns the step count and per-step delay for a generator,
// falling back to the engine defaults.
func (e *Engine) pacing(p generator.Profile) (int, time.Duration) {
	steps, delay := e.opts.Steps, e.opts.StepDelay
	if p.Steps > 0 {
		steps = p.Steps
	}
	if p.StepDelay > 0 {
		delay = p.StepDelay
	}
	return steps, delay
}

// runGenerator invokes g, turning panics and malformed payloads into
// *generator.ComputationError.
func runGenerator(g generator.Generator, params model.Parameters) (out json.RawMessage, err error) {
	kind := g.Profile().Name
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &generator.ComputationError{Kind: kind, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = g.Generate(params)
	if err != nil {
		var ce *generator.ComputationError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &generator.ComputationError{Kind: kind, Err: err}
	}
	if len(out) == 0 || !json.Valid(out) {
		return nil, &generator.ComputationError{Kind: kind, Err: errors.New("generator returned an invalid payload")}
	}
	return out, nil
}

// finishCompleted records the payload and progress 1 in a single update.
func (e *Engine) finishCompleted(ctx context.Context, id string, log *slog.Logger, payload json.RawMessage) {
	job, err := e.store.UpdateJob(ctx, id, func(j *model.Job) error {
		j.Status = model.StatusCompleted
		j.Progress = 1
		j.Result = payload
		return nil
	})
	if err != nil {
		log.Error("failed to update completed job", "error", err)
		e.finishFailed(ctx, id, log, fmt.Sprintf("failed to record result: %v", err))
		return
	}
	e.recordFinish(job)
	e.publish(job)
	log.Info("job completed", "duration_ms", durationMS(job))
}

// finishFailed marks a job failed with msg, leaving progress where it was.
func (e *Engine) finishFailed(ctx context.Context, id string, log *slog.Logger, msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	job, err := e.store.UpdateJob(ctx, id, func(j *model.Job) error {
		j.Status = model.StatusFailed
		j.Result = nil
		j.Error = msg
		return nil
	})
	if err != nil {
		log.Error("failed to update failed job", "error", err)
		return
	}
	e.recordFinish(job)
	e.publish(job)
	log.Warn("job failed", "error", msg, "duration_ms", durationMS(job))
}

func (e *Engine) recordFinish(j *model.Job) {
	jobsFinishedTotal.WithLabelValues(j.Kind, j.Status).Inc()
	if d, ok := j.Duration(); ok {
		jobDuration.WithLabelValues(j.Kind).Observe(d.Seconds())
	}
}

func (e *Engine) publish(j *model.Job) {
	e.broker.Publish(ProgressEvent{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Error:    j.Error,
	})
}

func durationMS(j *model.Job) int64 {
	d, _ := j.Duration()
	return d.Milliseconds()
}
