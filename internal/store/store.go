package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/kiln/internal/model"
)

var (
	// ErrNotFound is returned when no job exists for an id.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when a mutation targets a completed or failed job.
	ErrTerminal = errors.New("job is in a terminal state")

	// ErrInvalidTransition is returned when a job status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrProgressRegression is returned when a mutation would lower progress.
	ErrProgressRegression = errors.New("progress must not decrease")

	// ErrInvalidProgress is returned when progress falls outside [0, 1].
	ErrInvalidProgress = errors.New("progress out of range")

	// ErrInconsistentOutcome is returned when result/error do not match the status.
	ErrInconsistentOutcome = errors.New("result and error do not match status")

	// ErrIDExhausted is returned when no unused id could be allocated.
	ErrIDExhausted = errors.New("could not allocate a unique job id")
)

// JobSpec carries the fields a caller supplies when creating a job.
type JobSpec struct {
	Kind          string
	Parameters    model.Parameters
	CorrelationID string
}

// Mutation edits a private copy of a job. Returning an error aborts the
// update and leaves the stored job untouched.
type Mutation func(j *model.Job) error

// ListOptions filters and paginates ListJobs. Zero values mean no filter.
type ListOptions struct {
	Status string
	Kind   string
	Limit  int
	Offset int
}

// JobStats holds aggregate execution statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the operations on job records. Implementations return
// snapshots: callers may freely modify what they get back.
type Store interface {
	CreateJob(ctx context.Context, spec JobSpec) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, id string, fn Mutation) (*model.Job, error)
	ListJobs(ctx context.Context, opts ListOptions) ([]*model.Job, int, error)
	DeleteJob(ctx context.Context, id string) error
	EvictFinished(ctx context.Context, before time.Time) ([]string, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
}
