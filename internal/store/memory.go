package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/kiln/internal/model"
)

// maxIDAttempts bounds how many fresh ids CreateJob tries before giving up.
const maxIDAttempts = 8

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store. Every read and write of a record
// happens under mu, and updates are applied to a copy that is validated
// before it replaces the stored record.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	newID func() string
	now   func() time.Time
}

type options struct {
	newID func() string
	now   func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithIDFunc overrides the id generator.
func WithIDFunc(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithClock overrides the time source used for timestamps.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		newID: model.NewID,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		jobs:  make(map[string]*model.Job),
		newID: o.newID,
		now:   o.now,
	}
}

// CreateJob inserts a pending job with progress 0 under a fresh id.
func (s *MemoryStore) CreateJob(ctx context.Context, spec JobSpec) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.allocateID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	j := &model.Job{
		ID:            id,
		Kind:          spec.Kind,
		Status:        model.StatusPending,
		Parameters:    model.Parameters{},
		CorrelationID: spec.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for k, v := range spec.Parameters {
		j.Parameters[k] = v
	}
	s.jobs[id] = j

	return j.Clone(), nil
}

// allocateID must be called with mu held.
func (s *MemoryStore) allocateID() (string, error) {
	for range maxIDAttempts {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, taken := s.jobs[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// GetJob returns a snapshot of the job.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// UpdateJob applies fn to a copy of the job and commits it if the result
// respects the lifecycle rules. Identity fields (id, kind, parameters,
// correlation id, created_at) and timestamps are owned by the store and
// cannot be changed by fn.
func (s *MemoryStore) UpdateJob(ctx context.Context, id string, fn Mutation) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	next, err := applyMutation(cur, fn, s.now())
	if err != nil {
		return nil, err
	}

	s.jobs[id] = next
	return next.Clone(), nil
}

// ListJobs returns jobs newest first, with the total number matching opts
// before pagination.
func (s *MemoryStore) ListJobs(ctx context.Context, opts ListOptions) ([]*model.Job, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	matched := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		matched = append(matched, j.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *model.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	total := len(matched)
	offset := min(max(opts.Offset, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(offset+opts.Limit, total)
	}
	return matched[offset:end], total, nil
}

// DeleteJob removes a job regardless of its status.
func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// EvictFinished removes terminal jobs that finished before the cutoff and
// returns their ids. Pending and running jobs are never evicted.
func (s *MemoryStore) EvictFinished(ctx context.Context, before time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, j := range s.jobs {
		if !j.Terminal() || j.FinishedAt == nil || !j.FinishedAt.Before(before) {
			continue
		}
		delete(s.jobs, id)
		evicted = append(evicted, id)
	}
	slices.Sort(evicted)
	return evicted, nil
}

// GetJobStats aggregates counts by status and kind plus the mean run time
// of finished jobs.
func (s *MemoryStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	var totalMS float64
	var finished int
	for _, j := range s.jobs {
		stats.Total++
		stats.CountByStatus[j.Status]++
		stats.CountByKind[j.Kind]++
		if d, ok := j.Duration(); ok {
			totalMS += float64(d) / float64(time.Millisecond)
			finished++
		}
	}
	if finished > 0 {
		stats.AvgDurationMS = totalMS / float64(finished)
	}
	return stats, nil
}
