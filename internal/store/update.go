package store

import (
	"fmt"
	"math"
	"time"

	"github.com/seantiz/kiln/internal/model"
)

// applyMutation runs fn on a copy of cur and returns the validated
// replacement, stamped with now. cur itself is never modified.
func applyMutation(cur *model.Job, fn Mutation, now time.Time) (*model.Job, error) {
	if cur.Terminal() {
		return nil, fmt.Errorf("update job %s: %w", cur.ID, ErrTerminal)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	next.ID = cur.ID
	next.Kind = cur.Kind
	next.Parameters = cur.Parameters
	next.CorrelationID = cur.CorrelationID
	next.CreatedAt = cur.CreatedAt
	next.StartedAt = cur.StartedAt
	next.FinishedAt = cur.FinishedAt

	if err := checkUpdate(cur, next); err != nil {
		return nil, fmt.Errorf("update job %s: %w", cur.ID, err)
	}

	next.UpdatedAt = now
	if next.Status == model.StatusRunning && next.StartedAt == nil {
		next.StartedAt = &now
	}
	if next.Terminal() {
		next.FinishedAt = &now
	}
	return next, nil
}

// checkUpdate validates a proposed replacement of cur by next.
func checkUpdate(cur, next *model.Job) error {
	if next.Status != cur.Status || next.Status != model.StatusPending {
		if !model.ValidTransition(cur.Status, next.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
		}
	}

	if math.IsNaN(next.Progress) || next.Progress < 0 || next.Progress > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, next.Progress)
	}
	if next.Progress < cur.Progress {
		return fmt.Errorf("%w: %v < %v", ErrProgressRegression, next.Progress, cur.Progress)
	}

	switch next.Status {
	case model.StatusCompleted:
		if len(next.Result) == 0 || next.Error != "" || next.Progress != 1 {
			return fmt.Errorf("%w: completed requires a result, no error and progress 1", ErrInconsistentOutcome)
		}
	case model.StatusFailed:
		if next.Error == "" || next.Result != nil {
			return fmt.Errorf("%w: failed requires an error and no result", ErrInconsistentOutcome)
		}
	case model.StatusPending:
		if next.Progress != 0 {
			return fmt.Errorf("%w: pending job must have progress 0", ErrInvalidProgress)
		}
		fallthrough
	default:
		if next.Result != nil || next.Error != "" {
			return fmt.Errorf("%w: %s job cannot carry a result or error", ErrInconsistentOutcome, next.Status)
		}
	}
	return nil
}
