package client

import (
	"fmt"

	"github.com/seantiz/kiln/internal/generator"
	"github.com/seantiz/kiln/internal/model"
)

// SubmitResponse is returned when a job is accepted.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobList is one page of jobs, newest first.
type JobList struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// GeneratorList describes the registered generators.
type GeneratorList struct {
	Default    string              `json:"default"`
	Generators []generator.Profile `json:"generators"`
}

// Stats is the server's aggregate job view.
type Stats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByKind        map[string]int `json:"by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Queued        int            `json:"queued"`
}

// ListOptions filters ListJobs.
type ListOptions struct {
	Status string
	Kind   string
	Limit  int
	Offset int
}

// ErrorResponse is the JSON error body the server writes.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("server returned %d: %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}
