package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/model"
	"github.com/seantiz/kiln/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitResponse is the body of a 202 from POST /v1/jobs.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// handleSubmitJob accepts the parameter map as the request body. The
// generator is chosen with ?kind=, defaulting to the registry default.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var params model.Parameters
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body must be a JSON object of parameters")
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "request body must contain a single JSON object")
		return
	}

	job, err := s.engine.Submit(r.Context(), engine.SubmitRequest{
		Kind:          r.URL.Query().Get("kind"),
		Parameters:    params,
		CorrelationID: GetCorrelationID(r.Context()),
	})
	if err != nil {
		s.writeEngineError(w, err, "submit job")
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	s.writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "get job status")
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleGetResult answers 200 once the job is terminal (with either result
// or error) and 202 with status and progress while it is not.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err, "get job result")
		return
	}

	status := http.StatusOK
	if !v.Ready() {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, v)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown status filter: "+status)
		return
	}

	jobs, total, err := s.store.ListJobs(r.Context(), store.ListOptions{
		Status: status,
		Kind:   r.URL.Query().Get("kind"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeEngineError maps engine and store errors to HTTP responses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error, op string) {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ve.Error(),
			"field": ve.Field,
		})
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, engine.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
	case errors.Is(err, engine.ErrPoolStopped):
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
