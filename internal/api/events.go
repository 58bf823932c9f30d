package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/model"
)

// handleStreamEvents streams a job's progress as server-sent events. Each
// change is sent as a "progress" event; the stream ends with a "done" event
// carrying the terminal state, or a "shutdown" event with the last known
// state when the server stops first.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.engine.Status(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err, "get job for events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if model.IsTerminal(st.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEJSON(w, "done", st)
		flush()
		return
	}

	// Long-lived stream: lift the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	sseStreamsActive.Inc()
	defer sseStreamsActive.Dec()

	w.WriteHeader(http.StatusOK)

	// Re-read after subscribing: a job that ended before Subscribe has no
	// topic to close, so its terminal state is only visible in the store.
	if cur, err := s.engine.Status(r.Context(), id); err == nil {
		st = cur
	}
	if model.IsTerminal(st.Status) {
		_ = writeSSEJSON(w, "done", st)
		flush()
		return
	}
	if err := writeSSEJSON(w, "progress", st); err != nil {
		return
	}
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				final, err := s.engine.Status(r.Context(), id)
				if err != nil {
					_ = writeSSEEvent(w, "done", "{}")
				} else {
					_ = writeSSEJSON(w, "done", final)
				}
				flush()
				return
			}
			if err := writeSSEJSON(w, "progress", progressView(ev)); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
		case <-s.streams.Done():
			cur, err := s.engine.Status(r.Context(), id)
			if err != nil {
				_ = writeSSEEvent(w, "shutdown", "{}")
			} else {
				_ = writeSSEJSON(w, "shutdown", cur)
			}
			flush()
			return
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func progressView(ev engine.ProgressEvent) *engine.StatusView {
	return &engine.StatusView{
		JobID:    ev.JobID,
		Status:   ev.Status,
		Progress: ev.Progress,
		Error:    ev.Error,
	}
}

// writeSSEJSON encodes v and writes it as a named event.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
// data must not contain newlines.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
