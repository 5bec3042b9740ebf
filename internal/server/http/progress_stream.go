package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixir/bibliometric-pipeline/internal/runner"
)

const (
	// sseKeepAliveInterval is how often a comment line is written to keep
	// proxies from closing an idle stream.
	sseKeepAliveInterval = 15 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// streamProgress handles GET /runs/{runID}/progress (SSE). Events are named
// progress, completed or error; the stream ends after the terminal event.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel, err := s.runs.Subscribe(r.Context(), run.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	deadline := time.NewTimer(sseMaxDuration)
	defer deadline.Stop()
	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadline.C:
			sendSSEEvent(w, flusher, runner.ProgressEvent{
				Type:      runner.EventError,
				RunID:     run.ID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now().UTC(),
			})
			return

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case e, open := <-events:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, e)
			if e.IsTerminal() {
				return
			}
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, e runner.ProgressEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	flusher.Flush()
}
