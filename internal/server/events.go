package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lazypower/aide/internal/orchestrator"
)

// handleEvents streams orchestrator events as server-sent events. A
// ?type= filter may be repeated.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: "streaming not supported"})
		return
	}

	want := map[orchestrator.EventType]bool{}
	for _, t := range r.URL.Query()["type"] {
		want[orchestrator.EventType(t)] = true
	}

	events, cancel := s.Orchestrator.Events().Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(s.opts.SSEKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if len(want) > 0 && !want[ev.Type] {
				continue
			}
			if err := writeSSEEvent(w, ev); err != nil {
				s.logger.Warn("event not encoded", "type", ev.Type, "err", err)
				continue
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
