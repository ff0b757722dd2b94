package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/convograph/internal/services"
)

// streamThreadEvents streams a thread's events via SSE.
// Supports initial connection (replays all buffered events) and reconnection
// (replays from Last-Event-ID onward). The stream ends with a done event once
// the conversation completes or is cancelled.
func (s *Server) streamThreadEvents(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")

	if s.events == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}
	state, err := s.conversations.Get(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}

	// Parse Last-Event-ID for reconnection support.
	lastSeq := -1
	if idStr := r.Header.Get("Last-Event-ID"); idStr != "" {
		if n, err := strconv.Atoi(idStr); err == nil {
			lastSeq = n
		}
	}
	startSeq := lastSeq + 1

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	release := s.events.Watch(threadID)
	defer release()

	events, notify, done := s.events.Subscribe(threadID, startSeq)
	for _, ev := range events {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()

	// Buffers do not survive a restart; a finished thread still ends the
	// stream.
	if done || state.Status.Terminal() {
		writeDoneEvent(w, map[string]any{"thread_id": threadID, "status": string(state.Status)})
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-notify:
			startSeq += len(events)
			events, notify, done = s.events.Subscribe(threadID, startSeq)
			for _, ev := range events {
				writeSSEEvent(w, ev)
			}
			flusher.Flush()

			if done {
				payload := map[string]any{"thread_id": threadID}
				if st, err := s.conversations.Get(r.Context(), threadID); err == nil {
					payload["status"] = string(st.Status)
				}
				writeDoneEvent(w, payload)
				flusher.Flush()
				return
			}
		}
	}
}

// writeSSEEvent writes a single SSE event with sequence ID.
func writeSSEEvent(w http.ResponseWriter, ev services.EventRecord) {
	data, _ := json.Marshal(ev.Event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
}

// writeDoneEvent writes the final "done" SSE event.
func writeDoneEvent(w http.ResponseWriter, payload map[string]any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
}
