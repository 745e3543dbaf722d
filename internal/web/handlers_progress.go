package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/quizimport/internal/core"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 15 * time.Second

// handleProgress streams apply progress via Server-Sent Events.
//
// Each batch is a "progress" event whose id is the processed count; a client
// reconnecting with Last-Event-ID (or ?lastEventId=) skips what it has seen.
// The stream ends with a "complete" event carrying the outcome, or an empty
// object if the session has never been applied.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	lastID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastID, _ = strconv.Atoi(v)
	}

	progressCh, err := s.service.SubscribeProgress(sessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() bool { return rc.Flush() == nil }
	if !flush() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				s.writeComplete(w, r, sessionID)
				flush()
				return
			}
			if p.Processed <= lastID {
				continue
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.Processed, data)
			if !flush() {
				return
			}

		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			if !flush() {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeComplete(w http.ResponseWriter, r *http.Request, sessionID string) {
	data := []byte("{}")

	outcome, err := s.service.Result(r.Context(), sessionID)
	switch {
	case err == nil:
		data, _ = json.Marshal(outcome)
	case errors.Is(err, core.ErrNotApplied):
	default:
		msg := core.MapError(err)
		data, _ = json.Marshal(ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		return
	}
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}
