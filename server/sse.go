package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
)

// handleStream live-follows one line's received bytes over SSE, grounded
// on the teacher's handleStream: a connected event, a base64 catchup
// chunk, then base64 chunks as they arrive. The catchup comes from the
// hub's in-memory rolling buffer (adapted from sol.ScreenBuffer) rather
// than re-reading the transcript file, so it reflects exactly what the
// multiplexer has delivered regardless of log binding state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(r)
	if !ok {
		http.Error(w, "bad line index", http.StatusBadRequest)
		return
	}
	if _, ok := s.lineInfo(index); !ok {
		http.Error(w, "no such line", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: connected\ndata: %d\n\n", index)
	flusher.Flush()

	if catchup := s.hub.catchup(index); len(catchup) > 0 {
		fmt.Fprintf(w, "data: %s\n\n", base64.StdEncoding.EncodeToString(catchup))
		flusher.Flush()
	}

	ch, unsubscribe := s.hub.subscribe(index)
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", base64.StdEncoding.EncodeToString(data))
			flusher.Flush()
		}
	}
}
