package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tidytab/internal/core"
)

// handleTabEvents streams the tab aggregate as server-sent events: one
// snapshot on connect, then the latest state after every committed
// change. The connection stays open until the client goes away.
func (s *Server) handleTabEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if s.feed == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "change feed is not configured")
		return
	}

	// Membership gate doubles as the initial snapshot read.
	tab, err := s.tabs.GetTab(r.Context(), id, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Buffered so a slow client never blocks the publishing goroutine;
	// dropped events are harmless since every event carries full state.
	events := make(chan core.Tab, 8)
	errs := make(chan error, 1)
	unsubscribe := s.feed.Subscribe(id,
		func(updated core.Tab) {
			select {
			case events <- updated:
			default:
			}
		},
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
	defer unsubscribe()

	if err := writeSSETab(w, tab); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-errs:
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
			flusher.Flush()
			return
		case updated := <-events:
			if err := writeSSETab(w, updated); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSETab(w io.Writer, tab core.Tab) error {
	data, err := json.Marshal(tab)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
