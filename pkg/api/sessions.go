package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/raftsession/pkg/events"
	"github.com/cuemby/raftsession/pkg/session"
	"github.com/cuemby/raftsession/pkg/storage"
)

// sessionsHandler implements GET /sessions: a read-only list of every
// registered session's registration-half state, in the same shape
// persisted to storage.SessionRecord.
func (hs *HealthServer) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.node == nil {
		http.Error(w, "node not initialized", http.StatusServiceUnavailable)
		return
	}

	views := hs.node.SessionViews()
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

// sessionHandler implements GET /sessions/{id} and the long-poll
// GET /sessions/{id}/watch, which blocks until the next lifecycle event
// for that session (or the request times out) before returning.
func (hs *HealthServer) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.node == nil {
		http.Error(w, "node not initialized", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	watch := false
	if strings.HasSuffix(rest, "/watch") {
		watch = true
		rest = strings.TrimSuffix(rest, "/watch")
	}

	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if watch {
		hs.watchSession(w, r, session.ID(id))
		return
	}

	view, ok := hs.node.SessionView(session.ID(id))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// watchSession long-polls the node's operability event broker for the next
// lifecycle notice mentioning id, up to 30 seconds, then returns whatever
// the session's current state is (possibly unchanged, on timeout).
func (hs *HealthServer) watchSession(w http.ResponseWriter, r *http.Request, id session.ID) {
	sub := hs.node.EventBroker().Subscribe()
	defer hs.node.EventBroker().Unsubscribe(sub)

	idStr := strconv.FormatUint(uint64(id), 10)
	deadline := time.NewTimer(30 * time.Second)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				hs.respondCurrentView(w, id, nil)
				return
			}
			if ev.Metadata["session_id"] == idStr {
				hs.respondCurrentView(w, id, ev)
				return
			}
		case <-deadline.C:
			hs.respondCurrentView(w, id, nil)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (hs *HealthServer) respondCurrentView(w http.ResponseWriter, id session.ID, ev *events.Event) {
	view, ok := hs.node.SessionView(id)
	body := map[string]interface{}{"session": (*storage.SessionRecord)(nil)}
	if ok {
		body["session"] = view
	}
	if ev != nil {
		body["event"] = ev
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
