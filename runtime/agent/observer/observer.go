// Package observer exposes an action's event stream over HTTP using
// Server-Sent Events: a subscriber first receives a full snapshot of the
// action's current state, then every lifecycle event as it's published on
// the bus, with periodic pings to keep the connection alive through
// intermediaries that time out idle connections. Wire format follows the
// "event: <name>\ndata: <json>\n\n" framing used by the runtime's own SSE
// client (runtime/mcp/ssecaller.go).
package observer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/store"
)

// PingInterval bounds how long a subscriber connection may sit idle before a
// keepalive ping is sent. Each delivered event resets the timer, so a ping
// only fires after PingInterval of silence, not on a fixed schedule.
const PingInterval = 30 * time.Second

// Snapshot is the full current state an observer receives immediately upon
// subscribing, so a late joiner never misses prior task history.
type Snapshot struct {
	Action store.Action `json:"action"`
	Tasks  []store.Task `json:"tasks"`
}

// Handler serves an action's event stream over SSE.
type Handler struct {
	Store store.Store
	Bus   eventbus.Bus
}

// New constructs a Handler.
func New(st store.Store, bus eventbus.Bus) *Handler {
	return &Handler{Store: st, Bus: bus}
}

// ServeActionEvents handles GET /actions/{id}/events. actionID is supplied
// by the caller (extracted from the route by whatever router wires this
// handler in) rather than parsed here, so Handler stays router-agnostic.
func (h *Handler) ServeActionEvents(w http.ResponseWriter, r *http.Request, actionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	action, err := h.Store.GetAction(r.Context(), actionID)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, "action not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load action", http.StatusInternalServerError)
		return
	}
	tasks, err := h.Store.AllTasks(r.Context(), actionID)
	if err != nil {
		http.Error(w, "failed to load tasks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.Bus.Subscribe(actionID)
	defer sub.Close()

	if err := writeEvent(w, eventbus.NewSnapshotEvent(actionID, nowMillis(), Snapshot{Action: action, Tasks: tasks})); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
			ticker.Reset(PingInterval)
		case <-ticker.C:
			if err := writeEvent(w, eventbus.NewPingEvent(actionID, nowMillis())); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event eventbus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Name); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
