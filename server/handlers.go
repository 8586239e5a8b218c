package server

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/irc-relay/sink"
	"github.com/onnwee/irc-relay/telemetry"
)

// TaskStatus is the read-only view of the relay task the handlers need.
type TaskStatus interface {
	State() sink.State
	Channels() []string
	Version() string
}

// Handlers serves the operational endpoints.
type Handlers struct {
	task TaskStatus
}

// HandleHealthz responds to liveness probes. The process answering is enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the relay holds a live connection.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	state := h.task.State()
	w.Header().Set("Content-Type", "application/json")
	if state != sink.StateJoined && state != sink.StateConnected {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready", "state": state.String()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus returns state, joined channels, version and whether spans are exported.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	channels := h.task.Channels()
	if channels == nil {
		channels = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":    h.task.State().String(),
		"channels": channels,
		"version":  h.task.Version(),
		"tracing":  telemetry.TracingEnabled(),
	})
}
