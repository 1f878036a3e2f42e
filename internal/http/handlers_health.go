package httpx

import (
	"io"
	"net/http"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// readyHandler reports the monitor's store health: 503 while reconciliation
// is failing or before the first snapshot.
func (h *Handlers) readyHandler(w http.ResponseWriter, r *http.Request) {
	health := h.Monitor.Health()
	status := http.StatusOK
	state := "ready"
	switch {
	case health.Degraded:
		status = http.StatusServiceUnavailable
		state = "degraded"
	case h.Monitor.Snapshot() == nil:
		status = http.StatusServiceUnavailable
		state = "starting"
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, readyResponse{Status: state, Store: health})
}
